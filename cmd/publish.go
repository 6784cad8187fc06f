package cmd

import (
	"fmt"

	"github.com/encodeous/dirgen/publish"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish [YYYYMMDD|dir]",
	Short: "Uploads a document directory to S3",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		ctx, cancel := signalContext()
		defer cancel()

		p, err := publish.NewS3Publisher(ctx, cfg.Publish.Bucket, cfg.Publish.Prefix, log)
		check(log, err)
		keys, err := p.PublishDir(ctx, documentDir(cfg, args))
		check(log, err)
		for _, k := range keys {
			fmt.Printf("s3://%s/%s\n", cfg.Publish.Bucket, k)
		}
	},
	GroupID: "ops",
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
