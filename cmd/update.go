package cmd

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Builds or updates the directory structure for today",
	Long: `Ensures a valid authority, generates today's consensus if it does not exist yet, and refreshes
the churn reports of today's consensus and of every consensus generated within the validity period.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		if dir, _ := cmd.Flags().GetString("authority-directory"); dir != "" {
			cfg.Authority.Directory = dir
		}
		if dir, _ := cmd.Flags().GetString("root-directory"); dir != "" {
			cfg.Directory.Root = dir
		}
		ctx, cancel := signalContext()
		defer cancel()

		u, done, err := newUpdater(cfg, log)
		check(log, err)
		defer done()
		check(log, u.Update(ctx))
	},
	GroupID: "ops",
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().String("authority-directory", "", "directory containing files related to the directory authority")
	updateCmd.Flags().String("root-directory", "", "directory containing up-to-date documents")
}
