package cmd

import (
	"github.com/spf13/cobra"
)

var churnCmd = &cobra.Command{
	Use:   "churn [YYYYMMDD|dir]",
	Short: "Updates the churn report of a generated consensus",
	Long: `Compares the consensus stored in the directory with a freshly fetched and validated consensus,
and rewrites churn.txt with the fingerprints of relays that are gone, moved or lost their exit flag.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		ctx, cancel := signalContext()
		defer cancel()

		u, done, err := newUpdater(cfg, log)
		check(log, err)
		defer done()
		check(log, u.RefreshChurn(ctx, documentDir(cfg, args)))
	},
	GroupID: "docs",
}

func init() {
	rootCmd.AddCommand(churnCmd)
}
