package cmd

import (
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [YYYYMMDD|dir]",
	Short: "Generates a signed custom consensus and its microdescriptors",
	Long: `Fetches and validates the live consensus, selects a stable subset of relays using the MTBF
measured by the configured authority, then writes a consensus signed by the private authority and the
matching microdescriptors. The target directory must not exist and defaults to today's directory.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		if n, _ := cmd.Flags().GetInt("relays"); n > 0 {
			cfg.Consensus.Relays = n
		}
		ctx, cancel := signalContext()
		defer cancel()

		u, done, err := newUpdater(cfg, log)
		check(log, err)
		defer done()
		check(log, u.CreateDocuments(ctx, documentDir(cfg, args)))
	},
	GroupID: "docs",
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().IntP("relays", "n", 0, "number of relays, overrides consensus.relays")
}
