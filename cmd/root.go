package cmd

import (
	"os"

	"github.com/encodeous/dirgen/state"
	"github.com/spf13/cobra"
)

var (
	configPath = state.DefaultConfigPath
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dirgen",
	Short: "Private Tor directory authority for small consensuses",
	Long: `dirgen synthesizes a small, signed Tor microdescriptor consensus from the live network.
It selects a stable subset of relays, signs a consensus naming only them with a private directory authority,
and keeps churn reports of previously published consensuses up to date.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "docs",
		Title: "Document Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ops",
		Title: "Operations",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "path to the dirgen config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
