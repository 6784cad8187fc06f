package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/dirgen/core"
	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/state"
	"github.com/spf13/cobra"
)

var (
	verifyConsensus    string
	verifyCertificates []string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verifies the signatures of a consensus against certificate files",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		certPaths := verifyCertificates
		if len(certPaths) == 0 {
			certPaths = []string{cfg.Authority.CertificatePath()}
		}

		raw, err := os.ReadFile(verifyConsensus)
		check(log, err)
		doc, err := dirdoc.ParseConsensus(raw)
		check(log, err)
		certs, err := state.LoadCertificates(certPaths)
		check(log, err)

		check(log, core.NewValidator(log).RequireValid(doc, certs))
		fmt.Printf("%s is valid: %d relays, valid until %s\n", verifyConsensus, len(doc.Relays), dirdoc.FormatTime(doc.ValidUntil))
	},
	GroupID: "docs",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyConsensus, "consensus", "consensus.txt", "path to the consensus")
	verifyCmd.Flags().StringSliceVar(&verifyCertificates, "certificate", nil, "certificate files, defaults to the authority certificate")
}
