package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Creates the private authority or renews its certificate",
	Long: `Creates the authority directory with tor-gencert when it does not exist, and issues a new
certificate once the current one has expired. The key password is read from the environment
variable named by certgen.password_env.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		ctx, cancel := signalContext()
		defer cancel()

		u, done, err := newUpdater(cfg, log)
		check(log, err)
		defer done()
		check(log, u.EnsureAuthority(ctx))

		signer, err := u.LoadSigner()
		check(log, err)
		fmt.Printf("%s %s\n", signer.Info.Name, signer.Cert.Fingerprint)
	},
	GroupID: "ops",
}

func init() {
	rootCmd.AddCommand(authorityCmd)
}
