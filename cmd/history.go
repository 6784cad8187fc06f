package cmd

import (
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists recorded runs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := setup()
		if cfg.History.Path == "" {
			check(log, fmt.Errorf("history.path is not configured"))
		}
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(cfg.History.Path)
		check(log, err)
		closeStore := sync.OnceFunc(func() { _ = store.Close() })
		onExit(closeStore)
		defer closeStore()
		runs, err := store.List(limit)
		check(log, err)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tDIRECTORY\tVALID-AFTER\tRELAYS\tCHURNED\tID")
		for _, r := range runs {
			validAfter := "-"
			if !r.ValidAfter.IsZero() {
				validAfter = dirdoc.FormatTime(r.ValidAfter)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.Time.Format(time.RFC3339), r.Kind, r.Directory, validAfter, r.Relays, r.Churned, r.ID)
		}
		check(log, w.Flush())
	},
	GroupID: "ops",
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list, 0 for all")
}
