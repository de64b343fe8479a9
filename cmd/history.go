package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vugate/internal/config"
	"vugate/internal/report"
	"vugate/internal/storage"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "no runs recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tREQS\tFAILED\tP95 (ms)\tVERDICT\tTARGET")
		for _, it := range items {
			verdict := "pass"
			if !it.Passed {
				verdict = "FAIL"
			}
			if it.Interrupted {
				verdict += " (interrupted)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f%%\t%.1f\t%s\t%s\n",
				it.ID,
				it.StartedAt.Local().Format(time.DateTime),
				it.Duration.Round(time.Second),
				it.Requests,
				it.FailureRate*100,
				it.P95Ms,
				verdict,
				it.Target,
			)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print the stored summary of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		rep, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if historyJSON {
			return report.WriteJSON(cmd.OutOrStdout(), rep)
		}
		return report.Render(cmd.OutOrStdout(), rep)
	},
}

func openHistory() (*storage.Store, error) {
	path := historyDB
	if path == "" {
		var err error
		if path, err = config.HistoryPath(); err != nil {
			return nil, err
		}
	}
	return storage.Open(path)
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyDB, "history-db", "", "run history file (default $HOME/.vugate/history.db)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "show at most this many runs, 0 for all")
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "print the full report as JSON")
	historyCmd.AddCommand(historyShowCmd)
}
