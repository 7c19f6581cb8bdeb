package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kos-tools/gturn/internal/daemon"
	"github.com/kos-tools/gturn/internal/infra/sqlite"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [TASK]",
	Short: "Show recent computation runs from the journal",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := sqlite.Open(daemon.Home())
	if err != nil {
		return err
	}
	defer db.Close()

	task := ""
	if len(args) == 1 {
		task = args[0]
	}
	runs, err := db.RecentRuns(context.Background(), task, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet. Start one with 'gturn serve DIR'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATE\tMODE\tSTARTED\tDURATION\tATTEMPT\tERROR")
	for _, r := range runs {
		dur := "-"
		if d := r.Duration(); d > 0 {
			dur = d.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Task,
			r.State,
			r.Mode,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			dur,
			r.ID[:min(8, len(r.ID))],
			r.Error,
		)
	}
	return w.Flush()
}
