package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kos-tools/gturn/internal/infra/taskdir"
)

func init() {
	rootCmd.AddCommand(tasksCmd)
}

var tasksCmd = &cobra.Command{
	Use:     "tasks [DIR]",
	Aliases: []string{"ls"},
	Short:   "List the task directories of a watched directory and their state",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runTasks,
}

func runTasks(cmd *cobra.Command, args []string) error {
	root := ""
	if len(args) == 1 {
		root = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root = cfg.Server.WatchDir
	}

	entries, err := taskdir.Inspect(root)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No task directories in %s.\n", root)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATE\tMODIFIED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			e.Name,
			e.State,
			e.Modified.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}
