package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kos-tools/gturn/internal/daemon"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show RESULT",
	Short: "Print a result file as a tab-separated table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemon.WriteRawTable(args[0], os.Stdout)
	},
}
