// Package cli implements the gturn command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gturn",
	Short: "gturn: gravity turn trajectories for kOS",
	Long: `gturn computes fuel-optimal gravity turn ascent trajectories.

In server mode it watches a directory of task directories. A task directory
holds input.json (kOS serialization format) and receives output.json once
the computation is done. input.lock holds a task back; output.lock is present
while output.json is being written. A failed computation leaves error.json;
delete it to retry the task.

In direct mode it computes a single input file and exits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	logLevel  string
	logFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
