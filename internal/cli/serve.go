package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kos-tools/gturn/internal/daemon"
)

func init() {
	registerServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func registerServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("async", false, "Dispatch computations to a worker pool instead of running them inline")
	f.IntP("workers", "p", 1, "Concurrent computations in async mode")
	f.Bool("once", false, "Scan once, finish the dispatched tasks and exit")
	f.Int("cycles", 0, "Stop after this many scan cycles (0 = until interrupted)")
	f.Duration("interval", time.Second, "Pause between scan cycles")
	f.BoolP("indent", "i", false, "Indent written results")
	f.Bool("raw", false, "Also write output-raw.txt (tab-separated table)")
	f.Bool("task-logs", false, "Keep solver output in stdout.txt/stderr.txt of each task")
	f.String("backend", "", "Solver backend: auto, native, subprocess or mock")
	f.String("solver", "", "External solver command for the subprocess backend")
	f.Bool("status", false, "Serve the status API")
	f.String("host", "", "Status API host (overrides config)")
	f.Int("port", 0, "Status API port (overrides config)")
	f.Bool("no-history", false, "Do not record runs in the journal")
}

var serveCmd = &cobra.Command{
	Use:   "serve [DIR]",
	Short: "Watch a directory of task directories and compute their trajectories",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, args, &cfg); err != nil {
		return err
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	d, err := daemon.New(cfg, log, cmd.Root().Version)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}

// applyServeFlags overrides config values with the flags set on the
// command line.
func applyServeFlags(cmd *cobra.Command, args []string, cfg *daemon.Config) error {
	f := cmd.Flags()
	if len(args) == 1 {
		cfg.Server.WatchDir = args[0]
	}
	if f.Changed("async") {
		cfg.Server.Async, _ = f.GetBool("async")
	}
	if f.Changed("workers") {
		cfg.Server.Workers, _ = f.GetInt("workers")
		cfg.Server.Async = cfg.Server.Async || cfg.Server.Workers > 1
	}
	if f.Changed("cycles") {
		cfg.Server.Cycles, _ = f.GetInt("cycles")
	}
	if once, _ := f.GetBool("once"); once {
		cfg.Server.Cycles = 1
	}
	if f.Changed("interval") {
		d, _ := f.GetDuration("interval")
		cfg.Server.PollInterval = d.String()
	}
	if f.Changed("indent") {
		cfg.Output.Indent, _ = f.GetBool("indent")
	}
	if f.Changed("raw") {
		cfg.Output.RawTable, _ = f.GetBool("raw")
	}
	if f.Changed("task-logs") {
		cfg.Output.TaskLogs, _ = f.GetBool("task-logs")
	}
	if f.Changed("backend") {
		cfg.Solver.Backend, _ = f.GetString("backend")
	}
	if f.Changed("solver") {
		cfg.Solver.Command, _ = f.GetString("solver")
	}
	if f.Changed("status") {
		cfg.Status.Enabled, _ = f.GetBool("status")
	}
	if f.Changed("host") {
		cfg.Status.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Status.Port, _ = f.GetInt("port")
		cfg.Status.Enabled = true
	}
	if noHistory, _ := f.GetBool("no-history"); noHistory {
		cfg.History.Enabled = false
	}
	return cfg.Validate()
}
