package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kos-tools/gturn/internal/app/compute"
	"github.com/kos-tools/gturn/internal/daemon"
	"github.com/kos-tools/gturn/internal/infra/engine"
)

func init() {
	directCmd.Flags().StringVarP(&directOutput, "output", "o", "", "Write the result to this file instead of stdout")
	directCmd.Flags().BoolVarP(&directIndent, "indent", "i", false, "Indent the result")
	directCmd.Flags().StringVar(&directExec, "exec", "", "Shell command run after the result is written ($GTURN_OUTPUT holds its path)")
	directCmd.Flags().StringVar(&directBackend, "backend", "", "Solver backend: auto, native, subprocess or mock")
	rootCmd.AddCommand(directCmd)
}

var (
	directOutput  string
	directIndent  bool
	directExec    string
	directBackend string
)

var directCmd = &cobra.Command{
	Use:   "direct INPUT",
	Short: "Compute the trajectory for a single input file",
	Long: `Load INPUT, compute its gravity turn and write the result, then exit.
No lock files are checked or written.`,
	Args: cobra.ExactArgs(1),
	RunE: runDirect,
}

func runDirect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if directBackend != "" {
		cfg.Solver.Backend = directBackend
	}
	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	opt, err := engine.Select(cfg.EngineConfig(), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	indent := cfg.IndentString()
	if directIndent {
		indent = "  "
	}
	return daemon.Direct(ctx, compute.NewAdapter(opt, log, false), daemon.DirectOptions{
		Input:  args[0],
		Output: directOutput,
		Indent: indent,
		Exec:   directExec,
	}, log)
}
