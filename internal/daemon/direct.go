package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kos-tools/gturn/internal/app/compute"
	"github.com/kos-tools/gturn/internal/infra/koson"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
)

// DirectOptions configures a single-file computation.
type DirectOptions struct {
	Input  string // input file in kOS format
	Output string // result file; empty writes to Stdout
	Indent string
	Exec   string // shell command run after a successful write, with GTURN_OUTPUT set
	Stdout io.Writer
	Stderr io.Writer
}

// Direct loads one input file, computes its trajectory and writes the
// result. No lock files are checked or written. Every failure is returned.
func Direct(ctx context.Context, adapter *compute.Adapter, opts DirectOptions, log *slog.Logger) error {
	log = log.With("component", "direct")
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Exec != "" && opts.Output == "" {
		return fmt.Errorf("--exec requires an output file")
	}

	log.Info("processing file", "input", opts.Input, "backend", adapter.Backend())
	input, err := koson.ReadFile(opts.Input)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.Input, err)
	}

	name := strings.TrimSuffix(filepath.Base(opts.Input), filepath.Ext(opts.Input))
	traj, err := adapter.RunInput(ctx, name, "", input)
	if err != nil {
		return err
	}

	doc := koson.FromTrajectory(traj)
	if opts.Output == "" {
		log.Debug("writing results to stdout")
		return koson.Dump(opts.Stdout, doc, opts.Indent)
	}

	log.Debug("writing results", "output", opts.Output)
	data, err := koson.MarshalIndent(doc, opts.Indent)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.Output, err)
	}
	log.Info("results written", "output", opts.Output, "samples", traj.Len())

	if opts.Exec == "" {
		return nil
	}
	return runHook(ctx, opts, log)
}

// WriteRawTable writes the tab-separated table of a result file.
func WriteRawTable(path string, out io.Writer) error {
	v, err := koson.ReadFile(path)
	if err != nil {
		return err
	}
	t, err := koson.ToTrajectory(v)
	if err != nil {
		return err
	}
	return taskdir.WriteRawTable(out, t)
}

func runHook(ctx context.Context, opts DirectOptions, log *slog.Logger) error {
	out, err := filepath.Abs(opts.Output)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", opts.Exec)
	cmd.Env = append(os.Environ(), "GTURN_OUTPUT="+out)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	log.Info("running post-processing command", "command", opts.Exec)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("post-processing command: %w", err)
	}
	return nil
}
