// Package compute bridges decoded task inputs and the trajectory optimizer:
// it parses parameters, routes solver output into per-task logs and
// normalizes failures.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/koson"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
)

// Adapter runs the optimizer for one task at a time. It is safe for
// concurrent use when the optimizer is.
type Adapter struct {
	opt      domain.Optimizer
	log      *slog.Logger
	taskLogs bool
}

// NewAdapter creates an Adapter. With taskLogs set, solver output is also
// kept in stdout.txt and stderr.txt of each task directory.
func NewAdapter(opt domain.Optimizer, log *slog.Logger, taskLogs bool) *Adapter {
	return &Adapter{opt: opt, log: log.With("component", "compute"), taskLogs: taskLogs}
}

// Backend names the optimizer in use.
func (a *Adapter) Backend() string { return a.opt.Name() }

// Run computes the trajectory for a discovered task directory.
func (a *Adapter) Run(ctx context.Context, task taskdir.Task) (domain.Trajectory, error) {
	return a.RunInput(ctx, task.Name, task.Dir, task.Input)
}

// RunInput parses input and computes its trajectory. dir is the task
// directory, or empty when there is none (direct mode).
func (a *Adapter) RunInput(ctx context.Context, name, dir string, input koson.Value) (domain.Trajectory, error) {
	p, err := ParseParameters(input)
	if err != nil {
		return domain.Trajectory{}, err
	}

	sink, err := OpenSink(a.log, name, dir, a.taskLogs && dir != "")
	if err != nil {
		return domain.Trajectory{}, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			a.log.Warn("closing task logs", "task", name, "error", cerr)
		}
	}()

	return a.Compute(ctx, name, sink, p)
}

// Compute invokes the optimizer with the sink's streams. Solver errors are
// wrapped with ErrComputationFailure and otherwise passed through as is.
func (a *Adapter) Compute(ctx context.Context, name string, sink *Sink, p domain.Parameters) (domain.Trajectory, error) {
	a.log.Info("computing gravity turn", "task", name, "backend", a.opt.Name(), "grid", p.GridSize)
	start := time.Now()

	t, err := a.opt.Optimize(ctx, p, sink.Diagnostics())
	if err == nil {
		err = t.Validate()
	}
	if err != nil {
		if !errors.Is(err, domain.ErrComputationFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrComputationFailure, err)
		}
		a.log.Warn("computation failed", "task", name, "error", err, "elapsed", time.Since(start))
		return domain.Trajectory{}, err
	}

	a.log.Info("computation finished", "task", name, "samples", t.Len(), "elapsed", time.Since(start))
	return t, nil
}
