package domain

import (
	"context"
	"io"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// Infrastructure implements them; the application layer depends on them.

// Diagnostics carries the two text streams a solver may write progress and
// warnings to. Either writer may be io.Discard but never nil.
type Diagnostics struct {
	Stdout io.Writer
	Stderr io.Writer
}

// DiscardDiagnostics drops all solver output.
func DiscardDiagnostics() Diagnostics {
	return Diagnostics{Stdout: io.Discard, Stderr: io.Discard}
}

// Optimizer computes an open-loop ascent trajectory. Implemented by
// infra/engine backends.
type Optimizer interface {
	// Optimize solves the ascent problem. It returns a trajectory whose
	// columns all have the same length, or an error wrapping
	// ErrComputationFailure when no feasible trajectory was found.
	Optimize(ctx context.Context, p Parameters, diag Diagnostics) (Trajectory, error)

	// Name identifies the backend in logs and the run journal.
	Name() string
}
