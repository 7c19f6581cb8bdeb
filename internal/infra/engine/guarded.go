package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/healing"
	"github.com/kos-tools/gturn/internal/infra/metrics"
)

// GuardedBackend runs an external solver behind a circuit breaker. After
// repeated solver failures the circuit opens: tasks then go to the fallback
// when one is set, and fail fast otherwise, until a probe succeeds.
type GuardedBackend struct {
	primary  domain.Optimizer
	fallback domain.Optimizer
	breaker  *healing.Breaker
	log      *slog.Logger
}

// NewGuardedBackend wraps primary. fallback may be nil.
func NewGuardedBackend(primary, fallback domain.Optimizer, cfg healing.Config, log *slog.Logger) *GuardedBackend {
	g := &GuardedBackend{
		primary:  primary,
		fallback: fallback,
		breaker:  healing.New(primary.Name(), cfg),
		log:      log.With("component", "engine"),
	}
	metrics.SolverCircuitState.WithLabelValues(primary.Name()).Set(float64(healing.Closed))
	g.breaker.OnStateChange(func(name string, from, to healing.State) {
		metrics.SolverCircuitState.WithLabelValues(name).Set(float64(to))
		g.log.Warn("solver circuit changed state", "backend", name, "from", from, "to", to)
	})
	return g
}

// Name implements domain.Optimizer.
func (g *GuardedBackend) Name() string { return g.primary.Name() }

// Breaker exposes the circuit breaker state.
func (g *GuardedBackend) Breaker() healing.Snapshot { return g.breaker.Snapshot() }

// CheckCircuit fails while the circuit is open. Used as a health check.
func (g *GuardedBackend) CheckCircuit(context.Context) error {
	s := g.breaker.Snapshot()
	if s.State != healing.Open.String() {
		return nil
	}
	return fmt.Errorf("%s circuit open since %s after %d failures",
		s.Name, s.TrippedAt.Format(time.RFC3339), s.Failures)
}

// Optimize implements domain.Optimizer.
func (g *GuardedBackend) Optimize(ctx context.Context, p domain.Parameters, diag domain.Diagnostics) (domain.Trajectory, error) {
	var t domain.Trajectory
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		t, err = g.primary.Optimize(ctx, p, diag)
		return err
	})
	if !errors.Is(err, healing.ErrCircuitOpen) {
		return t, err
	}
	if g.fallback == nil {
		return domain.Trajectory{}, fmt.Errorf("%w: %w", domain.ErrComputationFailure, err)
	}
	fmt.Fprintf(diag.Stderr, "%s unavailable (circuit open), using %s\n", g.primary.Name(), g.fallback.Name())
	return g.fallback.Optimize(ctx, p, diag)
}
