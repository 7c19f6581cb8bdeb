package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kos-tools/gturn/internal/domain"
)

// ─── Mock Backend (dry runs and tests) ──────────────────────────────────────

// MockBackend returns a straight-line trajectory from the launch state to the
// target without solving anything. Delay simulates solver run time and Err,
// when set, is returned instead of a result.
type MockBackend struct {
	Delay time.Duration
	Err   error
}

// NewMockBackend creates a MockBackend that answers immediately.
func NewMockBackend() *MockBackend { return &MockBackend{} }

// Name implements domain.Optimizer.
func (m *MockBackend) Name() string { return "mock" }

// Optimize implements domain.Optimizer.
func (m *MockBackend) Optimize(ctx context.Context, p domain.Parameters, diag domain.Diagnostics) (domain.Trajectory, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.Trajectory{}, ctx.Err()
		case <-timer.C:
		}
	}
	if m.Err != nil {
		return domain.Trajectory{}, m.Err
	}
	fmt.Fprintf(diag.Stdout, "mock solver: %d intervals\n", p.GridSize)

	n := p.GridSize + 1
	lerp := func(a, b float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = a + (b-a)*float64(i)/float64(n-1)
		}
		return out
	}
	control := make([]float64, n)
	for i := 0; i < n-1; i++ {
		control[i] = 1
	}

	var t domain.Trajectory
	t.Add(domain.ColTime, lerp(0, minFinalTime))
	t.Add(domain.ColMass, lerp(p.WetMass, p.DryMass))
	t.Add(domain.ColSpeed, lerp(p.InitialSpeed, p.TargetSpeed))
	t.Add(domain.ColAltitude, lerp(0, p.TargetAltitude))
	t.Add(domain.ColControl, control)
	t.Add(domain.ColBodyCurvature, make([]float64, n))
	t.Add(domain.ColVerticalAngle, lerp(0, p.TargetAngle))
	return t, nil
}
