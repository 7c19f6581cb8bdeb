package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/koson"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
	"github.com/kos-tools/gturn/internal/logging"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeOptimizer struct {
	out  domain.Trajectory
	err  error
	seen domain.Parameters
}

func (f *fakeOptimizer) Name() string { return "fake" }

func (f *fakeOptimizer) Optimize(_ context.Context, p domain.Parameters, diag domain.Diagnostics) (domain.Trajectory, error) {
	f.seen = p
	fmt.Fprintln(diag.Stdout, "iteration 1")
	fmt.Fprint(diag.Stderr, "warning: slow convergence")
	return f.out, f.err
}

func shortInput() koson.Value {
	m := koson.NewMap()
	for _, kv := range []struct {
		k string
		v float64
	}{
		{"m0", 1.5}, {"m1", 0.5}, {"g0", 9.81e-3}, {"r0", 600}, {"Isp", 300},
		{"Fmax", 0.06}, {"cd", 0.2}, {"A", 1}, {"H", 5.6}, {"rho", 1.2},
		{"h_obj", 80}, {"v_obj", 2.2}, {"q_obj", 1.5707963267948966},
	} {
		m.Set(kv.k, koson.Number(kv.v))
	}
	return koson.MapValue(m)
}

func withKey(v koson.Value, key string, val koson.Value) koson.Value {
	m, _ := v.AsMap()
	m.Set(key, val)
	return v
}

func okTrajectory() domain.Trajectory {
	var tr domain.Trajectory
	tr.Add(domain.ColTime, []float64{0, 1})
	tr.Add(domain.ColControl, []float64{1, 0})
	return tr
}

// ─── ParseParameters ────────────────────────────────────────────────────────

func TestParseParameters_ShortNamesAndDefaults(t *testing.T) {
	p, err := ParseParameters(shortInput())
	if err != nil {
		t.Fatalf("ParseParameters() error: %v", err)
	}
	if p.WetMass != 1.5 || p.SurfaceRadius != 600 || p.TargetAngle != 1.5707963267948966 {
		t.Errorf("parsed = %+v", p)
	}
	if p.GridSize != domain.DefaultGridSize || p.InitialSpeed != domain.DefaultInitialSpeed {
		t.Errorf("defaults not applied: N=%d vel_eps=%v", p.GridSize, p.InitialSpeed)
	}
}

func TestParseParameters_DescriptiveNames(t *testing.T) {
	in := shortInput()
	m, _ := in.AsMap()
	m.Delete("m0")
	m.Set("wet_mass", koson.Number(2))
	m.Set("grid_size", koson.Number(50))

	p, err := ParseParameters(in)
	if err != nil {
		t.Fatalf("ParseParameters() error: %v", err)
	}
	if p.WetMass != 2 || p.GridSize != 50 {
		t.Errorf("WetMass=%v GridSize=%d", p.WetMass, p.GridSize)
	}
}

func TestParseParameters_Errors(t *testing.T) {
	missing := shortInput()
	mm, _ := missing.AsMap()
	mm.Delete("Isp")
	mm.Delete("rho")

	tests := []struct {
		name    string
		input   koson.Value
		wantErr error
		wantMsg string
	}{
		{"not a map", koson.List(), domain.ErrInvalidParameter, "want a mapping"},
		{"missing", missing, domain.ErrMissingParameter, "specific_impulse, surface_density"},
		{"both forms", withKey(shortInput(), "wet_mass", koson.Number(1)), domain.ErrInvalidParameter, "both"},
		{"unknown key", withKey(shortInput(), "m2", koson.Number(1)), domain.ErrInvalidParameter, `"m2"`},
		{"string value", withKey(shortInput(), "cd", koson.String("0.2")), domain.ErrInvalidParameter, "want a number"},
		{"fractional grid", withKey(shortInput(), "N", koson.Number(10.5)), domain.ErrInvalidParameter, "grid_size"},
		{"zero initial speed", withKey(shortInput(), "vel_eps", koson.Number(0)), domain.ErrInvalidParameter, "initial_speed"},
		{"dry exceeds wet", withKey(shortInput(), "m1", koson.Number(3)), domain.ErrInvalidParameter, "dry_mass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParameters(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

// ─── Adapter ────────────────────────────────────────────────────────────────

func TestAdapter_RoutesDiagnostics(t *testing.T) {
	var logged bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logged, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opt := &fakeOptimizer{out: okTrajectory()}
	a := NewAdapter(opt, log, true)

	dir := t.TempDir()
	tr, err := a.Run(context.Background(), taskdir.Task{Name: "t1", Dir: dir, Input: shortInput()})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tr.Len())
	}
	if opt.seen.WetMass != 1.5 {
		t.Errorf("optimizer saw %+v", opt.seen)
	}

	out := logged.String()
	if !strings.Contains(out, `level=DEBUG msg="iteration 1" component=compute task=t1`) {
		t.Errorf("stdout line not logged at DEBUG with task tag:\n%s", out)
	}
	if !strings.Contains(out, `level=INFO msg="warning: slow convergence"`) {
		t.Errorf("stderr partial line not flushed at INFO:\n%s", out)
	}

	stdout, _ := os.ReadFile(filepath.Join(dir, taskdir.StdoutLog))
	stderr, _ := os.ReadFile(filepath.Join(dir, taskdir.StderrLog))
	if string(stdout) != "iteration 1\n" || string(stderr) != "warning: slow convergence" {
		t.Errorf("task logs: stdout=%q stderr=%q", stdout, stderr)
	}
}

func TestAdapter_NoTaskLogsWithoutDir(t *testing.T) {
	a := NewAdapter(&fakeOptimizer{out: okTrajectory()}, logging.Discard(), true)
	if _, err := a.RunInput(context.Background(), "direct", "", shortInput()); err != nil {
		t.Fatalf("RunInput() error: %v", err)
	}
}

func TestAdapter_WrapsFailures(t *testing.T) {
	var ragged domain.Trajectory
	ragged.Add(domain.ColTime, []float64{0, 1})
	ragged.Add(domain.ColMass, []float64{1})

	tests := []struct {
		name string
		opt  *fakeOptimizer
		also error
	}{
		{"solver error", &fakeOptimizer{err: errors.New("diverged")}, nil},
		{"already wrapped", &fakeOptimizer{err: fmt.Errorf("%w: infeasible", domain.ErrComputationFailure)}, nil},
		{"ragged result", &fakeOptimizer{out: ragged}, domain.ErrRaggedTrajectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(tt.opt, logging.Discard(), false)
			_, err := a.RunInput(context.Background(), "t", t.TempDir(), shortInput())
			if !errors.Is(err, domain.ErrComputationFailure) {
				t.Errorf("error = %v, want ErrComputationFailure", err)
			}
			if tt.also != nil && !errors.Is(err, tt.also) {
				t.Errorf("error = %v, want it to also wrap %v", err, tt.also)
			}
		})
	}
}

func TestAdapter_BadInputSkipsSolver(t *testing.T) {
	opt := &fakeOptimizer{out: okTrajectory()}
	a := NewAdapter(opt, logging.Discard(), true)
	dir := t.TempDir()
	_, err := a.RunInput(context.Background(), "t", dir, koson.String("nope"))
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("error = %v, want ErrInvalidParameter", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, taskdir.StdoutLog)); statErr == nil {
		t.Error("task log opened although the input was rejected")
	}
}
