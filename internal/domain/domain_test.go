package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

// ─── Task Tests ─────────────────────────────────────────────────────────────

func TestTaskState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskDiscovered, false},
		{TaskDispatched, false},
		{TaskCompleted, true},
		{TaskFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestTaskRun_Duration(t *testing.T) {
	start := time.Now()
	run := TaskRun{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	if d := run.Duration(); d != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", d)
	}

	running := TaskRun{StartedAt: start}
	if d := running.Duration(); d != 0 {
		t.Errorf("Duration() of running task = %v, want 0", d)
	}
}

// ─── Trajectory Tests ───────────────────────────────────────────────────────

func TestTrajectory_Validate(t *testing.T) {
	var ok Trajectory
	ok.Add(ColTime, []float64{0, 1, 2})
	ok.Add(ColMass, []float64{10, 9, 8})
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if ok.Len() != 3 {
		t.Errorf("Len() = %d, want 3", ok.Len())
	}

	var ragged Trajectory
	ragged.Add(ColTime, []float64{0, 1, 2})
	ragged.Add(ColMass, []float64{10, 9})
	if err := ragged.Validate(); !errors.Is(err, ErrRaggedTrajectory) {
		t.Errorf("Validate() = %v, want ErrRaggedTrajectory", err)
	}

	var dup Trajectory
	dup.Add(ColTime, []float64{0})
	dup.Add(ColTime, []float64{1})
	if err := dup.Validate(); !errors.Is(err, ErrRaggedTrajectory) {
		t.Errorf("Validate() duplicate = %v, want ErrRaggedTrajectory", err)
	}
}

func TestTrajectory_SortedNames(t *testing.T) {
	var tr Trajectory
	for _, name := range TrajectoryColumns {
		tr.Add(name, nil)
	}
	got := tr.SortedNames()
	want := []string{"altitude", "body_curvature", "control", "mass", "speed", "time", "vertical_angle"}
	if len(got) != len(want) {
		t.Fatalf("SortedNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	// Column order itself is untouched.
	if tr.Columns[0].Name != ColTime {
		t.Errorf("Columns[0] = %q, want %q", tr.Columns[0].Name, ColTime)
	}
}

// ─── Parameter Tests ────────────────────────────────────────────────────────

func validParameters() Parameters {
	return Parameters{
		WetMass:         10,
		DryMass:         2,
		SurfaceGravity:  9.81e-3,
		SurfaceRadius:   600,
		SpecificImpulse: 300,
		MaxThrust:       0.3,
		DragCoefficient: 0.2,
		ReferenceArea:   1,
		ScaleHeight:     5.6,
		SurfaceDensity:  1.2,
		TargetAltitude:  80,
		TargetSpeed:     2.2,
		TargetAngle:     math.Pi / 2,
		GridSize:        DefaultGridSize,
		InitialSpeed:    DefaultInitialSpeed,
	}
}

func TestParameters_Validate(t *testing.T) {
	if err := validParameters().Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero wet mass", func(p *Parameters) { p.WetMass = 0 }},
		{"dry above wet", func(p *Parameters) { p.DryMass = 11 }},
		{"negative drag", func(p *Parameters) { p.DragCoefficient = -1 }},
		{"nan gravity", func(p *Parameters) { p.SurfaceGravity = math.NaN() }},
		{"angle beyond pi", func(p *Parameters) { p.TargetAngle = 4 }},
		{"empty grid", func(p *Parameters) { p.GridSize = 0 }},
		{"zero initial speed", func(p *Parameters) { p.InitialSpeed = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParameters()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Validate() = %v, want ErrInvalidParameter", err)
			}
		})
	}
}
