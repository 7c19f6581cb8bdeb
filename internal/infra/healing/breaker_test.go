package healing

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Circuit Breaker Tests
// ═══════════════════════════════════════════════════════════════════════════

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold, probes int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("solver", Config{FailureThreshold: threshold, ResetTimeout: 10 * time.Second, HalfOpenProbes: probes})
	b.now = clock.now
	return b, clock
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "CLOSED"},
		{Open, "OPEN"},
		{HalfOpen, "HALF_OPEN"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New("x", Config{})
	if b.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", b.cfg)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %s, want CLOSED", b.State())
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 1)
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatal("should stay CLOSED below the threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want OPEN", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 1)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Error("failures are consecutive; a success in between resets them")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	b.RecordFailure()
	clock.advance(9 * time.Second)
	if b.Allow() == nil {
		t.Fatal("Allow() before the reset timeout should fail")
	}
	clock.advance(time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after reset timeout = %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", b.State())
	}

	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Error("one probe of two should keep HALF_OPEN")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Errorf("state = %s, want CLOSED", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 1)
	b.RecordFailure()
	clock.advance(10 * time.Second)
	b.Allow()
	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("state = %s, want OPEN", b.State())
	}
	if s := b.Snapshot(); s.TotalTrips != 2 || s.State != "OPEN" || s.Name != "solver" {
		t.Errorf("Snapshot() = %+v", s)
	}
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2, 1)
	ctx := context.Background()
	calls := 0
	fail := func(context.Context) error { calls++; return errBoom }

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("Execute() = %v, want errBoom", err)
		}
	}
	if err := b.Execute(ctx, fail); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() on open circuit = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("fn calls = %d, want 2", calls)
	}
}

func TestBreaker_ExecuteIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if b.State() != Closed {
		t.Error("a cancelled call must not trip the breaker")
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	b, clock := newTestBreaker(1, 1)
	var transitions []string
	b.OnStateChange(func(name string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	})

	b.RecordFailure()
	clock.advance(10 * time.Second)
	b.Allow()
	b.RecordSuccess()
	b.Reset()

	want := []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}
