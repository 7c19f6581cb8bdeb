// Package healing guards unreliable dependencies with a circuit breaker.
//
// Circuit Breaker states:
//   - CLOSED    (normal) → consecutive failures reach the threshold → OPEN
//   - OPEN      (blocking) → after the reset timeout → HALF_OPEN
//   - HALF_OPEN (probing) → enough probes succeed → CLOSED, a probe fails → OPEN
package healing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // requests pass through
	Open                  // requests rejected immediately
	HalfOpen              // probe requests allowed
)

// String returns a human-readable circuit breaker state.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a circuit breaker.
type Config struct {
	FailureThreshold int           // consecutive failures to trip (default 3)
	ResetTimeout     time.Duration // time in OPEN before probing (default 1m)
	HalfOpenProbes   int           // successful probes needed to close (default 1)
}

// DefaultConfig returns the defaults used for the external solver.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	}
}

// Breaker implements the circuit breaker pattern. Safe for concurrent use.
type Breaker struct {
	mu         sync.Mutex
	name       string
	cfg        Config
	state      State
	failures   int
	successes  int
	trippedAt  time.Time
	totalTrips int
	onChange   func(name string, from, to State)
	now        func() time.Time
}

// New creates a breaker. Zero config fields take their defaults.
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to be called after every transition. fn runs
// with the breaker unlocked.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Execute runs fn unless the circuit is open. A cancelled ctx is neither a
// success nor a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil:
	default:
		b.RecordFailure()
	}
	return err
}

// Allow checks whether a request should be permitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	b.advanceLocked()
	to, fn := b.state, b.onChange
	b.mu.Unlock()
	b.notify(fn, from, to)

	if to == Open {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return nil
}

// RecordSuccess records a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenProbes {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
	to, fn := b.state, b.onChange
	b.mu.Unlock()
	b.notify(fn, from, to)
}

// RecordFailure records a failed request. May trip the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	case HalfOpen:
		b.tripLocked()
	}
	to, fn := b.state, b.onChange
	b.mu.Unlock()
	b.notify(fn, from, to)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Failures   int       `json:"failures"`
	TotalTrips int       `json:"total_trips"`
	TrippedAt  time.Time `json:"tripped_at,omitempty"`
}

// Snapshot returns the current state snapshot.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return Snapshot{
		Name:       b.name,
		State:      b.state.String(),
		Failures:   b.failures,
		TotalTrips: b.totalTrips,
		TrippedAt:  b.trippedAt,
	}
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.successes = 0
	fn := b.onChange
	b.mu.Unlock()
	b.notify(fn, from, Closed)
}

func (b *Breaker) tripLocked() {
	b.state = Open
	b.trippedAt = b.now()
	b.totalTrips++
	b.successes = 0
}

// advanceLocked moves OPEN to HALF_OPEN once the reset timeout elapsed.
func (b *Breaker) advanceLocked() {
	if b.state == Open && b.now().Sub(b.trippedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
}

func (b *Breaker) notify(fn func(string, State, State), from, to State) {
	if fn != nil && from != to {
		fn(b.name, from, to)
	}
}
