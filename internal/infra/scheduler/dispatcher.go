package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kos-tools/gturn/internal/domain"
)

// Dispatch modes, reported in logs, metrics and the run journal.
const (
	ModeSync = "sync"
	ModePool = "pool"
)

// Job computes one trajectory.
type Job func(ctx context.Context) (domain.Trajectory, error)

// Outcome is the settled result of a Job.
type Outcome struct {
	Trajectory domain.Trajectory
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Handle refers to a submitted Job.
type Handle interface {
	// Poll returns the outcome and true once the job has finished. It never
	// blocks.
	Poll() (Outcome, bool)
	// Done is closed when the job has finished.
	Done() <-chan struct{}
}

// Dispatcher runs jobs.
type Dispatcher interface {
	// Submit starts job and returns its handle without waiting for a free
	// worker.
	Submit(ctx context.Context, job Job) Handle
	// Mode names the dispatch strategy.
	Mode() string
	// Close waits for every submitted job to finish.
	Close()
}

type handle struct {
	done chan struct{}
	out  Outcome
}

func newHandle() *handle { return &handle{done: make(chan struct{})} }

func (h *handle) Poll() (Outcome, bool) {
	select {
	case <-h.done:
		return h.out, true
	default:
		return Outcome{}, false
	}
}

func (h *handle) Done() <-chan struct{} { return h.done }

// run executes job, converting a panic into an error.
func (h *handle) run(ctx context.Context, job Job) {
	defer close(h.done)
	h.out.Started = time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.out.Err = fmt.Errorf("%w: panic: %v\n%s", domain.ErrComputationFailure, r, debug.Stack())
		}
		h.out.Finished = time.Now()
	}()
	h.out.Trajectory, h.out.Err = job(ctx)
}

// ─── Sync ───────────────────────────────────────────────────────────────────

// SyncDispatcher runs each job in the caller's goroutine, so Submit returns
// an already resolved handle.
type SyncDispatcher struct{}

// NewSyncDispatcher creates a SyncDispatcher.
func NewSyncDispatcher() *SyncDispatcher { return &SyncDispatcher{} }

// Submit implements Dispatcher.
func (SyncDispatcher) Submit(ctx context.Context, job Job) Handle {
	h := newHandle()
	h.run(ctx, job)
	return h
}

// Mode implements Dispatcher.
func (SyncDispatcher) Mode() string { return ModeSync }

// Close implements Dispatcher.
func (SyncDispatcher) Close() {}

// ─── Pool ───────────────────────────────────────────────────────────────────

// PoolDispatcher runs jobs on at most Workers goroutines at a time. Jobs
// beyond that wait for a free slot.
type PoolDispatcher struct {
	workers int
	slots   *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewPoolDispatcher creates a pool with the given number of workers
// (minimum 1).
func NewPoolDispatcher(workers int) *PoolDispatcher {
	if workers < 1 {
		workers = 1
	}
	return &PoolDispatcher{workers: workers, slots: semaphore.NewWeighted(int64(workers))}
}

// Workers returns the pool size.
func (p *PoolDispatcher) Workers() int { return p.workers }

// Submit implements Dispatcher.
func (p *PoolDispatcher) Submit(ctx context.Context, job Job) Handle {
	h := newHandle()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.slots.Acquire(ctx, 1); err != nil {
			now := time.Now()
			h.out = Outcome{Err: err, Started: now, Finished: now}
			close(h.done)
			return
		}
		defer p.slots.Release(1)
		h.run(ctx, job)
	}()
	return h
}

// Mode implements Dispatcher.
func (p *PoolDispatcher) Mode() string { return ModePool }

// Close implements Dispatcher.
func (p *PoolDispatcher) Close() { p.wg.Wait() }
