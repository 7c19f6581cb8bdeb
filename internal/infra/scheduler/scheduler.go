// Package scheduler drives the watch loop: it scans the watched root for
// ready task directories, dispatches their computations, and publishes
// each result once its handle resolves.
//
// The in-flight table is the only guard against dispatching a task twice:
// a directory stays excluded from scanning from dispatch until its result
// or failure marker is on disk.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/anomaly"
	"github.com/kos-tools/gturn/internal/infra/metrics"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the watch loop.
type Config struct {
	WatchDir     string
	PollInterval time.Duration // pause between cycles (default 1s)
	CycleLimit   int           // stop after this many cycles; 0 runs until cancelled
	Backend      string        // optimizer name, for metrics
	Retry        RetryConfig
}

// ComputeFunc computes the trajectory of one task.
type ComputeFunc func(ctx context.Context, task taskdir.Task) (domain.Trajectory, error)

// Journal records dispatch attempts. Implemented by infra/sqlite.
type Journal interface {
	RecordDispatch(ctx context.Context, run domain.TaskRun) error
	RecordFinish(ctx context.Context, run domain.TaskRun) error
}

// ─── Loop ───────────────────────────────────────────────────────────────────

// Loop is the repeating scan/dispatch/collect cycle.
type Loop struct {
	cfg      Config
	scanner  *taskdir.Scanner
	writer   *taskdir.Writer
	disp     Dispatcher
	compute  ComputeFunc
	journal  Journal
	log      *slog.Logger
	detector *anomaly.Detector

	mu       sync.Mutex
	inFlight map[string]*flight
	retries  *RetryQueue

	cycles    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type flight struct {
	task   taskdir.Task
	run    domain.TaskRun
	handle Handle
}

// NewLoop wires a Loop. journal may be nil.
func NewLoop(cfg Config, scanner *taskdir.Scanner, writer *taskdir.Writer, disp Dispatcher,
	compute ComputeFunc, journal Journal, log *slog.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Loop{
		cfg:      cfg,
		scanner:  scanner,
		writer:   writer,
		disp:     disp,
		compute:  compute,
		journal:  journal,
		log:      log.With("component", "scheduler"),
		detector: anomaly.NewDetector(anomaly.DefaultConfig()),
		inFlight: make(map[string]*flight),
		retries:  NewRetryQueue(cfg.Retry),
	}
}

// Run cycles until ctx is cancelled or CycleLimit cycles have run, then
// stops scanning and waits for every in-flight computation, publishing its
// result before returning. Computations are not cancelled by ctx.
func (l *Loop) Run(ctx context.Context) error {
	fi, err := os.Stat(l.cfg.WatchDir)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("watch directory %s: %w", l.cfg.WatchDir, domain.ErrNotTaskDir)
	}

	l.log.Info("watching directory", "dir", l.cfg.WatchDir, "mode", l.disp.Mode(),
		"interval", l.cfg.PollInterval, "cycles", l.cfg.CycleLimit)
	jobCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

loop:
	for n := 1; ; n++ {
		if err := l.cycle(ctx, jobCtx); err != nil && ctx.Err() == nil {
			l.log.Error("scan failed", "error", err)
		}
		if l.cfg.CycleLimit > 0 && n >= l.cfg.CycleLimit {
			l.log.Info("cycle limit reached", "cycles", n)
			break
		}
		timer.Reset(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
		}
	}

	l.drain()
	l.log.Info("watch loop stopped", "completed", l.completed.Load(), "failed", l.failed.Load())
	return nil
}

// cycle runs one scan, dispatch and collect pass. Only a failure to list
// the watch directory is returned.
func (l *Loop) cycle(ctx, jobCtx context.Context) error {
	l.log.Debug("cycle start")
	defer l.log.Debug("cycle end")
	defer l.cycles.Add(1)
	defer metrics.ScanCycles.Inc()

	res, err := l.scanner.Scan(ctx, l.cfg.WatchDir, l.excluded())
	for _, f := range res.Failures {
		metrics.ScanErrors.WithLabelValues(scanErrorKind(f.Err)).Inc()
	}
	metrics.TasksDiscovered.Add(float64(len(res.Tasks)))

	for _, task := range res.Tasks {
		l.dispatch(jobCtx, task)
	}
	l.collect(false)
	l.publishRetries(time.Now(), false)
	return err
}

func (l *Loop) excluded() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ex := make(map[string]bool, len(l.inFlight))
	for name := range l.inFlight {
		ex[name] = true
	}
	for _, name := range l.retries.Pending() {
		ex[name] = true
	}
	return ex
}

func (l *Loop) dispatch(ctx context.Context, task taskdir.Task) {
	run := domain.TaskRun{
		ID:        uuid.NewString(),
		Task:      task.Name,
		Dir:       task.Dir,
		Mode:      l.disp.Mode(),
		State:     domain.TaskDispatched,
		StartedAt: time.Now(),
	}
	l.record(ctx, run, false)
	l.log.Info("dispatching task", "task", task.Name, "attempt", run.ID, "mode", run.Mode)

	f := &flight{task: task, run: run}
	l.mu.Lock()
	l.inFlight[task.Name] = f
	l.mu.Unlock()
	metrics.TasksDispatched.WithLabelValues(run.Mode).Inc()
	metrics.TasksInFlight.Inc()

	h := l.disp.Submit(ctx, func(ctx context.Context) (domain.Trajectory, error) {
		return l.compute(ctx, task)
	})
	l.mu.Lock()
	f.handle = h
	l.mu.Unlock()
}

// collect publishes every resolved handle. With wait set it blocks until
// all in-flight handles have resolved.
func (l *Loop) collect(wait bool) {
	l.mu.Lock()
	flights := make([]*flight, 0, len(l.inFlight))
	for _, f := range l.inFlight {
		flights = append(flights, f)
	}
	l.mu.Unlock()
	sort.Slice(flights, func(i, j int) bool { return flights[i].run.StartedAt.Before(flights[j].run.StartedAt) })

	for _, f := range flights {
		if wait {
			<-f.handle.Done()
		}
		out, ok := f.handle.Poll()
		if !ok {
			continue
		}
		l.finish(f, out)
	}
}

func (l *Loop) finish(f *flight, out Outcome) {
	elapsed := out.Finished.Sub(out.Started)
	metrics.ComputeDuration.WithLabelValues(l.cfg.Backend).Observe(elapsed.Seconds())
	l.checkAnomaly(f.task.Name, elapsed, out.Err == nil)

	entry := RetryEntry{Name: f.task.Name}
	run := f.run
	run.FinishedAt = out.Finished
	if out.Err == nil {
		run.State = domain.TaskCompleted
		entry.publish = func() error { return l.writer.Write(f.task.Dir, out.Trajectory) }
	} else {
		run.State = domain.TaskFailed
		run.Error = out.Err.Error()
		rec := taskdir.FailureRecord{Task: f.task.Name, Attempt: run.ID, Err: out.Err, FailedAt: out.Finished}
		entry.publish = func() error { return l.writer.WriteError(f.task.Dir, rec) }
	}

	err := entry.publish()
	l.mu.Lock()
	delete(l.inFlight, f.task.Name)
	if err != nil {
		entry.Error = err.Error()
		entry.publish = l.settle(run, out.Err, entry.publish)
		entry.abandon = func(err error) { l.giveUp(run, err) }
		if l.retries.ScheduleRetry(entry) {
			l.mu.Unlock()
			metrics.TasksInFlight.Dec()
			metrics.PublishRetries.Inc()
			l.log.Warn("publishing result failed, will retry", "task", f.task.Name, "error", err)
			return
		}
	}
	l.mu.Unlock()
	metrics.TasksInFlight.Dec()

	if err != nil {
		l.giveUp(run, err)
		return
	}
	l.settled(run, out.Err)
}

// checkAnomaly logs runs that stand out from the backend's history.
func (l *Loop) checkAnomaly(task string, elapsed time.Duration, ok bool) {
	res := l.detector.Analyze(anomaly.Run{Backend: l.cfg.Backend, Task: task, Duration: elapsed, Successful: ok})
	if !res.IsAnomaly {
		return
	}
	metrics.RunAnomalies.WithLabelValues(res.Kind.String()).Inc()
	l.log.Warn("unusual solver run", "task", task, "kind", res.Kind, "severity", res.Severity, "detail", res.Description)
}

// settle wraps publish so that a successful retry completes the run.
func (l *Loop) settle(run domain.TaskRun, computeErr error, publish func() error) func() error {
	return func() error {
		if err := publish(); err != nil {
			return err
		}
		l.settled(run, computeErr)
		return nil
	}
}

func (l *Loop) settled(run domain.TaskRun, computeErr error) {
	l.record(context.Background(), run, true)
	if computeErr == nil {
		l.completed.Add(1)
		metrics.TasksCompleted.Inc()
		l.log.Info("result written", "task", run.Task, "attempt", run.ID, "elapsed", run.Duration())
		return
	}
	l.failed.Add(1)
	metrics.TasksFailed.WithLabelValues(failureReason(computeErr)).Inc()
	l.log.Error("task failed", "task", run.Task, "attempt", run.ID, "error", computeErr)
}

func (l *Loop) giveUp(run domain.TaskRun, err error) {
	run.State = domain.TaskFailed
	run.Error = fmt.Sprintf("publish: %v", err)
	l.record(context.Background(), run, true)
	l.failed.Add(1)
	metrics.TasksFailed.WithLabelValues("write").Inc()
	l.log.Error("giving up publishing result; output.lock left for the operator",
		"task", run.Task, "attempt", run.ID, "error", err)
}

// publishRetries re-attempts due publications. With force set every
// pending entry is attempted once more, and an entry that fails again is
// abandoned.
func (l *Loop) publishRetries(now time.Time, force bool) {
	for _, e := range l.retries.DrainReady(now, force) {
		err := e.publish()
		if err == nil {
			continue
		}
		e.Error = err.Error()
		if force || !l.retries.ScheduleRetry(e) {
			e.abandon(err)
			continue
		}
		metrics.PublishRetries.Inc()
		l.log.Warn("publishing result failed, will retry", "task", e.Name, "attempt", e.Attempt, "error", err)
	}
}

func (l *Loop) drain() {
	l.mu.Lock()
	n := len(l.inFlight)
	l.mu.Unlock()
	if n > 0 {
		l.log.Info("waiting for in-flight tasks", "count", n)
	}
	l.collect(true)
	l.publishRetries(time.Now(), true)
}

func (l *Loop) record(ctx context.Context, run domain.TaskRun, finished bool) {
	if l.journal == nil {
		return
	}
	var err error
	if finished {
		err = l.journal.RecordFinish(ctx, run)
	} else {
		err = l.journal.RecordDispatch(ctx, run)
	}
	if err != nil {
		l.log.Warn("journal write failed", "task", run.Task, "attempt", run.ID, "error", err)
	}
}

// ─── Stats & Inspection ─────────────────────────────────────────────────────

// Stats summarizes the loop state.
type Stats struct {
	WatchDir     string     `json:"watch_dir"`
	Mode         string     `json:"mode"`
	Backend      string     `json:"backend"`
	Cycles       int64      `json:"cycles"`
	InFlight     int        `json:"in_flight"`
	Completed    int64      `json:"completed"`
	Failed       int64      `json:"failed"`
	RetryPending RetryStats `json:"retries"`
}

// Stats returns current loop statistics.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	inFlight := len(l.inFlight)
	l.mu.Unlock()
	return Stats{
		WatchDir:     l.cfg.WatchDir,
		Mode:         l.disp.Mode(),
		Backend:      l.cfg.Backend,
		Cycles:       l.cycles.Load(),
		InFlight:     inFlight,
		Completed:    l.completed.Load(),
		Failed:       l.failed.Load(),
		RetryPending: l.retries.RetryStats(),
	}
}

// InFlight returns the dispatched runs awaiting their result, oldest first.
func (l *Loop) InFlight() []domain.TaskRun {
	l.mu.Lock()
	runs := make([]domain.TaskRun, 0, len(l.inFlight))
	for _, f := range l.inFlight {
		runs = append(runs, f.run)
	}
	l.mu.Unlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

// ─── Classification ─────────────────────────────────────────────────────────

func scanErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedEncoding):
		return "malformed"
	case errors.Is(err, domain.ErrFilesystemRace):
		return "race"
	case errors.Is(err, fs.ErrPermission):
		return "permission"
	default:
		return "io"
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingParameter), errors.Is(err, domain.ErrInvalidParameter):
		return "parameters"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "computation"
	}
}
