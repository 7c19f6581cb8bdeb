// Package health runs the periodic daemon health checks: the watched root
// is reachable, the run journal answers, and no lock file has been left
// behind for longer than the configured threshold.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kos-tools/gturn/internal/infra/metrics"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
)

// Check defines a single health check. Checks only report; nothing is
// repaired automatically.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by the run journal.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options selects the standard checks.
type Options struct {
	WatchDir       string
	Journal        Pinger        // nil skips the sqlite check
	StaleLockAfter time.Duration // 0 skips the stale_locks check
	Interval       time.Duration // default 60s
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *slog.Logger
}

// NewChecker creates a health checker with the standard checks.
func NewChecker(opts Options, log *slog.Logger) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	c := &Checker{
		interval: opts.Interval,
		log:      log.With("component", "health"),
	}
	c.AddCheck(Check{
		Name:    "watch_dir",
		CheckFn: func(ctx context.Context) error { return checkWatchDir(opts.WatchDir) },
	})
	if opts.Journal != nil {
		c.AddCheck(Check{
			Name:    "sqlite",
			CheckFn: opts.Journal.Ping,
		})
	}
	if opts.StaleLockAfter > 0 {
		c.AddCheck(Check{
			Name: "stale_locks",
			CheckFn: func(ctx context.Context) error {
				stale, err := StaleLocks(opts.WatchDir, opts.StaleLockAfter, time.Now())
				if err != nil || len(stale) == 0 {
					return err
				}
				return fmt.Errorf("%d lock file(s) older than %s need an operator: %s",
					len(stale), opts.StaleLockAfter, strings.Join(stale, ", "))
			},
		})
	}
	return c
}

// AddCheck registers an extra check. Call before Run.
func (c *Checker) AddCheck(check Check) {
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check immediately and stores the results.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.log.Warn("health check failed", "check", check.Name, "error", err)
		} else {
			s.Healthy = true
		}
		statuses[i] = s
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(boolGauge(s.Healthy))
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkWatchDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch path %s is not a directory", dir)
	}
	return nil
}

// StaleLocks lists the input.lock and output.lock files directly under the
// task directories of root whose modification time is older than after.
// Stale locks are reported, never removed.
func StaleLocks(root string, after time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	var stale []string
	for _, e := range entries {
		for _, name := range []string{taskdir.InputLock, taskdir.OutputLock} {
			path := filepath.Join(root, e.Name(), name)
			fi, err := os.Stat(path)
			if err != nil {
				continue
			}
			if now.Sub(fi.ModTime()) > after {
				stale = append(stale, filepath.Join(e.Name(), name))
			}
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
