package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kos-tools/gturn/internal/api"
	"github.com/kos-tools/gturn/internal/app/compute"
	"github.com/kos-tools/gturn/internal/health"
	"github.com/kos-tools/gturn/internal/infra/engine"
	"github.com/kos-tools/gturn/internal/infra/scheduler"
	"github.com/kos-tools/gturn/internal/infra/sqlite"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
)

// Daemon is the gturn watch service. It wires the scanner, dispatcher,
// optimizer, journal, health checks and status API together.
type Daemon struct {
	Config  Config
	Log     *slog.Logger
	Adapter *compute.Adapter
	Journal *sqlite.DB // nil when history is disabled
	Loop    *scheduler.Loop
	Health  *health.Checker
	Server  *api.Server

	dispatcher scheduler.Dispatcher
	version    string
}

// New creates a Daemon with all services wired.
func New(cfg Config, log *slog.Logger, version string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log = log.With("component", "daemon")

	opt, err := engine.Select(cfg.EngineConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("select solver: %w", err)
	}
	d := &Daemon{
		Config:  cfg,
		Log:     log,
		Adapter: compute.NewAdapter(opt, log, cfg.Output.TaskLogs),
		version: version,
	}

	var journal scheduler.Journal
	if cfg.History.Enabled {
		db, err := sqlite.Open(Home())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.Journal = db
		journal = db
	}

	if cfg.Server.Async {
		d.dispatcher = scheduler.NewPoolDispatcher(cfg.Server.Workers)
	} else {
		d.dispatcher = scheduler.NewSyncDispatcher()
	}

	writer := taskdir.NewWriter(log, taskdir.FormatOptions{
		Indent:   cfg.IndentString(),
		RawTable: cfg.Output.RawTable,
	})
	d.Loop = scheduler.NewLoop(scheduler.Config{
		WatchDir:     cfg.Server.WatchDir,
		PollInterval: cfg.PollInterval(),
		CycleLimit:   cfg.Server.Cycles,
		Backend:      opt.Name(),
	}, taskdir.NewScanner(log), writer, d.dispatcher, d.Adapter.Run, journal, log)

	hopts := health.Options{
		WatchDir:       cfg.Server.WatchDir,
		StaleLockAfter: parseDuration(cfg.Health.StaleLockAfter, 0),
		Interval:       parseDuration(cfg.Health.Interval, time.Minute),
	}
	if d.Journal != nil {
		hopts.Journal = d.Journal
	}
	d.Health = health.NewChecker(hopts, log)
	if g, ok := opt.(*engine.GuardedBackend); ok {
		d.Health.AddCheck(health.Check{Name: "solver_circuit", CheckFn: g.CheckCircuit})
	}

	d.Server = api.NewServer(d.Loop, version)
	d.Server.SetHealth(d.Health)
	if d.Journal != nil {
		d.Server.SetHistory(d.Journal)
	}
	if cfg.Status.Metrics {
		d.Server.EnableMetrics()
	}
	return d, nil
}

// Serve runs the watch loop until the cycle limit is reached or the process
// receives SIGINT/SIGTERM. In-flight computations are drained before Serve
// returns; a second signal terminates the process immediately.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	d.pruneHistory(ctx)

	g, gctx := errgroup.WithContext(ctx)
	svcCtx, stopServices := context.WithCancel(gctx)
	defer stopServices()

	g.Go(func() error {
		defer stopServices()
		return d.Loop.Run(gctx)
	})
	g.Go(func() error {
		d.Health.Run(svcCtx)
		return nil
	})
	if d.Config.Status.Enabled {
		g.Go(func() error { return d.serveStatus(svcCtx) })
	}

	err := g.Wait()
	st := d.Loop.Stats()
	d.Log.Info("daemon stopped", "cycles", st.Cycles, "completed", st.Completed, "failed", st.Failed)
	return err
}

func (d *Daemon) serveStatus(ctx context.Context) error {
	addr := net.JoinHostPort(d.Config.Status.Host, strconv.Itoa(d.Config.Status.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("status API listening", "addr", "http://"+addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	retention := parseDuration(d.Config.History.Retention, 0)
	if d.Journal == nil || retention <= 0 {
		return
	}
	n, err := d.Journal.PruneBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		d.Log.Warn("pruning run history failed", "error", err)
		return
	}
	if n > 0 {
		d.Log.Info("pruned run history", "runs", n, "retention", retention)
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() error {
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.Journal != nil {
		return d.Journal.Close()
	}
	return nil
}
