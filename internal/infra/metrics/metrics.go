// Package metrics provides the Prometheus metrics of the gturn daemon:
// task discovery and dispatch, computation outcomes, scan cycles and
// health checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gturn"

// ─── Scanning ───────────────────────────────────────────────────────────────

// ScanCycles counts completed watch cycles.
var ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "scan_cycles_total",
	Help:      "Total watch-directory scan cycles.",
})

// ScanErrors counts task directories that could not be loaded, by kind
// (malformed, race, io).
var ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "scan_errors_total",
	Help:      "Task inputs that could not be loaded.",
}, []string{"kind"})

// TasksDiscovered counts ready task directories found by the scanner.
var TasksDiscovered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_discovered_total",
	Help:      "Total ready task directories discovered.",
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksDispatched counts dispatched computations by mode (sync, pool).
var TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_dispatched_total",
	Help:      "Total computations dispatched.",
}, []string{"mode"})

// TasksCompleted counts results written.
var TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_completed_total",
	Help:      "Total results published.",
})

// TasksFailed counts failed tasks by reason (parameters, computation,
// write).
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_failed_total",
	Help:      "Total failed tasks.",
}, []string{"reason"})

// TasksInFlight tracks computations dispatched but not yet written.
var TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "tasks_in_flight",
	Help:      "Number of dispatched computations awaiting their result.",
})

// ComputeDuration tracks solver run time in seconds.
var ComputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "compute_duration_seconds",
	Help:      "Trajectory computation time in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
}, []string{"backend"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── Solver ─────────────────────────────────────────────────────────────────

// SolverCircuitState tracks the external solver circuit breaker
// (0=closed, 1=open, 2=half-open).
var SolverCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "solver_circuit_state",
	Help:      "External solver circuit breaker state (0=closed, 1=open, 2=half-open).",
}, []string{"backend"})

// RunAnomalies counts solver runs flagged as unusual, by kind.
var RunAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "run_anomalies_total",
	Help:      "Solver runs flagged as unusual by the duration/outcome detector.",
}, []string{"kind"})

// PublishRetries counts result publications scheduled for another attempt.
var PublishRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "publish_retries_total",
	Help:      "Result or failure-marker writes scheduled for retry.",
})
