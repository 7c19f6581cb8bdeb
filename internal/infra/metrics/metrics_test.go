package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gathered(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestTaskMetrics_Registered(t *testing.T) {
	TasksDiscovered.Inc()
	TasksDispatched.WithLabelValues("pool").Inc()
	TasksCompleted.Inc()
	TasksFailed.WithLabelValues("computation").Inc()
	TasksInFlight.Set(2)
	ComputeDuration.WithLabelValues("native").Observe(1.5)

	names := gathered(t)
	for _, name := range []string{
		"gturn_tasks_discovered_total",
		"gturn_tasks_dispatched_total",
		"gturn_tasks_completed_total",
		"gturn_tasks_failed_total",
		"gturn_tasks_in_flight",
		"gturn_compute_duration_seconds",
	} {
		if names[name] == nil {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestScanMetrics(t *testing.T) {
	ScanCycles.Inc()
	ScanErrors.WithLabelValues("malformed").Inc()

	names := gathered(t)
	f := names["gturn_scan_errors_total"]
	if f == nil {
		t.Fatal("gturn_scan_errors_total not found")
	}
	if got := f.GetMetric()[0].GetLabel()[0].GetValue(); got != "malformed" {
		t.Errorf("label = %q, want malformed", got)
	}
	if names["gturn_scan_cycles_total"] == nil {
		t.Error("gturn_scan_cycles_total not found")
	}
}

func TestHealthMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("watch_dir").Set(1)

	names := gathered(t)
	if names["gturn_health_check_status"] == nil {
		t.Error("gturn_health_check_status not found")
	}
}

func TestSolverMetrics(t *testing.T) {
	SolverCircuitState.WithLabelValues("subprocess:ipopt").Set(1)
	RunAnomalies.WithLabelValues("slow_run").Inc()
	PublishRetries.Inc()

	names := gathered(t)
	for _, name := range []string{"gturn_solver_circuit_state", "gturn_run_anomalies_total", "gturn_publish_retries_total"} {
		if names[name] == nil {
			t.Errorf("metric %q not found", name)
		}
	}
}
