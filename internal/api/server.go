// Package api provides the optional status HTTP server of the gturn
// daemon: in-flight tasks, loop counters, health, run history and
// Prometheus metrics. It is read-only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/health"
	"github.com/kos-tools/gturn/internal/infra/scheduler"
	"github.com/kos-tools/gturn/internal/infra/sqlite"
)

// LoopStatus is satisfied by *scheduler.Loop.
type LoopStatus interface {
	Stats() scheduler.Stats
	InFlight() []domain.TaskRun
}

// HealthStatus is satisfied by *health.Checker.
type HealthStatus interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// History is satisfied by *sqlite.DB.
type History interface {
	RecentRuns(ctx context.Context, task string, limit int) ([]domain.TaskRun, error)
	GetRun(ctx context.Context, id string) (domain.TaskRun, error)
}

// maxHistory caps the limit query parameter of /api/history.
const maxHistory = 500

// Server is the gturn status API server.
type Server struct {
	loop           LoopStatus
	version        string
	health         HealthStatus
	history        History
	metricsEnabled bool
	started        time.Time
}

// NewServer creates a new status server.
func NewServer(loop LoopStatus, version string) *Server {
	return &Server{loop: loop, version: version, started: time.Now()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the health checker reported by /health.
func (s *Server) SetHealth(h HealthStatus) { s.health = h }

// SetHistory sets the run journal served by /api/history.
func (s *Server) SetHistory(h History) { s.history = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
		})
		r.Get("/tasks", s.handleTasks)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{id}", s.handleRun)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	healthy := true
	if s.health != nil {
		healthy = s.health.IsHealthy()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"healthy": healthy,
		"loop":    s.loop.Stats(),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	runs := s.loop.InFlight()
	type task struct {
		domain.TaskRun
		Running string `json:"running"`
	}
	out := make([]task, len(runs))
	for i, run := range runs {
		out[i] = task{TaskRun: run, Running: time.Since(run.StartedAt).Round(time.Millisecond).String()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}
	runs, err := s.history.RecentRuns(r.Context(), r.URL.Query().Get("task"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.TaskRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	run, err := s.history.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sqlite.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware lets a local dashboard poll the status API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
