package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/healing"
)

// Backend names accepted by Select.
const (
	BackendAuto       = "auto"
	BackendNative     = "native"
	BackendSubprocess = "subprocess"
	BackendMock       = "mock"
)

// Config selects and tunes a backend.
type Config struct {
	Backend string // auto, native, subprocess or mock
	Command string // solver command for the subprocess backend
	Native  NativeConfig
	Breaker healing.Config // circuit breaker around the external solver
}

// Select builds the configured optimizer. "auto" prefers the external
// solver when a command is configured and found on PATH, and falls back to
// the native solver otherwise. An explicit "subprocess" fails when the
// command cannot be found. The external solver always runs behind a circuit
// breaker; in auto mode the native solver takes over while it is open.
func Select(cfg Config, log *slog.Logger) (domain.Optimizer, error) {
	switch cfg.Backend {
	case BackendNative:
		return NewNativeBackend(cfg.Native), nil
	case BackendMock:
		return NewMockBackend(), nil
	case BackendSubprocess:
		b, err := NewSubprocessBackend(cfg.Command)
		if err != nil {
			return nil, err
		}
		return NewGuardedBackend(b, nil, cfg.Breaker, log), nil
	case "", BackendAuto:
		if cfg.Command == "" {
			return NewNativeBackend(cfg.Native), nil
		}
		b, err := NewSubprocessBackend(cfg.Command)
		if err == nil {
			return NewGuardedBackend(b, NewNativeBackend(cfg.Native), cfg.Breaker, log), nil
		}
		if !errors.Is(err, domain.ErrSolverNotFound) {
			return nil, err
		}
		log.Warn("external solver not available, using native backend", "component", "engine", "error", err)
		return NewNativeBackend(cfg.Native), nil
	}
	return nil, fmt.Errorf("unknown solver backend %q", cfg.Backend)
}
