// Package daemon manages the gturn daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/kos-tools/gturn/internal/infra/engine"
	"github.com/kos-tools/gturn/internal/infra/healing"
	"github.com/kos-tools/gturn/internal/logging"
)

// Config holds all daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Output  OutputConfig  `toml:"output"`
	Solver  SolverConfig  `toml:"solver"`
	Status  StatusConfig  `toml:"status"`
	History HistoryConfig `toml:"history"`
	Logging LoggingConfig `toml:"logging"`
	Health  HealthConfig  `toml:"health"`
}

// ServerConfig controls the watch loop.
type ServerConfig struct {
	WatchDir     string `toml:"watch_dir"`
	Async        bool   `toml:"async"`
	Workers      int    `toml:"workers"`
	PollInterval string `toml:"poll_interval"`
	Cycles       int    `toml:"cycles"` // 0 = until interrupted, 1 = one-shot
}

// OutputConfig controls how results are written.
type OutputConfig struct {
	Indent   bool `toml:"indent"`
	RawTable bool `toml:"raw_table"`
	TaskLogs bool `toml:"task_logs"` // copy solver output into stdout.txt/stderr.txt
}

// SolverConfig selects and tunes the optimizer backend.
type SolverConfig struct {
	Backend        string  `toml:"backend"`
	Command        string  `toml:"command"`
	Segments       int     `toml:"segments"`
	MaxEvaluations int     `toml:"max_evaluations"`
	MaxResidual    float64 `toml:"max_residual"`

	// Circuit breaker around the external solver.
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerReset     string `toml:"breaker_reset"`
}

// StatusConfig controls the status HTTP API.
type StatusConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// HistoryConfig controls the SQLite run journal.
type HistoryConfig struct {
	Enabled   bool   `toml:"enabled"`
	Retention string `toml:"retention"` // finished runs older than this are pruned at startup
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// HealthConfig controls the periodic health checks.
type HealthConfig struct {
	Interval       string `toml:"interval"`
	StaleLockAfter string `toml:"stale_lock_after"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	native := engine.DefaultNativeConfig()
	return Config{
		Server: ServerConfig{
			WatchDir:     ".",
			Workers:      1,
			PollInterval: "1s",
		},
		Solver: SolverConfig{
			Backend:        engine.BackendAuto,
			Segments:       native.Segments,
			MaxEvaluations: native.MaxEvaluations,
			MaxResidual:    native.MaxResidual,

			BreakerThreshold: 3,
			BreakerReset:     "1m",
		},
		Status: StatusConfig{
			Host:    "127.0.0.1",
			Port:    8765,
			Metrics: true,
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: "720h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Interval:       "60s",
			StaleLockAfter: "10m",
		},
	}
}

// LoadConfig loads .env from the working directory, then reads
// $GTURN_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads the config at path (defaults when missing), applies
// environment overrides and validates the result.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GTURN_WATCH_DIR"); v != "" {
		c.Server.WatchDir = v
	}
	if v := os.Getenv("GTURN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GTURN_SOLVER"); v != "" {
		c.Solver.Command = v
	}
	if v := os.Getenv("GTURN_WORKERS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("GTURN_WORKERS: %w", err)
		}
		c.Server.Workers = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.WatchDir == "" {
		return fmt.Errorf("server.watch_dir must be set")
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be at least 1, got %d", c.Server.Workers)
	}
	if c.Server.Cycles < 0 {
		return fmt.Errorf("server.cycles must not be negative, got %d", c.Server.Cycles)
	}
	durations := map[string]string{
		"server.poll_interval":    c.Server.PollInterval,
		"history.retention":       c.History.Retention,
		"health.interval":         c.Health.Interval,
		"health.stale_lock_after": c.Health.StaleLockAfter,
		"solver.breaker_reset":    c.Solver.BreakerReset,
	}
	for key, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	switch c.Solver.Backend {
	case "", engine.BackendAuto, engine.BackendNative, engine.BackendMock:
	case engine.BackendSubprocess:
		if c.Solver.Command == "" {
			return fmt.Errorf("solver.command is required for the subprocess backend")
		}
	default:
		return fmt.Errorf("unknown solver.backend %q", c.Solver.Backend)
	}
	if c.Status.Enabled && (c.Status.Port < 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port %d out of range", c.Status.Port)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// SaveConfig writes the config to $GTURN_HOME/config.toml.
func SaveConfig(cfg Config) error {
	return SaveConfigFile(ConfigPath(), cfg)
}

// SaveConfigFile writes the config to path.
func SaveConfigFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ─── Derived Settings ───────────────────────────────────────────────────────

// PollInterval returns the pause between watch cycles.
func (c Config) PollInterval() time.Duration {
	return parseDuration(c.Server.PollInterval, time.Second)
}

// EngineConfig maps the solver section onto engine.Config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Backend: c.Solver.Backend,
		Command: c.Solver.Command,
		Native: engine.NativeConfig{
			Segments:       c.Solver.Segments,
			MaxEvaluations: c.Solver.MaxEvaluations,
			MaxResidual:    c.Solver.MaxResidual,
		},
		Breaker: healing.Config{
			FailureThreshold: c.Solver.BreakerThreshold,
			ResetTimeout:     parseDuration(c.Solver.BreakerReset, time.Minute),
		},
	}
}

// LoggingOptions maps the logging section onto logging.Options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, Format: c.Logging.Format, File: c.Logging.File}
}

// IndentString is the JSON indent for written results.
func (c Config) IndentString() string {
	if c.Output.Indent {
		return "  "
	}
	return ""
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ─── Paths ──────────────────────────────────────────────────────────────────

// Home returns the gturn data directory: $GTURN_HOME or ~/.gturn.
func Home() string {
	if env := os.Getenv("GTURN_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gturn")
}

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}
