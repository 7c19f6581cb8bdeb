package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/kos-tools/gturn/internal/daemon"
	"github.com/kos-tools/gturn/internal/logging"
)

// loadConfig reads the config and applies the persistent flags.
func loadConfig() (daemon.Config, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger. Records go to stderr unless the
// config names a log file.
func newLogger(cfg daemon.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(cfg.LoggingOptions(), os.Stderr)
}
