package taskdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/koson"
)

// Scanner finds task directories that are ready to be computed.
type Scanner struct {
	log *slog.Logger
}

// NewScanner creates a Scanner that logs its decisions to log.
func NewScanner(log *slog.Logger) *Scanner {
	return &Scanner{log: log.With("component", "scanner")}
}

// Scan examines every immediate child of root in listing order and returns
// those that are directories, are not in exclude, have no input.lock, have
// an input.json and have none of output.json, error.json or output.lock.
// Their inputs are decoded; a child that fails to decode is reported in
// Failures and the scan continues. The error is non-nil only when root
// cannot be listed or ctx is cancelled.
//
// A leftover output.lock marks a publication that failed. It is left for
// the operator to clear.
func (s *Scanner) Scan(ctx context.Context, root string, exclude map[string]bool) (ScanResult, error) {
	var res ScanResult
	s.log.Debug("scanning watch directory", "dir", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", root, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := e.Name()
		dir := filepath.Join(root, name)

		if skip, reason := s.skip(e, dir, exclude); skip {
			res.Skipped++
			s.log.Debug("skipping", "task", name, "reason", reason)
			continue
		}

		input, err := koson.ReadFile(filepath.Join(dir, InputData))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("%w: %s vanished before it could be read", domain.ErrFilesystemRace, InputData)
				s.log.Info("input disappeared, retrying next cycle", "task", name)
			} else {
				s.log.Error("cannot load task input", "task", name, "error", err)
			}
			res.Failures = append(res.Failures, &ScanError{Name: name, Dir: dir, Err: err})
			continue
		}

		s.log.Debug("task ready", "task", name)
		res.Tasks = append(res.Tasks, Task{Name: name, Dir: dir, Input: input})
	}
	return res, nil
}

func (s *Scanner) skip(e fs.DirEntry, dir string, exclude map[string]bool) (bool, string) {
	if !isDir(e, dir) {
		return true, "not a directory"
	}
	if exclude[e.Name()] {
		return true, "in flight"
	}
	switch state := classify(dir); state {
	case StateReady:
		return false, ""
	case StateInputLocked:
		s.log.Info("input is locked", "task", e.Name())
		return true, string(state)
	case StateOutputLocked:
		s.log.Warn("output lock present without a result", "task", e.Name())
		return true, string(state)
	default:
		return true, string(state)
	}
}

// isDir follows symlinks, so a linked task directory is still scanned.
func isDir(e fs.DirEntry, path string) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
