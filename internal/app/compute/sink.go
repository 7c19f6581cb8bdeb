package compute

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/taskdir"
	"github.com/kos-tools/gturn/internal/logging"
)

// Sink receives a solver's output streams for one task. Stdout lines are
// logged at DEBUG and stderr lines at INFO, each record tagged with the
// task name. With persistence enabled the raw streams are also kept in
// stdout.txt and stderr.txt inside the task directory.
type Sink struct {
	stdout *logging.LineWriter
	stderr *logging.LineWriter
	files  []*os.File
}

// OpenSink creates the sink for task. dir may be empty when persist is
// false.
func OpenSink(log *slog.Logger, task, dir string, persist bool) (*Sink, error) {
	log = log.With("task", task)
	s := &Sink{}

	var outFile, errFile *os.File
	if persist {
		var err error
		if outFile, err = os.Create(filepath.Join(dir, taskdir.StdoutLog)); err != nil {
			return nil, fmt.Errorf("open task stdout log: %w", err)
		}
		if errFile, err = os.Create(filepath.Join(dir, taskdir.StderrLog)); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("open task stderr log: %w", err)
		}
		s.files = []*os.File{outFile, errFile}
	}

	s.stdout = logging.NewLineWriter(log, slog.LevelDebug, fileOrNil(outFile))
	s.stderr = logging.NewLineWriter(log, slog.LevelInfo, fileOrNil(errFile))
	return s, nil
}

// fileOrNil avoids storing a typed nil in an io.Writer.
func fileOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}

// Diagnostics exposes the sink as solver output streams.
func (s *Sink) Diagnostics() domain.Diagnostics {
	return domain.Diagnostics{Stdout: s.stdout, Stderr: s.stderr}
}

// Close flushes partial lines and closes the persisted logs.
func (s *Sink) Close() error {
	s.stdout.Flush()
	s.stderr.Flush()
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}
