package taskdir

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kos-tools/gturn/internal/domain"
	"github.com/kos-tools/gturn/internal/infra/koson"
)

// FormatOptions controls how results are rendered.
type FormatOptions struct {
	Indent   string // empty writes compact JSON
	RawTable bool   // also write output-raw.txt
}

// Writer publishes results into task directories under output.lock.
type Writer struct {
	log  *slog.Logger
	opts FormatOptions
}

// NewWriter creates a Writer.
func NewWriter(log *slog.Logger, opts FormatOptions) *Writer {
	return &Writer{log: log.With("component", "writer"), opts: opts}
}

// Write publishes t as output.json in dir:
//
//  1. create (or truncate) output.lock
//  2. write output.json
//  3. write output-raw.txt when enabled
//  4. remove output.lock
//
// The lock is removed only when every preceding step succeeded. On failure
// it is left in place so no reader trusts a partial result, and the error
// is returned.
func (w *Writer) Write(dir string, t domain.Trajectory) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := koson.MarshalIndent(koson.FromTrajectory(t), w.opts.Indent)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return w.locked(dir, func() error {
		if err := writeFileAtomic(filepath.Join(dir, OutputData), append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", OutputData, err)
		}
		if !w.opts.RawTable {
			return nil
		}
		var buf bytes.Buffer
		if err := WriteRawTable(&buf, t); err != nil {
			return err
		}
		if err := writeFileAtomic(filepath.Join(dir, RawTable), buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", RawTable, err)
		}
		return nil
	})
}

// FailureRecord is the content of error.json.
type FailureRecord struct {
	Task     string
	Attempt  string
	Err      error
	FailedAt time.Time
}

// WriteError publishes a failure marker in dir under the same lock protocol
// as Write. The scanner skips directories carrying one.
func (w *Writer) WriteError(dir string, rec FailureRecord) error {
	m := koson.NewMap()
	m.Set("task", koson.String(rec.Task))
	m.Set("attempt", koson.String(rec.Attempt))
	msg := ""
	if rec.Err != nil {
		msg = rec.Err.Error()
	}
	m.Set("error", koson.String(msg))
	m.Set("failed_at", koson.String(rec.FailedAt.UTC().Format(time.RFC3339)))

	data, err := koson.MarshalIndent(koson.MapValue(m), w.opts.Indent)
	if err != nil {
		return err
	}
	return w.locked(dir, func() error {
		if err := writeFileAtomic(filepath.Join(dir, ErrorData), append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", ErrorData, err)
		}
		return nil
	})
}

func (w *Writer) locked(dir string, fn func() error) error {
	lock := filepath.Join(dir, OutputLock)
	w.log.Debug("writing lock file", "path", lock)
	if err := os.WriteFile(lock, nil, 0o644); err != nil {
		return fmt.Errorf("create %s: %w", OutputLock, err)
	}
	if err := fn(); err != nil {
		w.log.Error("publish failed, leaving lock in place", "path", lock, "error", err)
		return err
	}
	w.log.Debug("removing lock file", "path", lock)
	if err := os.Remove(lock); err != nil {
		return fmt.Errorf("remove %s: %w", OutputLock, err)
	}
	return nil
}

// WriteRawTable renders t as a tab-separated table: a header of the column
// names in sorted order, then one row per sample.
func WriteRawTable(out io.Writer, t domain.Trajectory) error {
	if err := t.Validate(); err != nil {
		return err
	}
	names := t.SortedNames()
	cols := make([][]float64, len(names))
	for i, n := range names {
		cols[i], _ = t.Column(n)
	}

	bw := bufio.NewWriter(out)
	for i, n := range names {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString(n)
	}
	bw.WriteByte('\n')

	var num []byte
	for row := 0; row < t.Len(); row++ {
		for i, c := range cols {
			if i > 0 {
				bw.WriteByte('\t')
			}
			num = strconv.AppendFloat(num[:0], c[row], 'g', -1, 64)
			bw.Write(num)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// writeFileAtomic writes data to a temporary sibling and renames it over
// path, so readers observe either the old content or the complete new one.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry. Not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
