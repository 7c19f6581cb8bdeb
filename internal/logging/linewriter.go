package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// LineWriter turns a byte stream into one log record per line. Empty lines
// are dropped. When Tee is set every byte written is also copied to it
// unchanged.
type LineWriter struct {
	log   *slog.Logger
	level slog.Level
	tee   io.Writer

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter creates a LineWriter logging at level. tee may be nil.
func NewLineWriter(log *slog.Logger, level slog.Level, tee io.Writer) *LineWriter {
	return &LineWriter{log: log, level: level, tee: tee}
}

// Write logs every complete line in p and buffers the remainder.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tee != nil {
		if _, err := w.tee.Write(p); err != nil {
			return 0, err
		}
	}

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line, if any.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.log.Log(context.Background(), w.level, string(line))
}
