// Package taskdir implements the task directory protocol: discovery of
// ready inputs under a watched root and lock-guarded publication of
// results.
//
// A task directory may hold:
//
//	input.json   task parameters (koson wire format)
//	input.lock   producer is still writing input.json; do not read
//	output.json  the result; its presence marks the task done
//	output.lock  output.json is being written; do not read
//	error.json   the computation failed; the task is not retried
//	stdout.txt   solver stdout (optional)
//	stderr.txt   solver stderr (optional)
package taskdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kos-tools/gturn/internal/infra/koson"
)

// File names inside a task directory.
const (
	InputData  = "input.json"
	InputLock  = "input.lock"
	OutputData = "output.json"
	OutputLock = "output.lock"
	RawTable   = "output-raw.txt"
	ErrorData  = "error.json"
	StdoutLog  = "stdout.txt"
	StderrLog  = "stderr.txt"
)

// Task is a discovered task directory with its decoded input.
type Task struct {
	Name  string      // directory name, unique within the root
	Dir   string      // full path
	Input koson.Value // decoded input.json
}

// ScanError reports a task directory that passed every filter but could
// not be loaded.
type ScanError struct {
	Name string
	Dir  string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Name, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ScanResult is the outcome of one pass over the root directory.
type ScanResult struct {
	Tasks    []Task
	Failures []*ScanError
	Skipped  int
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// IsDone reports whether a result or failure marker was published in dir.
func IsDone(dir string) bool {
	return exists(filepath.Join(dir, OutputData)) || exists(filepath.Join(dir, ErrorData))
}
