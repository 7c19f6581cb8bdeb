package taskdir

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the protocol state of a task directory as seen on disk.
type State string

const (
	StateReady        State = "ready"
	StateInputLocked  State = "input-locked"
	StateNoInput      State = "no-input"
	StateDone         State = "done"
	StateFailed       State = "failed"
	StateOutputLocked State = "output-locked"
)

// Entry describes one task directory.
type Entry struct {
	Name     string
	State    State
	Modified time.Time // newest modification of the state-defining file
}

// classify applies the scanner's filters in order. dir must be a directory.
func classify(dir string) State {
	switch {
	case exists(filepath.Join(dir, InputLock)):
		return StateInputLocked
	case !isFile(filepath.Join(dir, InputData)):
		return StateNoInput
	case exists(filepath.Join(dir, OutputData)):
		return StateDone
	case exists(filepath.Join(dir, ErrorData)):
		return StateFailed
	case exists(filepath.Join(dir, OutputLock)):
		return StateOutputLocked
	}
	return StateReady
}

var stateFile = map[State]string{
	StateReady:        InputData,
	StateInputLocked:  InputLock,
	StateDone:         OutputData,
	StateFailed:       ErrorData,
	StateOutputLocked: OutputLock,
}

// Inspect classifies every task directory under root without decoding any
// input. Non-directories are ignored.
func Inspect(root string) ([]Entry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	var out []Entry
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if !isDir(e, dir) {
			continue
		}
		entry := Entry{Name: e.Name(), State: classify(dir)}
		path := dir
		if f, ok := stateFile[entry.State]; ok {
			path = filepath.Join(dir, f)
		}
		if fi, err := os.Stat(path); err == nil {
			entry.Modified = fi.ModTime()
		}
		out = append(out, entry)
	}
	return out, nil
}
