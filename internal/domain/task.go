// Package domain holds the pure types shared by the gturn layers:
// task lifecycle, solver parameters, trajectories and sentinel errors.
package domain

import "time"

// TaskState tracks where a task directory is in the dispatch lifecycle.
type TaskState string

const (
	TaskDiscovered TaskState = "DISCOVERED"
	TaskDispatched TaskState = "DISPATCHED"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
)

// IsTerminal returns true once no further transition is possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskRun is one dispatch attempt of a task directory, as recorded in the
// run journal.
type TaskRun struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Dir        string    `json:"dir"`
	Mode       string    `json:"mode"`
	State      TaskState `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took (0 while still running).
func (r *TaskRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
