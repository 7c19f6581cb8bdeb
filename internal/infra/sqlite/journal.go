package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kos-tools/gturn/internal/domain"
)

// ErrRunNotFound is returned when a run ID has no journal row.
var ErrRunNotFound = errors.New("run not found")

// ─── Run Journal ────────────────────────────────────────────────────────────

// RecordDispatch inserts a run in the DISPATCHED state.
func (d *DB) RecordDispatch(ctx context.Context, run domain.TaskRun) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO task_runs (id, task, dir, mode, state, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Task, run.Dir, run.Mode, string(run.State),
		run.StartedAt.UnixMilli(), nullableMilli(run.FinishedAt), run.Error,
	)
	if err != nil {
		return fmt.Errorf("record dispatch %s: %w", run.ID, err)
	}
	return nil
}

// RecordFinish stores the terminal state of a previously dispatched run.
func (d *DB) RecordFinish(ctx context.Context, run domain.TaskRun) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE task_runs SET state = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(run.State), nullableMilli(run.FinishedAt), run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("record finish %s: %w", run.ID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("record finish %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// GetRun retrieves a single run by attempt ID.
func (d *DB) GetRun(ctx context.Context, id string) (domain.TaskRun, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, task, dir, mode, state, started_at, finished_at, error
		 FROM task_runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskRun{}, ErrRunNotFound
	}
	return run, err
}

// RecentRuns returns up to limit runs, newest first. A task name filters
// the runs of one task directory.
func (d *DB) RecentRuns(ctx context.Context, task string, limit int) ([]domain.TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, task, dir, mode, state, started_at, finished_at, error FROM task_runs`
	args := []any{}
	if task != "" {
		query += ` WHERE task = ?`
		args = append(args, task)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountByState returns the number of journaled runs per state.
func (d *DB) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM task_runs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TaskState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.TaskState(state)] = n
	}
	return counts, rows.Err()
}

// PruneBefore deletes finished runs that started before cutoff.
func (d *DB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM task_runs WHERE started_at < ? AND finished_at IS NOT NULL`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRun(s scanner) (domain.TaskRun, error) {
	var run domain.TaskRun
	var state string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(&run.ID, &run.Task, &run.Dir, &run.Mode, &state,
		&startedAt, &finishedAt, &run.Error)
	if err != nil {
		return domain.TaskRun{}, err
	}
	run.State = domain.TaskState(state)
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = time.UnixMilli(finishedAt.Int64)
	}
	return run, nil
}
