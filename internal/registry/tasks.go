package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/types"
)

// --- Background tasks -----------------------------------------------------

// CreateTask inserts a new pending background task, returning its id.
func (r *Registry) CreateTask(ctx context.Context, kind, description string) (string, error) {
	id, err := r.ids.Generate(types.PrefixBgTask, idgen.Ascending)
	if err != nil {
		return "", fmt.Errorf("registry: generate task id: %w", err)
	}
	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO background_tasks (id, type, description, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, description, string(types.WorkerPending), fmtTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("registry: create_task: %w", err)
	}
	return id, nil
}

func scanTask(row interface{ Scan(...any) error }) (types.BackgroundTask, error) {
	var t types.BackgroundTask
	var status, createdAt string
	var completedAt, result, errStr sql.NullString
	if err := row.Scan(&t.ID, &t.Kind, &t.Description, &status, &createdAt, &completedAt, &result, &errStr); err != nil {
		return types.BackgroundTask{}, err
	}
	t.Status = types.WorkerStatus(status)
	t.CreatedAt = parseTime(createdAt)
	if completedAt.Valid {
		ct := parseTime(completedAt.String)
		t.CompletedAt = &ct
	}
	if result.Valid {
		t.Result = &result.String
	}
	if errStr.Valid {
		t.Error = &errStr.String
	}
	return t, nil
}

// GetTask returns the task with id, or ok=false if none exists.
func (r *Registry) GetTask(ctx context.Context, id string) (types.BackgroundTask, bool, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT id, type, description, status, created_at, completed_at, result, error FROM background_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return types.BackgroundTask{}, false, nil
	}
	if err != nil {
		return types.BackgroundTask{}, false, fmt.Errorf("registry: get_task: %w", err)
	}
	return task, true, nil
}

// ListTasks returns tasks optionally filtered by status, most recent
// first, limited to limit rows (0 = unlimited).
func (r *Registry) ListTasks(ctx context.Context, status *types.WorkerStatus, limit int) ([]types.BackgroundTask, error) {
	query := `SELECT id, type, description, status, created_at, completed_at, result, error FROM background_tasks WHERE 1=1`
	var args []any
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: list_tasks: %w", err)
	}
	defer rows.Close()
	var out []types.BackgroundTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteTask marks id completed with the given opaque JSON result.
func (r *Registry) CompleteTask(ctx context.Context, id, result string) error {
	_, err := r.store.DB().ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		string(types.WorkerCompleted), fmtTime(time.Now()), result, id)
	if err != nil {
		return fmt.Errorf("registry: complete_task: %w", err)
	}
	return nil
}

// FailTask marks id failed with the given error message.
func (r *Registry) FailTask(ctx context.Context, id, cause string) error {
	_, err := r.store.DB().ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(types.WorkerFailed), fmtTime(time.Now()), cause, id)
	if err != nil {
		return fmt.Errorf("registry: fail_task: %w", err)
	}
	return nil
}

// RecoverKilledTasks transitions every unfinished (Pending or Running) task
// to Killed and returns them, analogous to RecoverKilled for workers.
func (r *Registry) RecoverKilledTasks(ctx context.Context) ([]types.BackgroundTask, error) {
	var killed []types.BackgroundTask
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, type, description, status, created_at, completed_at, result, error FROM background_tasks WHERE status IN (?, ?)`,
			string(types.WorkerPending), string(types.WorkerRunning))
		if err != nil {
			return fmt.Errorf("select running tasks: %w", err)
		}
		var ids []string
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan task: %w", err)
			}
			t.Status = types.WorkerKilled
			killed = append(killed, t)
			ids = append(ids, t.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE background_tasks SET status = ?, completed_at = ? WHERE id = ?`,
				string(types.WorkerKilled), fmtTime(time.Now()), id); err != nil {
				return fmt.Errorf("update task %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: recover_killed_tasks: %w", err)
	}
	return killed, nil
}

// --- Task-result queue ---------------------------------------------------

// QueueResult appends content for taskID to the FIFO result queue.
func (r *Registry) QueueResult(ctx context.Context, taskID, content string) (string, error) {
	id, err := r.ids.Generate(types.PrefixQueue, idgen.Ascending)
	if err != nil {
		return "", fmt.Errorf("registry: generate queue id: %w", err)
	}
	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO background_task_queue (id, task_id, created_at, content) VALUES (?, ?, ?, ?)`,
		id, taskID, fmtTime(time.Now()), content)
	if err != nil {
		return "", fmt.Errorf("registry: queue_result: %w", err)
	}
	return id, nil
}

// DrainQueue returns all queued results in FIFO order and deletes them.
func (r *Registry) DrainQueue(ctx context.Context) ([]types.TaskResultQueueEntry, error) {
	var out []types.TaskResultQueueEntry
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, task_id, created_at, content FROM background_task_queue ORDER BY created_at ASC`)
		if err != nil {
			return fmt.Errorf("select queue: %w", err)
		}
		var ids []string
		for rows.Next() {
			var e types.TaskResultQueueEntry
			var createdAt string
			if err := rows.Scan(&e.ID, &e.TaskID, &createdAt, &e.Content); err != nil {
				rows.Close()
				return fmt.Errorf("scan queue entry: %w", err)
			}
			e.CreatedAt = parseTime(createdAt)
			out = append(out, e)
			ids = append(ids, e.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM background_task_queue WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete queue entry %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: drain_queue: %w", err)
	}
	return out, nil
}

// HasQueuedResults reports whether the queue is non-empty.
func (r *Registry) HasQueuedResults(ctx context.Context) (bool, error) {
	var count int
	err := r.store.DB().QueryRowContext(ctx, `SELECT count(*) FROM background_task_queue`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("registry: has_queued_results: %w", err)
	}
	return count > 0, nil
}

// --- Alarms ---------------------------------------------------------------

// CreateAlarm inserts a new unfired alarm.
func (r *Registry) CreateAlarm(ctx context.Context, firesAt time.Time, note string) (string, error) {
	id, err := r.ids.Generate(types.PrefixAlarm, idgen.Ascending)
	if err != nil {
		return "", fmt.Errorf("registry: generate alarm id: %w", err)
	}
	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO alarms (id, fires_at, note, fired) VALUES (?, ?, ?, 0)`,
		id, fmtTime(firesAt), note)
	if err != nil {
		return "", fmt.Errorf("registry: create_alarm: %w", err)
	}
	return id, nil
}

func scanAlarm(row interface{ Scan(...any) error }) (types.Alarm, error) {
	var a types.Alarm
	var firesAt string
	var fired int
	if err := row.Scan(&a.ID, &firesAt, &a.Note, &fired); err != nil {
		return types.Alarm{}, err
	}
	a.FiresAt = parseTime(firesAt)
	a.Fired = fired != 0
	return a, nil
}

// GetDueAlarms returns unfired alarms whose fires_at is before now,
// ordered by fires_at.
func (r *Registry) GetDueAlarms(ctx context.Context, now time.Time) ([]types.Alarm, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, fires_at, note, fired FROM alarms WHERE fired = 0 AND fires_at < ? ORDER BY fires_at ASC`,
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("registry: get_due_alarms: %w", err)
	}
	defer rows.Close()
	var out []types.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan alarm: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlarmFired sets fired=true for id.
func (r *Registry) MarkAlarmFired(ctx context.Context, id string) error {
	_, err := r.store.DB().ExecContext(ctx, `UPDATE alarms SET fired = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("registry: mark_alarm_fired: %w", err)
	}
	return nil
}

// ListAlarms returns all alarms, including fired ones if includeFired.
func (r *Registry) ListAlarms(ctx context.Context, includeFired bool) ([]types.Alarm, error) {
	query := `SELECT id, fires_at, note, fired FROM alarms`
	if !includeFired {
		query += ` WHERE fired = 0`
	}
	query += ` ORDER BY fires_at ASC`

	rows, err := r.store.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("registry: list_alarms: %w", err)
	}
	defer rows.Close()
	var out []types.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan alarm: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
