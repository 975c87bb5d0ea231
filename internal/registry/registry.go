// Package registry implements C9: worker-lifecycle records, the
// background-report queue, background tasks, the task-result queue, and
// alarms. It is grounded on the teacher's internal/storage/sqlite query
// style (prepared statements, explicit column lists) applied to the
// spec's worker/report/task/queue/alarm schema.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/types"
)

// Registry is the C9 background registry, backed by a *store.Store.
type Registry struct {
	store *store.Store
	ids   *idgen.Generator
}

// New wraps s as a Registry, using the given id generator (idgen.Default()
// if gen is nil).
func New(s *store.Store, gen *idgen.Generator) *Registry {
	if gen == nil {
		gen = idgen.Default()
	}
	return &Registry{store: s, ids: gen}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// --- Workers -----------------------------------------------------------

// CreateWorker inserts a new worker record with Status=Running and
// StartedAt=now, returning its id.
func (r *Registry) CreateWorker(ctx context.Context, kind types.WorkerKind) (string, error) {
	id, err := r.ids.Generate(types.PrefixWorker, idgen.Ascending)
	if err != nil {
		return "", fmt.Errorf("registry: generate worker id: %w", err)
	}
	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO workers (id, type, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(kind), string(types.WorkerRunning), fmtTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("registry: create_worker: %w", err)
	}
	return id, nil
}

// CompleteWorker marks id as completed.
func (r *Registry) CompleteWorker(ctx context.Context, id string) error {
	_, err := r.store.DB().ExecContext(ctx,
		`UPDATE workers SET status = ?, completed_at = ? WHERE id = ?`,
		string(types.WorkerCompleted), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("registry: complete_worker: %w", err)
	}
	return nil
}

// FailWorker marks id as failed with the given error message.
func (r *Registry) FailWorker(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.store.DB().ExecContext(ctx,
		`UPDATE workers SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(types.WorkerFailed), fmtTime(time.Now()), msg, id)
	if err != nil {
		return fmt.Errorf("registry: fail_worker: %w", err)
	}
	return nil
}

// KillWorker marks id as killed: the terminal state for a worker that was
// cancelled mid-run rather than one that failed on its own (spec §4.7.1
// cancellation semantics). cause, if non-nil, is recorded in error the same
// way FailWorker records one.
func (r *Registry) KillWorker(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.store.DB().ExecContext(ctx,
		`UPDATE workers SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(types.WorkerKilled), fmtTime(time.Now()), msg, id)
	if err != nil {
		return fmt.Errorf("registry: kill_worker: %w", err)
	}
	return nil
}

func scanWorker(row interface{ Scan(...any) error }) (types.Worker, error) {
	var w types.Worker
	var kind, status, startedAt string
	var completedAt, errStr sql.NullString
	if err := row.Scan(&w.ID, &kind, &status, &startedAt, &completedAt, &errStr); err != nil {
		return types.Worker{}, err
	}
	w.Kind = types.WorkerKind(kind)
	w.Status = types.WorkerStatus(status)
	w.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		w.CompletedAt = &t
	}
	if errStr.Valid {
		w.Error = &errStr.String
	}
	return w, nil
}

// GetAllWorkers returns every worker record.
func (r *Registry) GetAllWorkers(ctx context.Context) ([]types.Worker, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, type, status, started_at, completed_at, error FROM workers ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("registry: get_all_workers: %w", err)
	}
	defer rows.Close()
	var out []types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetRunningWorkers returns workers with Status=Running.
func (r *Registry) GetRunningWorkers(ctx context.Context) ([]types.Worker, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, type, status, started_at, completed_at, error FROM workers WHERE status = ? ORDER BY started_at ASC`,
		string(types.WorkerRunning))
	if err != nil {
		return nil, fmt.Errorf("registry: get_running_workers: %w", err)
	}
	defer rows.Close()
	var out []types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecoverKilled transitions every Running worker to Killed and returns
// them. Called once at process start (spec §4.7.3: "startup recovery").
func (r *Registry) RecoverKilled(ctx context.Context) ([]types.Worker, error) {
	var killed []types.Worker
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, type, status, started_at, completed_at, error FROM workers WHERE status = ?`,
			string(types.WorkerRunning))
		if err != nil {
			return fmt.Errorf("select running: %w", err)
		}
		var ids []string
		for rows.Next() {
			w, err := scanWorker(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan: %w", err)
			}
			w.Status = types.WorkerKilled
			killed = append(killed, w)
			ids = append(ids, w.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE workers SET status = ?, completed_at = ? WHERE id = ?`,
				string(types.WorkerKilled), fmtTime(time.Now()), id); err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: recover_killed: %w", err)
	}
	return killed, nil
}

// --- Background reports --------------------------------------------------

// FileReport inserts an unsurfaced report.
func (r *Registry) FileReport(ctx context.Context, subsystem, report string) (string, error) {
	id, err := r.ids.Generate(types.PrefixReport, idgen.Ascending)
	if err != nil {
		return "", fmt.Errorf("registry: generate report id: %w", err)
	}
	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO background_reports (id, created_at, subsystem, report, surfaced_at) VALUES (?, ?, ?, ?, NULL)`,
		id, fmtTime(time.Now()), subsystem, report)
	if err != nil {
		return "", fmt.Errorf("registry: file_report: %w", err)
	}
	return id, nil
}

// GetUnsurfaced returns reports with surfaced_at IS NULL, ordered by
// created_at.
func (r *Registry) GetUnsurfaced(ctx context.Context) ([]types.BackgroundReport, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, created_at, subsystem, report, surfaced_at FROM background_reports
		 WHERE surfaced_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("registry: get_unsurfaced: %w", err)
	}
	defer rows.Close()
	var out []types.BackgroundReport
	for rows.Next() {
		var rep types.BackgroundReport
		var createdAt string
		var surfacedAt sql.NullString
		if err := rows.Scan(&rep.ID, &createdAt, &rep.Subsystem, &rep.Report, &surfacedAt); err != nil {
			return nil, fmt.Errorf("registry: scan report: %w", err)
		}
		rep.CreatedAt = parseTime(createdAt)
		if surfacedAt.Valid {
			t := parseTime(surfacedAt.String)
			rep.SurfacedAt = &t
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// MarkSurfaced timestamps the given report ids as surfaced now.
func (r *Registry) MarkSurfaced(ctx context.Context, ids []string) error {
	now := fmtTime(time.Now())
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE background_reports SET surfaced_at = ? WHERE id = ?`, now, id); err != nil {
				return fmt.Errorf("mark_surfaced %s: %w", id, err)
			}
		}
		return nil
	})
}
