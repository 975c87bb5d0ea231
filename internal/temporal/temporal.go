// Package temporal implements C3: the append-only message log and the
// immutable summary records layered over it. It is grounded on the query
// style of the teacher's internal/storage/sqlite package (prepared
// queries, wrapDBError-style error wrapping) adapted to the spec's
// message/summary schema instead of issues.
package temporal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/types"
)

// Log is the C3 temporal log, backed by a *store.Store.
type Log struct {
	store *store.Store
}

// New wraps s as a temporal Log.
func New(s *store.Store) *Log {
	return &Log{store: s}
}

// AppendMessage inserts rec. Fails with types.ErrDuplicateID if rec.ID
// already exists (spec §4.3).
func (l *Log) AppendMessage(ctx context.Context, rec types.Message) error {
	_, err := l.store.DB().ExecContext(ctx,
		`INSERT INTO temporal_messages (id, type, content, token_estimate, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Content, rec.TokenEstimate, formatTime(rec.CreatedAt))
	if err != nil {
		return wrapUnique(err, rec.ID)
	}
	return nil
}

// CreateSummary inserts rec. Summaries are never updated once written.
func (l *Log) CreateSummary(ctx context.Context, rec types.Summary) error {
	obs, err := json.Marshal(rec.KeyObservations)
	if err != nil {
		return fmt.Errorf("temporal: marshal key_observations: %w", err)
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("temporal: marshal tags: %w", err)
	}
	_, err = l.store.DB().ExecContext(ctx,
		`INSERT INTO temporal_summaries (id, order_num, start_id, end_id, narrative, key_observations, tags, token_estimate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrderNum, rec.StartID, rec.EndID, rec.Narrative, string(obs), string(tags), rec.TokenEstimate, formatTime(rec.CreatedAt))
	if err != nil {
		return wrapUnique(err, rec.ID)
	}
	return nil
}

// GetMessages returns messages with id in [from, to] (either bound may be
// "" for unbounded), sorted ascending by id.
func (l *Log) GetMessages(ctx context.Context, from, to string) ([]types.Message, error) {
	query := `SELECT id, type, content, token_estimate, created_at FROM temporal_messages WHERE 1=1`
	var args []any
	if from != "" {
		query += ` AND id >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND id <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY id ASC`

	rows, err := l.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("temporal: get_messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessage returns the message with id, or (types.Message{}, false, nil)
// if none exists.
func (l *Log) GetMessage(ctx context.Context, id string) (types.Message, bool, error) {
	row := l.store.DB().QueryRowContext(ctx,
		`SELECT id, type, content, token_estimate, created_at FROM temporal_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return types.Message{}, false, nil
	}
	if err != nil {
		return types.Message{}, false, fmt.Errorf("temporal: get_message: %w", err)
	}
	return m, true, nil
}

// ContextWindow is the result of GetMessageWithContext: the target message
// flanked by up to `before` earlier and `after` later messages.
type ContextWindow struct {
	Messages []types.Message
	Found    bool
}

// GetMessageWithContext returns id flanked by up to before earlier and
// after later messages, all ascending by id. Returns Found=false (and an
// empty slice) if id does not exist.
func (l *Log) GetMessageWithContext(ctx context.Context, id string, before, after int) (ContextWindow, error) {
	target, ok, err := l.GetMessage(ctx, id)
	if err != nil {
		return ContextWindow{}, err
	}
	if !ok {
		return ContextWindow{}, nil
	}

	rowsBefore, err := l.store.DB().QueryContext(ctx,
		`SELECT id, type, content, token_estimate, created_at FROM temporal_messages
		 WHERE id < ? ORDER BY id DESC LIMIT ?`, id, before)
	if err != nil {
		return ContextWindow{}, fmt.Errorf("temporal: get_message_with_context (before): %w", err)
	}
	beforeMsgs, err := scanMessages(rowsBefore)
	if err != nil {
		return ContextWindow{}, err
	}
	reverse(beforeMsgs)

	rowsAfter, err := l.store.DB().QueryContext(ctx,
		`SELECT id, type, content, token_estimate, created_at FROM temporal_messages
		 WHERE id > ? ORDER BY id ASC LIMIT ?`, id, after)
	if err != nil {
		return ContextWindow{}, fmt.Errorf("temporal: get_message_with_context (after): %w", err)
	}
	afterMsgs, err := scanMessages(rowsAfter)
	if err != nil {
		return ContextWindow{}, err
	}

	all := make([]types.Message, 0, len(beforeMsgs)+1+len(afterMsgs))
	all = append(all, beforeMsgs...)
	all = append(all, target)
	all = append(all, afterMsgs...)
	return ContextWindow{Messages: all, Found: true}, nil
}

// GetSummaries returns summaries, optionally filtered to a single order,
// sorted by (order_num ASC, id ASC).
func (l *Log) GetSummaries(ctx context.Context, order *int) ([]types.Summary, error) {
	query := `SELECT id, order_num, start_id, end_id, narrative, key_observations, tags, token_estimate, created_at
	          FROM temporal_summaries WHERE 1=1`
	var args []any
	if order != nil {
		query += ` AND order_num = ?`
		args = append(args, *order)
	}
	query += ` ORDER BY order_num ASC, id ASC`

	rows, err := l.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("temporal: get_summaries: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// GetHighestOrderSummaries returns the subsumption-maximal set (§4.4),
// sorted by start_id.
func (l *Log) GetHighestOrderSummaries(ctx context.Context) ([]types.Summary, error) {
	all, err := l.GetSummaries(ctx, nil)
	if err != nil {
		return nil, err
	}
	eff := effectiveSummaries(all)
	sortByStartID(eff)
	return eff, nil
}

// EstimateUncompactedTokens sums token_estimate over messages whose id
// exceeds the greatest end_id over all summaries (0 if no summaries).
func (l *Log) EstimateUncompactedTokens(ctx context.Context) (int, error) {
	lastEnd, ok, err := l.GetLastSummaryEndID(ctx)
	if err != nil {
		return 0, err
	}

	var total sql.NullInt64
	var err2 error
	if ok {
		err2 = l.store.DB().QueryRowContext(ctx,
			`SELECT COALESCE(SUM(token_estimate), 0) FROM temporal_messages WHERE id > ?`, lastEnd).Scan(&total)
	} else {
		err2 = l.store.DB().QueryRowContext(ctx,
			`SELECT COALESCE(SUM(token_estimate), 0) FROM temporal_messages`).Scan(&total)
	}
	if err2 != nil {
		return 0, fmt.Errorf("temporal: estimate_uncompacted_tokens: %w", err2)
	}
	return int(total.Int64), nil
}

// GetLastSummaryEndID returns the greatest end_id over all summaries, or
// ok=false if there are none.
func (l *Log) GetLastSummaryEndID(ctx context.Context) (string, bool, error) {
	var endID sql.NullString
	err := l.store.DB().QueryRowContext(ctx,
		`SELECT MAX(end_id) FROM temporal_summaries`).Scan(&endID)
	if err != nil {
		return "", false, fmt.Errorf("temporal: get_last_summary_end_id: %w", err)
	}
	if !endID.Valid {
		return "", false, nil
	}
	return endID.String, true, nil
}

func formatTime(t time.Time) string {
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

func wrapUnique(err error, id string) error {
	if err == nil {
		return nil
	}
	// ncruces/go-sqlite3 reports UNIQUE constraint violations via a
	// driver-specific error string; matching on substring mirrors the
	// teacher's wrapDBError approach of normalizing driver errors to the
	// package's own sentinels rather than leaking raw SQL errors.
	if isUniqueViolation(err) {
		return fmt.Errorf("temporal: append %s: %w", id, types.ErrDuplicateID)
	}
	return fmt.Errorf("temporal: insert %s: %w", id, err)
}

func reverse(ms []types.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
