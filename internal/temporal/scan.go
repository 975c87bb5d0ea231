package temporal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sanity-labs/memvault/internal/coverage"
	"github.com/sanity-labs/memvault/internal/types"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (types.Message, error) {
	var m types.Message
	var kind, createdAt string
	if err := row.Scan(&m.ID, &kind, &m.Content, &m.TokenEstimate, &createdAt); err != nil {
		return types.Message{}, err
	}
	m.Kind = normalizeKind(kind)
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func normalizeKind(raw string) types.MessageKind {
	switch types.MessageKind(raw) {
	case types.MessageUser, types.MessageAssistant, types.MessageToolCall, types.MessageToolResult, types.MessageSystem:
		return types.MessageKind(raw)
	default:
		return types.MessageUnknown
	}
}

func scanMessages(rows *sql.Rows) ([]types.Message, error) {
	var out []types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("temporal: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("temporal: iterate messages: %w", err)
	}
	return out, nil
}

func scanSummary(row rowScanner) (types.Summary, error) {
	var s types.Summary
	var obsJSON, tagsJSON, createdAt string
	if err := row.Scan(&s.ID, &s.OrderNum, &s.StartID, &s.EndID, &s.Narrative, &obsJSON, &tagsJSON, &s.TokenEstimate, &createdAt); err != nil {
		return types.Summary{}, err
	}
	if obsJSON != "" {
		if err := json.Unmarshal([]byte(obsJSON), &s.KeyObservations); err != nil {
			return types.Summary{}, fmt.Errorf("unmarshal key_observations for %s: %w", s.ID, err)
		}
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &s.Tags); err != nil {
			return types.Summary{}, fmt.Errorf("unmarshal tags for %s: %w", s.ID, err)
		}
	}
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

func scanSummaries(rows *sql.Rows) ([]types.Summary, error) {
	var out []types.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("temporal: scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("temporal: iterate summaries: %w", err)
	}
	return out, nil
}

func effectiveSummaries(all []types.Summary) []types.Summary {
	return coverage.EffectiveSummaries(all)
}

func sortByStartID(summaries []types.Summary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartID < summaries[j].StartID
	})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "CONSTRAINT")
}
