package temporal

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanity-labs/memvault/internal/types"
)

// TagMode selects how SearchParams.Tags are combined.
type TagMode string

const (
	TagModeAny TagMode = "any"
	TagModeAll TagMode = "all"
)

// SearchParams filters Search (spec §4.3).
type SearchParams struct {
	Query   string
	FromID  string
	ToID    string
	Kinds   []types.MessageKind // empty means "all kinds"
	Tags    []string            // empty means "no tag filter"
	TagMode TagMode
}

// SearchHit is exactly one of Message or Summary set.
type SearchHit struct {
	Message *types.Message
	Summary *types.Summary
}

// Search performs a linear keyword match over message content and summary
// narrative+observations, honoring the id range / kind / tag filters.
func (l *Log) Search(ctx context.Context, p SearchParams) ([]SearchHit, error) {
	messages, err := l.GetMessages(ctx, p.FromID, p.ToID)
	if err != nil {
		return nil, err
	}
	summaries, err := l.GetSummaries(ctx, nil)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(p.Query))
	kindSet := make(map[types.MessageKind]bool, len(p.Kinds))
	for _, k := range p.Kinds {
		kindSet[k] = true
	}

	var hits []SearchHit
	for i := range messages {
		m := messages[i]
		if len(kindSet) > 0 && !kindSet[m.Kind] {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Content), query) {
			continue
		}
		hits = append(hits, SearchHit{Message: &messages[i]})
	}

	for i := range summaries {
		s := summaries[i]
		if p.FromID != "" && s.EndID < p.FromID {
			continue
		}
		if p.ToID != "" && s.StartID > p.ToID {
			continue
		}
		if len(p.Tags) > 0 && !matchesTags(s.Tags, p.Tags, p.TagMode) {
			continue
		}
		if query != "" && !summaryMatches(s, query) {
			continue
		}
		hits = append(hits, SearchHit{Summary: &summaries[i]})
	}

	return hits, nil
}

func summaryMatches(s types.Summary, query string) bool {
	if strings.Contains(strings.ToLower(s.Narrative), query) {
		return true
	}
	for _, obs := range s.KeyObservations {
		if strings.Contains(strings.ToLower(obs), query) {
			return true
		}
	}
	return false
}

func matchesTags(have, want []string, mode TagMode) bool {
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[t] = true
	}
	if mode == TagModeAll {
		for _, w := range want {
			if !haveSet[w] {
				return false
			}
		}
		return true
	}
	for _, w := range want {
		if haveSet[w] {
			return true
		}
	}
	return false
}

// FTSHit is a relevance-ranked search_fts result with a highlighted
// excerpt (spec §4.3, §6: ">>>"/"<<<" markers, "..." for truncation).
type FTSHit struct {
	ID      string
	Kind    string // "message" or "summary"
	Snippet string
	Rank    float64
}

// SearchFTS performs a relevance-ranked snippet search over the optional
// FTS index. If the index is unavailable it falls back to Search and
// reports usedFTS=false rather than silently returning unranked output
// labeled as ranked (§9 Design Notes: "Search backends").
func (l *Log) SearchFTS(ctx context.Context, query string, limit int) (hits []FTSHit, usedFTS bool, err error) {
	if !l.store.FTSAvailable() {
		fallback, ferr := l.Search(ctx, SearchParams{Query: query})
		if ferr != nil {
			return nil, false, ferr
		}
		return fallbackHits(fallback, limit), false, nil
	}

	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT id, content, rank FROM temporal_messages_fts WHERE temporal_messages_fts MATCH ? ORDER BY rank LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, false, fmt.Errorf("temporal: search_fts messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, content string
		var rank float64
		if err := rows.Scan(&id, &content, &rank); err != nil {
			return nil, false, fmt.Errorf("temporal: scan fts message hit: %w", err)
		}
		hits = append(hits, FTSHit{ID: id, Kind: "message", Snippet: highlight(content, query), Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("temporal: iterate fts message hits: %w", err)
	}

	sumRows, err := l.store.DB().QueryContext(ctx,
		`SELECT id, narrative, rank FROM temporal_summaries_fts WHERE temporal_summaries_fts MATCH ? ORDER BY rank LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, false, fmt.Errorf("temporal: search_fts summaries: %w", err)
	}
	defer sumRows.Close()
	for sumRows.Next() {
		var id, narrative string
		var rank float64
		if err := sumRows.Scan(&id, &narrative, &rank); err != nil {
			return nil, false, fmt.Errorf("temporal: scan fts summary hit: %w", err)
		}
		hits = append(hits, FTSHit{ID: id, Kind: "summary", Snippet: highlight(narrative, query), Rank: rank})
	}
	if err := sumRows.Err(); err != nil {
		return nil, false, fmt.Errorf("temporal: iterate fts summary hits: %w", err)
	}

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, true, nil
}

func fallbackHits(hits []SearchHit, limit int) []FTSHit {
	out := make([]FTSHit, 0, len(hits))
	for _, h := range hits {
		switch {
		case h.Message != nil:
			out = append(out, FTSHit{ID: h.Message.ID, Kind: "message", Snippet: h.Message.Content})
		case h.Summary != nil:
			out = append(out, FTSHit{ID: h.Summary.ID, Kind: "summary", Snippet: h.Summary.Narrative})
		}
		if len(out) >= limit && limit > 0 {
			break
		}
	}
	return out
}

// highlight wraps the first occurrence of query in text with >>>/<<<
// markers and truncates long surrounding context with "...", matching the
// snippet format fixed in spec §6.
func highlight(text, query string) string {
	const context = 40
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(query))
	if idx < 0 {
		if len(text) > 2*context {
			return text[:2*context] + "..."
		}
		return text
	}

	start := idx - context
	prefix := ""
	if start < 0 {
		start = 0
	} else {
		prefix = "..."
	}

	end := idx + len(query) + context
	suffix := ""
	if end >= len(text) {
		end = len(text)
	} else {
		suffix = "..."
	}

	return prefix + text[start:idx] + ">>>" + text[idx:idx+len(query)] + "<<<" + text[idx+len(query):end] + suffix
}
