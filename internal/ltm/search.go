package ltm

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sanity-labs/memvault/internal/types"
)

// Glob returns active entries whose path matches pattern (spec §4.8):
// "*" matches any substring not containing "/", "**" matches any
// substring including "/". Patterns not beginning with "/" get one
// prepended. Results are ordered by path and, if maxDepth > 0, filtered
// to depth <= maxDepth (path segment count).
func (s *Store) Glob(ctx context.Context, pattern string, maxDepth int) ([]types.Entry, error) {
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("ltm: glob: %w", err)
	}

	all, err := s.allActive(ctx)
	if err != nil {
		return nil, err
	}

	var out []types.Entry
	for _, e := range all {
		if !re.MatchString(e.Path) {
			continue
		}
		if maxDepth > 0 && depth(e.Path) > maxDepth {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// globToRegexp translates a "*"/"**" glob path pattern into an anchored
// regexp: "**" becomes ".*", "*" becomes "[^/]*", everything else is
// escaped literally.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i++
		case pattern[i] == '*':
			b.WriteString("[^/]*")
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func depth(path string) int {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}

// Search performs a case-insensitive substring match over title and body,
// excluding archived entries, scored 2*titleMatch + 1*bodyMatch and
// sorted by score descending (spec §4.8).
func (s *Store) Search(ctx context.Context, query string, pathPrefix string) ([]types.Entry, error) {
	all, err := s.allActive(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)

	type scored struct {
		entry types.Entry
		score int
	}
	var hits []scored
	for _, e := range all {
		if pathPrefix != "" && !strings.HasPrefix(e.Path, pathPrefix) {
			continue
		}
		score := 0
		if strings.Contains(strings.ToLower(e.Title), q) {
			score += 2
		}
		if strings.Contains(strings.ToLower(e.Body), q) {
			score += 1
		}
		if score > 0 {
			hits = append(hits, scored{entry: e, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]types.Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

// FTSHit is a relevance-ranked search_fts result, matching the shape of
// temporal.FTSHit (spec §4.3, §4.8).
type FTSHit struct {
	Slug    string
	Snippet string
	Rank    float64
}

// SearchFTS performs a ranked snippet search over the LTM FTS index,
// ignoring archived entries, falling back to Search when the index is
// unavailable (reporting usedFTS=false rather than mislabeling the
// fallback as ranked, per §9).
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) (hits []FTSHit, usedFTS bool, err error) {
	if !s.store.FTSAvailable() {
		fallback, ferr := s.Search(ctx, query, "")
		if ferr != nil {
			return nil, false, ferr
		}
		if limit > 0 && len(fallback) > limit {
			fallback = fallback[:limit]
		}
		out := make([]FTSHit, len(fallback))
		for i, e := range fallback {
			out[i] = FTSHit{Slug: e.Slug, Snippet: e.Body}
		}
		return out, false, nil
	}

	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT f.slug, f.title, f.body, f.rank FROM ltm_entries_fts f
		 JOIN ltm_entries e ON e.slug = f.slug
		 WHERE f MATCH ? AND e.archived_at IS NULL ORDER BY f.rank LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, false, fmt.Errorf("ltm: search_fts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug, title, body string
		var rank float64
		if err := rows.Scan(&slug, &title, &body, &rank); err != nil {
			return nil, false, fmt.Errorf("ltm: scan fts hit: %w", err)
		}
		hits = append(hits, FTSHit{Slug: slug, Snippet: highlight(body, query), Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("ltm: iterate fts hits: %w", err)
	}
	return hits, true, nil
}

// highlight mirrors temporal's snippet markers (">>>"/"<<<", "..." for
// truncation) so both search_fts implementations produce the same wire
// format (spec §6).
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

// GetChildren returns active entries with the given parent (root-level
// entries when parentSlug is nil), sorted by slug.
func (s *Store) GetChildren(ctx context.Context, parentSlug *string) ([]types.Entry, error) {
	var (
		res []types.Entry
		err error
	)
	if parentSlug == nil {
		res, err = s.queryEntries(ctx,
			`SELECT slug, parent_slug, path, title, body, links, version, created_by, updated_by, archived_at, created_at, updated_at
			 FROM ltm_entries WHERE parent_slug IS NULL AND archived_at IS NULL ORDER BY slug ASC`)
	} else {
		res, err = s.queryEntries(ctx,
			`SELECT slug, parent_slug, path, title, body, links, version, created_by, updated_by, archived_at, created_at, updated_at
			 FROM ltm_entries WHERE parent_slug = ? AND archived_at IS NULL ORDER BY slug ASC`, *parentSlug)
	}
	return res, err
}

func (s *Store) allActive(ctx context.Context) ([]types.Entry, error) {
	return s.queryEntries(ctx,
		`SELECT slug, parent_slug, path, title, body, links, version, created_by, updated_by, archived_at, created_at, updated_at
		 FROM ltm_entries WHERE archived_at IS NULL`)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]types.Entry, error) {
	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ltm: query entries: %w", err)
	}
	defer rows.Close()
	var out []types.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ltm: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
