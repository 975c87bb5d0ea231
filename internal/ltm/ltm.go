// Package ltm implements C8: the versioned, hierarchical long-term-memory
// forest with optimistic-concurrency mutation. It is grounded on the same
// query style as internal/temporal (prepared statements over *store.Store)
// applied to the spec's slug/path/version schema instead of an append-only
// log.
package ltm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/types"
)

// Store is the C8 LTM forest, backed by a *store.Store.
type Store struct {
	store *store.Store
}

// New wraps s as an LTM Store.
func New(s *store.Store) *Store {
	return &Store{store: s}
}

// slugPattern enforces spec §4.8: 1-64 chars, lowercase ascii alphanumerics
// and hyphens, no leading/trailing/consecutive hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether slug satisfies the §4.8 constraints.
func ValidSlug(slug string) bool {
	if len(slug) < 1 || len(slug) > 64 {
		return false
	}
	return slugPattern.MatchString(slug)
}

// CreateParams bundles the arguments to Create.
type CreateParams struct {
	Slug       string
	ParentSlug *string
	Title      string
	Body       string
	Links      []string
	CreatedBy  types.AgentRole
}

// Create inserts a new version-1 entry. Fails with types.ErrAlreadyExists
// if slug is taken (active or archived), and types.ErrParentNotFound if
// ParentSlug is non-nil and does not resolve to an active entry.
func (s *Store) Create(ctx context.Context, p CreateParams) (types.Entry, error) {
	if !ValidSlug(p.Slug) {
		return types.Entry{}, fmt.Errorf("ltm: invalid slug %q", p.Slug)
	}

	existing, err := s.readRaw(ctx, p.Slug)
	if err != nil {
		return types.Entry{}, err
	}
	if existing != nil {
		return types.Entry{}, fmt.Errorf("ltm: create %s: %w", p.Slug, types.ErrAlreadyExists)
	}

	path := "/" + p.Slug
	if p.ParentSlug != nil {
		parent, err := s.readActive(ctx, *p.ParentSlug)
		if err != nil {
			return types.Entry{}, err
		}
		if parent == nil {
			return types.Entry{}, fmt.Errorf("ltm: create %s: %w", p.Slug, types.ErrParentNotFound)
		}
		path = parent.Path + "/" + p.Slug
	}

	now := time.Now()
	links, err := json.Marshal(p.Links)
	if err != nil {
		return types.Entry{}, fmt.Errorf("ltm: marshal links: %w", err)
	}

	_, err = s.store.DB().ExecContext(ctx,
		`INSERT INTO ltm_entries (slug, parent_slug, path, title, body, links, version, created_by, updated_by, archived_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, NULL, ?, ?)`,
		p.Slug, nullableString(p.ParentSlug), path, p.Title, p.Body, string(links),
		string(p.CreatedBy), string(p.CreatedBy), formatTime(now), formatTime(now))
	if err != nil {
		return types.Entry{}, fmt.Errorf("ltm: create %s: %w", p.Slug, err)
	}

	return types.Entry{
		Slug: p.Slug, ParentSlug: p.ParentSlug, Path: path, Title: p.Title, Body: p.Body,
		Links: p.Links, Version: 1, CreatedBy: p.CreatedBy, UpdatedBy: p.CreatedBy,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Read returns the active entry with slug, or ok=false if it does not
// exist or is archived (archived rows are treated as missing, spec §4.8).
func (s *Store) Read(ctx context.Context, slug string) (types.Entry, bool, error) {
	e, err := s.readActive(ctx, slug)
	if err != nil {
		return types.Entry{}, false, err
	}
	if e == nil {
		return types.Entry{}, false, nil
	}
	return *e, true, nil
}

// Update performs a CAS body replacement: the write succeeds only if slug
// is active at expectedVersion. Returns the new record with version+1.
func (s *Store) Update(ctx context.Context, slug, newBody string, expectedVersion int, updatedBy types.AgentRole) (types.Entry, error) {
	current, err := s.readActive(ctx, slug)
	if err != nil {
		return types.Entry{}, err
	}
	if current == nil {
		return types.Entry{}, fmt.Errorf("ltm: update %s: %w", slug, types.ErrNotFound)
	}
	if err := s.checkCAS(ctx, slug, expectedVersion); err != nil {
		return types.Entry{}, err
	}

	now := time.Now()
	res, err := s.store.DB().ExecContext(ctx,
		`UPDATE ltm_entries SET body = ?, version = version + 1, updated_by = ?, updated_at = ?
		 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
		newBody, string(updatedBy), formatTime(now), slug, expectedVersion)
	if err != nil {
		return types.Entry{}, fmt.Errorf("ltm: update %s: %w", slug, err)
	}
	if rowsAffected(res) == 0 {
		return types.Entry{}, conflictOrMissing(ctx, s, slug, expectedVersion)
	}

	current.Body = newBody
	current.Version = expectedVersion + 1
	current.UpdatedBy = updatedBy
	current.UpdatedAt = now
	return *current, nil
}

// Edit performs a surgical find-and-replace CAS update (spec §4.8): body
// must contain oldText exactly once.
func (s *Store) Edit(ctx context.Context, slug, oldText, newText string, expectedVersion int, updatedBy types.AgentRole) (types.Entry, error) {
	current, err := s.readActive(ctx, slug)
	if err != nil {
		return types.Entry{}, err
	}
	if current == nil {
		return types.Entry{}, fmt.Errorf("ltm: edit %s: %w", slug, types.ErrNotFound)
	}

	count := strings.Count(current.Body, oldText)
	if count == 0 {
		return types.Entry{}, fmt.Errorf("ltm: edit %s: %w", slug, types.ErrTextNotFound)
	}
	if count > 1 {
		return types.Entry{}, fmt.Errorf("ltm: edit %s: %w", slug, types.ErrAmbiguousEdit)
	}

	newBody := strings.Replace(current.Body, oldText, newText, 1)
	return s.Update(ctx, slug, newBody, expectedVersion, updatedBy)
}

// Archive sets archived_at=now via CAS. Children are NOT archived.
func (s *Store) Archive(ctx context.Context, slug string, expectedVersion int) error {
	now := time.Now()
	res, err := s.store.DB().ExecContext(ctx,
		`UPDATE ltm_entries SET archived_at = ?, version = version + 1
		 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
		formatTime(now), slug, expectedVersion)
	if err != nil {
		return fmt.Errorf("ltm: archive %s: %w", slug, err)
	}
	if rowsAffected(res) == 0 {
		return conflictOrMissing(ctx, s, slug, expectedVersion)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
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

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// conflictOrMissing distinguishes a CAS failure (row exists at a different
// version) from NotFound/Archived, per spec §4.8 and §7.
func conflictOrMissing(ctx context.Context, s *Store, slug string, expectedVersion int) error {
	row, err := s.readRaw(ctx, slug)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("ltm: %s: %w", slug, types.ErrNotFound)
	}
	if row.ArchivedAt != nil {
		return fmt.Errorf("ltm: %s: %w", slug, types.ErrArchived)
	}
	return fmt.Errorf("ltm: %s: %w", slug, &types.ConflictError{Slug: slug, Expected: expectedVersion, Actual: row.Version})
}

// checkCAS is a pre-flight convenience used by Update before the real
// CAS write, so callers that only want the error (not the 0-row UPDATE
// cost) can short-circuit. The authoritative check remains the UPDATE's
// WHERE clause.
func (s *Store) checkCAS(ctx context.Context, slug string, expectedVersion int) error {
	row, err := s.readActive(ctx, slug)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("ltm: %s: %w", slug, types.ErrNotFound)
	}
	if row.Version != expectedVersion {
		return fmt.Errorf("ltm: %s: %w", slug, &types.ConflictError{Slug: slug, Expected: expectedVersion, Actual: row.Version})
	}
	return nil
}

func (s *Store) readActive(ctx context.Context, slug string) (*types.Entry, error) {
	e, err := s.readRaw(ctx, slug)
	if err != nil {
		return nil, err
	}
	if e == nil || e.ArchivedAt != nil {
		return nil, nil
	}
	return e, nil
}

func (s *Store) readRaw(ctx context.Context, slug string) (*types.Entry, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT slug, parent_slug, path, title, body, links, version, created_by, updated_by, archived_at, created_at, updated_at
		 FROM ltm_entries WHERE slug = ?`, slug)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ltm: read %s: %w", slug, err)
	}
	return &e, nil
}

func scanEntry(row interface{ Scan(...any) error }) (types.Entry, error) {
	var e types.Entry
	var parentSlug, archivedAt sql.NullString
	var links string
	var createdBy, updatedBy string
	var createdAt, updatedAt string
	if err := row.Scan(&e.Slug, &parentSlug, &e.Path, &e.Title, &e.Body, &links, &e.Version,
		&createdBy, &updatedBy, &archivedAt, &createdAt, &updatedAt); err != nil {
		return types.Entry{}, err
	}
	if parentSlug.Valid {
		v := parentSlug.String
		e.ParentSlug = &v
	}
	if archivedAt.Valid {
		t := parseTime(archivedAt.String)
		e.ArchivedAt = &t
	}
	if err := json.Unmarshal([]byte(links), &e.Links); err != nil {
		e.Links = nil
	}
	e.CreatedBy = types.AgentRole(createdBy)
	e.UpdatedBy = types.AgentRole(updatedBy)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}
