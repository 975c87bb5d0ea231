package ltm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sanity-labs/memvault/internal/types"
)

// Reparent moves slug under newParentSlug (nil = root), rewriting the
// path of every active descendant (spec §4.8). Descendant rewrites are
// not versioned; only the target's own version is bumped.
func (s *Store) Reparent(ctx context.Context, slug string, newParentSlug *string, expectedVersion int, updatedBy types.AgentRole) (types.Entry, error) {
	entry, err := s.readActive(ctx, slug)
	if err != nil {
		return types.Entry{}, err
	}
	if entry == nil {
		return types.Entry{}, fmt.Errorf("ltm: reparent %s: %w", slug, types.ErrNotFound)
	}
	if entry.Version != expectedVersion {
		return types.Entry{}, conflictOrMissing(ctx, s, slug, expectedVersion)
	}

	newPath := "/" + slug
	if newParentSlug != nil {
		parent, err := s.readActive(ctx, *newParentSlug)
		if err != nil {
			return types.Entry{}, err
		}
		if parent == nil {
			return types.Entry{}, fmt.Errorf("ltm: reparent %s: %w", slug, types.ErrParentNotFound)
		}
		if strings.HasPrefix(parent.Path+"/", entry.Path+"/") {
			return types.Entry{}, fmt.Errorf("ltm: reparent %s: %w", slug, types.ErrCircularParent)
		}
		newPath = parent.Path + "/" + slug
	}

	oldPath := entry.Path
	now := time.Now()

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ltm_entries SET parent_slug = ?, path = ?, version = version + 1, updated_by = ?, updated_at = ?
			 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
			nullableString(newParentSlug), newPath, string(updatedBy), formatTime(now), slug, expectedVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrConflictKind
		}
		return rewriteDescendantPaths(ctx, tx, oldPath, newPath)
	})
	if err != nil {
		if err == types.ErrConflictKind {
			return types.Entry{}, conflictOrMissing(ctx, s, slug, expectedVersion)
		}
		return types.Entry{}, fmt.Errorf("ltm: reparent %s: %w", slug, err)
	}

	entry.ParentSlug = newParentSlug
	entry.Path = newPath
	entry.Version = expectedVersion + 1
	entry.UpdatedBy = updatedBy
	entry.UpdatedAt = now
	return *entry, nil
}

// Rename changes slug to newSlug, rewriting parent_slug on direct children
// and path on all descendants (spec §4.8).
func (s *Store) Rename(ctx context.Context, slug, newSlug string, expectedVersion int, updatedBy types.AgentRole) (types.Entry, error) {
	if !ValidSlug(newSlug) {
		return types.Entry{}, fmt.Errorf("ltm: rename %s: invalid slug %q", slug, newSlug)
	}

	entry, err := s.readActive(ctx, slug)
	if err != nil {
		return types.Entry{}, err
	}
	if entry == nil {
		return types.Entry{}, fmt.Errorf("ltm: rename %s: %w", slug, types.ErrNotFound)
	}
	if entry.Version != expectedVersion {
		return types.Entry{}, conflictOrMissing(ctx, s, slug, expectedVersion)
	}

	existing, err := s.readRaw(ctx, newSlug)
	if err != nil {
		return types.Entry{}, err
	}
	if existing != nil {
		return types.Entry{}, fmt.Errorf("ltm: rename %s: %w", slug, types.ErrAlreadyExists)
	}

	oldPath := entry.Path
	segments := strings.Split(oldPath, "/")
	segments[len(segments)-1] = newSlug
	newPath := strings.Join(segments, "/")
	now := time.Now()

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Children's parent_slug references slug; the check waits for commit
		// so the slug and the children's parent_slug can change in turn.
		if _, err := tx.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE ltm_entries SET slug = ?, path = ?, version = version + 1, updated_by = ?, updated_at = ?
			 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
			newSlug, newPath, string(updatedBy), formatTime(now), slug, expectedVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrConflictKind
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ltm_entries SET parent_slug = ? WHERE parent_slug = ?`, newSlug, slug); err != nil {
			return fmt.Errorf("rewrite children parent_slug: %w", err)
		}
		return rewriteDescendantPaths(ctx, tx, oldPath, newPath)
	})
	if err != nil {
		if err == types.ErrConflictKind {
			return types.Entry{}, conflictOrMissing(ctx, s, slug, expectedVersion)
		}
		return types.Entry{}, fmt.Errorf("ltm: rename %s: %w", slug, err)
	}

	entry.Slug = newSlug
	entry.Path = newPath
	entry.Version = expectedVersion + 1
	entry.UpdatedBy = updatedBy
	entry.UpdatedAt = now
	return *entry, nil
}

// rewriteDescendantPaths replaces the oldPath+"/" prefix with newPath+"/"
// on every active row beneath oldPath. Pure prefix substring matching is
// sufficient here because paths are slash-delimited and slugs cannot
// contain slashes.
func rewriteDescendantPaths(ctx context.Context, tx *sql.Tx, oldPath, newPath string) error {
	prefix := oldPath + "/"
	rows, err := tx.QueryContext(ctx,
		`SELECT slug, path FROM ltm_entries WHERE path LIKE ? AND archived_at IS NULL`, prefix+"%")
	if err != nil {
		return fmt.Errorf("select descendants: %w", err)
	}
	type rewrite struct{ slug, path string }
	var rewrites []rewrite
	for rows.Next() {
		var r rewrite
		if err := rows.Scan(&r.slug, &r.path); err != nil {
			rows.Close()
			return fmt.Errorf("scan descendant: %w", err)
		}
		if strings.HasPrefix(r.path, prefix) {
			rewrites = append(rewrites, r)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range rewrites {
		newDescendantPath := newPath + "/" + strings.TrimPrefix(r.path, prefix)
		if _, err := tx.ExecContext(ctx,
			`UPDATE ltm_entries SET path = ? WHERE slug = ?`, newDescendantPath, r.slug); err != nil {
			return fmt.Errorf("rewrite descendant %s: %w", r.slug, err)
		}
	}
	return nil
}
