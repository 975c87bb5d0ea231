// Package store is the C2 component: a WAL-mode durable SQL backend with
// enforced referential integrity, a configurable busy timeout, and an
// in-memory mode for tests. It owns schema initialization and exposes
// transactions (WithTx) and the raw *sql.DB (DB) to the other core
// packages of this module.
//
// Grounded on the teacher's internal/storage/sqlite package (open/config
// patterns) and cmd/bd/doctor/database.go, which opens the pure-Go
// ncruces/go-sqlite3 driver with a pragma-laden DSN instead of a cgo
// driver — the same approach is used here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultBusyTimeout is the §4.2 default busy timeout for file-backed
// stores.
const DefaultBusyTimeout = 5 * time.Second

// Store wraps a *sql.DB opened against either a file path or ":memory:".
type Store struct {
	db           *sql.DB
	path         string
	logger       *slog.Logger
	ftsAvailable bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
	logger      *slog.Logger
}

// WithBusyTimeout overrides DefaultBusyTimeout for file-backed stores. It
// has no effect for ":memory:" (§6: "opening in-memory MUST NOT" enable a
// busy timeout).
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithLogger injects a *slog.Logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open opens path, initializing the schema idempotently. path == ":memory:"
// yields an ephemeral store with neither WAL nor a busy timeout; any other
// path enables both, plus foreign_keys enforcement in both modes (§6).
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: DefaultBusyTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := buildDSN(path, o.busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("store: building dsn: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The embedded/WASM sqlite3 driver serializes writes internally; a
	// single connection avoids "database is locked" races entirely for
	// file-backed stores, and is required for ":memory:" to share state
	// across callers (each new connection otherwise gets its own private
	// in-memory database).
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: o.logger}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func buildDSN(path string, busyTimeout time.Duration) (string, error) {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_pragma=foreign_keys(ON)", nil
	}
	ms := int(busyTimeout / time.Millisecond)
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, ms,
	), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the path Open was called with.
func (s *Store) Path() string {
	return s.path
}

// DB returns the escape hatch raw handle. It is exported for use by sibling
// core packages (temporal, ltm, registry) that live in the same module and
// need direct query/exec access; it is deliberately not exposed to callers
// outside this module's internal tree.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. It is the primary write path for CAS-style operations
// (C8) that must observe-then-write atomically.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("store: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
