package store

import (
	"context"
	"fmt"
)

// schemaDDL is the idempotent schema from spec §6. Table and column names
// are the persistence contract and must not change without a migration.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS temporal_messages (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	content        TEXT NOT NULL,
	token_estimate INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_temporal_messages_created_at ON temporal_messages(created_at);

CREATE TABLE IF NOT EXISTS temporal_summaries (
	id               TEXT PRIMARY KEY,
	order_num        INTEGER NOT NULL,
	start_id         TEXT NOT NULL,
	end_id           TEXT NOT NULL,
	narrative        TEXT NOT NULL,
	key_observations TEXT NOT NULL DEFAULT '[]',
	tags             TEXT NOT NULL DEFAULT '[]',
	token_estimate   INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_temporal_summaries_order ON temporal_summaries(order_num, id);
CREATE INDEX IF NOT EXISTS idx_temporal_summaries_end_id ON temporal_summaries(end_id);
CREATE INDEX IF NOT EXISTS idx_temporal_summaries_start_id ON temporal_summaries(start_id);

CREATE TABLE IF NOT EXISTS present_state (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	mission TEXT NOT NULL DEFAULT '',
	status  TEXT NOT NULL DEFAULT '',
	tasks   TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS ltm_entries (
	slug        TEXT PRIMARY KEY,
	parent_slug TEXT,
	path        TEXT NOT NULL,
	title       TEXT NOT NULL,
	body        TEXT NOT NULL,
	links       TEXT NOT NULL DEFAULT '[]',
	version     INTEGER NOT NULL DEFAULT 1,
	created_by  TEXT NOT NULL,
	updated_by  TEXT NOT NULL,
	archived_at TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	FOREIGN KEY (parent_slug) REFERENCES ltm_entries(slug)
);
CREATE INDEX IF NOT EXISTS idx_ltm_entries_path ON ltm_entries(path);
CREATE INDEX IF NOT EXISTS idx_ltm_entries_parent ON ltm_entries(parent_slug);
CREATE INDEX IF NOT EXISTS idx_ltm_entries_archived ON ltm_entries(archived_at);

CREATE TABLE IF NOT EXISTS session_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workers (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status);

CREATE TABLE IF NOT EXISTS background_reports (
	id          TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	subsystem   TEXT NOT NULL,
	report      TEXT NOT NULL,
	surfaced_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_background_reports_surfaced ON background_reports(surfaced_at);

CREATE TABLE IF NOT EXISTS background_tasks (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	description  TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	completed_at TEXT,
	result       TEXT,
	error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_background_tasks_status ON background_tasks(status);

CREATE TABLE IF NOT EXISTS background_task_queue (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_background_task_queue_created ON background_task_queue(created_at);

CREATE TABLE IF NOT EXISTS alarms (
	id       TEXT PRIMARY KEY,
	fires_at TEXT NOT NULL,
	note     TEXT NOT NULL DEFAULT '',
	fired    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_alarms_due ON alarms(fired, fires_at);
`

// ftsDDL creates the optional FTS5 index backing search_fts (§4.3, §4.8,
// §9: "Search backends"). It is applied best-effort: a build of sqlite3
// without the FTS5 extension compiled in will fail this statement, and
// initSchema treats that failure as "no FTS index available" rather than
// a fatal error, so callers fall back to the unranked search().
const ftsDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS temporal_messages_fts USING fts5(
	id UNINDEXED, content, content='temporal_messages', content_rowid='rowid'
);
CREATE VIRTUAL TABLE IF NOT EXISTS temporal_summaries_fts USING fts5(
	id UNINDEXED, narrative, key_observations, content='temporal_summaries', content_rowid='rowid'
);
CREATE VIRTUAL TABLE IF NOT EXISTS ltm_entries_fts USING fts5(
	slug UNINDEXED, title, body, content='ltm_entries', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS temporal_messages_ai AFTER INSERT ON temporal_messages BEGIN
	INSERT INTO temporal_messages_fts(rowid, id, content) VALUES (new.rowid, new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS temporal_summaries_ai AFTER INSERT ON temporal_summaries BEGIN
	INSERT INTO temporal_summaries_fts(rowid, id, narrative, key_observations)
		VALUES (new.rowid, new.id, new.narrative, new.key_observations);
END;
CREATE TRIGGER IF NOT EXISTS ltm_entries_ai AFTER INSERT ON ltm_entries BEGIN
	INSERT INTO ltm_entries_fts(rowid, slug, title, body) VALUES (new.rowid, new.slug, new.title, new.body);
END;
CREATE TRIGGER IF NOT EXISTS ltm_entries_au AFTER UPDATE ON ltm_entries BEGIN
	INSERT INTO ltm_entries_fts(ltm_entries_fts, rowid, slug, title, body) VALUES('delete', old.rowid, old.slug, old.title, old.body);
	INSERT INTO ltm_entries_fts(rowid, slug, title, body) VALUES (new.rowid, new.slug, new.title, new.body);
END;
`

// initSchema creates missing tables/indices. It is idempotent and safe to
// call on every Open (§4.2).
func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("store: exec schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, ftsDDL); err != nil {
		s.logger.Warn("store: FTS5 unavailable, search_fts will fall back to linear search", "error", err)
		s.ftsAvailable = false
		return nil
	}
	s.ftsAvailable = true
	return nil
}

// FTSAvailable reports whether the FTS5 virtual tables were created
// successfully. Temporal and LTM search_fts implementations consult this
// to decide between a ranked FTS query and the best-effort fallback
// (§9: "MUST NOT silently substitute unranked output for ranked output" —
// callers use this flag to label which they got).
func (s *Store) FTSAvailable() bool {
	return s.ftsAvailable
}
