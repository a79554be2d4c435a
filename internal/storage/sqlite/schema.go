package sqlite

// Schema creates every Cadence table. Statements are idempotent.
//
// The partial unique index on patterns allows at most one active pattern per
// (owner, kind, recurrence, subtype); deactivated rows are kept as history.
// The partial unique index on context_items gives each source signal one
// stored item per owner.
const Schema = `
CREATE TABLE IF NOT EXISTS sleep_wake_logs (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	sleep_at         INTEGER NOT NULL,
	wake_at          INTEGER NOT NULL,
	duration_minutes INTEGER NOT NULL,
	quality          REAL,
	note             TEXT,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sleep_wake_owner_sleep
	ON sleep_wake_logs(owner_id, sleep_at DESC);

CREATE TABLE IF NOT EXISTS activity_logs (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	tag              TEXT NOT NULL,
	start_at         INTEGER NOT NULL,
	end_at           INTEGER,
	duration_minutes INTEGER,
	location         TEXT,
	intensity        TEXT,
	note             TEXT,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_owner_tag_start
	ON activity_logs(owner_id, tag, start_at DESC);

CREATE TABLE IF NOT EXISTS patterns (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	kind             TEXT NOT NULL,
	recurrence       TEXT NOT NULL,
	subtype          TEXT NOT NULL DEFAULT '',
	name             TEXT NOT NULL,
	description      TEXT,
	confidence       REAL NOT NULL DEFAULT 0,
	sample_count     INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT,
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	last_observed_at INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_active_key
	ON patterns(owner_id, kind, recurrence, subtype) WHERE active = 1;

CREATE INDEX IF NOT EXISTS idx_patterns_owner_confidence
	ON patterns(owner_id, active, confidence DESC);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	content    TEXT NOT NULL,
	summary    TEXT,
	tags       TEXT,
	importance REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_owner_rank
	ON memories(owner_id, importance DESC, created_at DESC);

CREATE TABLE IF NOT EXISTS context_items (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	category        TEXT NOT NULL,
	relevance_score REAL NOT NULL DEFAULT 0,
	relevance_level TEXT,
	time_window     TEXT,
	timestamp       INTEGER NOT NULL,
	expires_at      INTEGER,
	origin          TEXT,
	metadata        TEXT,
	source_key      TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_context_items_source
	ON context_items(owner_id, source_key) WHERE source_key != '';

CREATE INDEX IF NOT EXISTS idx_context_items_owner_category
	ON context_items(owner_id, category);

CREATE INDEX IF NOT EXISTS idx_context_items_expires
	ON context_items(expires_at) WHERE expires_at IS NOT NULL;
`
