package postgres

// Schema creates every Cadence table. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS sleep_wake_logs (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	sleep_at         TIMESTAMPTZ NOT NULL,
	wake_at          TIMESTAMPTZ NOT NULL,
	duration_minutes INTEGER NOT NULL,
	quality          DOUBLE PRECISION,
	note             TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sleep_wake_owner_sleep
	ON sleep_wake_logs(owner_id, sleep_at DESC);

CREATE TABLE IF NOT EXISTS activity_logs (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	tag              TEXT NOT NULL,
	start_at         TIMESTAMPTZ NOT NULL,
	end_at           TIMESTAMPTZ,
	duration_minutes INTEGER,
	location         TEXT,
	intensity        TEXT CHECK (intensity IN ('low', 'medium', 'high')),
	note             TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 1),
	sample_count     INTEGER NOT NULL DEFAULT 0,
	metadata         JSONB,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_observed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_active_key
	ON patterns(owner_id, kind, recurrence, subtype) WHERE active;

CREATE INDEX IF NOT EXISTS idx_patterns_owner_confidence
	ON patterns(owner_id, active, confidence DESC);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	content    TEXT NOT NULL,
	summary    TEXT,
	tags       TEXT[] NOT NULL DEFAULT '{}',
	importance DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_memories_owner_rank
	ON memories(owner_id, importance DESC, created_at DESC);

CREATE TABLE IF NOT EXISTS context_items (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	category        TEXT NOT NULL,
	relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	relevance_level TEXT,
	time_window     TEXT,
	timestamp       TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ,
	origin          TEXT,
	metadata        JSONB,
	source_key      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_context_items_source
	ON context_items(owner_id, source_key) WHERE source_key <> '';

CREATE INDEX IF NOT EXISTS idx_context_items_owner_category
	ON context_items(owner_id, category);

CREATE INDEX IF NOT EXISTS idx_context_items_expires
	ON context_items(expires_at) WHERE expires_at IS NOT NULL;
`
