package store

// Schema is applied by the migrate subcommand. It matches the original
// SQLite layout (db.py) translated to Postgres types, plus the sim_params
// table added for the simulation device adapter's persisted state.
const Schema = `
CREATE TABLE IF NOT EXISTS inbox (
	id BIGSERIAL PRIMARY KEY,
	idempotency_key TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	payload BYTEA NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	created_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_inbox_dedupe
	ON inbox (idempotency_key)
	WHERE idempotency_key <> '';

CREATE INDEX IF NOT EXISTS idx_inbox_state ON inbox (state, created_ts);

CREATE TABLE IF NOT EXISTS outbox (
	id BIGSERIAL PRIMARY KEY,
	method TEXT NOT NULL DEFAULT 'POST',
	url TEXT NOT NULL,
	headers JSONB NOT NULL DEFAULT '{}',
	body BYTEA NOT NULL DEFAULT ''::bytea,
	idempotency_key TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_attempt_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	state TEXT NOT NULL DEFAULT 'pending',
	created_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_status INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outbox_due
	ON outbox (state, next_attempt_ts, retry_count, created_ts, id);

CREATE TABLE IF NOT EXISTS sim_params (
	pkey TEXT NOT NULL,
	channel TEXT NOT NULL,
	min_v DOUBLE PRECISION,
	max_v DOUBLE PRECISION,
	default_v TEXT NOT NULL DEFAULT '',
	rw TEXT NOT NULL DEFAULT 'RW',
	current_v TEXT,
	updated_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pkey, channel)
);
`
