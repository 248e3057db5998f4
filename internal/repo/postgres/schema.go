package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS visitors (
	id                     TEXT PRIMARY KEY,
	visitor_id             TEXT NOT NULL UNIQUE,
	status                 TEXT NOT NULL,
	name                   TEXT NOT NULL,
	phone                  TEXT NOT NULL,
	email                  TEXT NOT NULL DEFAULT '',
	company                TEXT NOT NULL DEFAULT '',
	host                   TEXT NOT NULL,
	host_email             TEXT NOT NULL,
	purpose                TEXT NOT NULL DEFAULT '',
	gate                   TEXT NOT NULL,
	allowed_until          TIMESTAMPTZ NOT NULL,
	expected_duration      INT NOT NULL DEFAULT 120,
	grace_period_minutes   INT NOT NULL DEFAULT 10,
	qr_expires_at          TIMESTAMPTZ,
	check_in_time          TIMESTAMPTZ,
	check_out_time         TIMESTAMPTZ,
	actual_duration        INT NOT NULL DEFAULT 0,
	approved_by            TEXT NOT NULL DEFAULT '',
	approved_at            TIMESTAMPTZ,
	rejection_reason       TEXT NOT NULL DEFAULT '',
	approval_token         TEXT,
	approval_expires_at    TIMESTAMPTZ,
	checked_in_by          TEXT NOT NULL DEFAULT '',
	checked_out_by         TEXT NOT NULL DEFAULT '',
	overstay_notified      BOOLEAN NOT NULL DEFAULT FALSE,
	overstay_alert_sent_at TIMESTAMPTZ,
	overstay_minutes       INT NOT NULL DEFAULT 0,
	vehicle_number         TEXT NOT NULL DEFAULT '',
	items                  TEXT[] NOT NULL DEFAULT '{}',
	notes                  TEXT NOT NULL DEFAULT '',
	history                JSONB NOT NULL DEFAULT '[]',
	version                BIGINT NOT NULL DEFAULT 1,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_visitors_status_gate ON visitors (status, gate);
CREATE INDEX IF NOT EXISTS idx_visitors_allowed_until ON visitors (allowed_until, status);
CREATE INDEX IF NOT EXISTS idx_visitors_approval_token ON visitors (approval_token) WHERE approval_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_visitors_created_at ON visitors (created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	visitor_id TEXT REFERENCES visitors (id),
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	gate       TEXT NOT NULL DEFAULT '',
	is_read    BOOLEAN NOT NULL DEFAULT FALSE,
	read_by    TEXT NOT NULL DEFAULT '',
	read_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alerts_unread ON alerts (is_read, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_gate ON alerts (gate);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	actor_id   TEXT NOT NULL DEFAULT '',
	actor_role TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	entity     TEXT NOT NULL,
	entity_id  TEXT NOT NULL DEFAULT '',
	visitor_id TEXT NOT NULL DEFAULT '',
	gate       TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL DEFAULT 'SUCCESS',
	severity   TEXT NOT NULL DEFAULT 'LOW',
	source     TEXT NOT NULL DEFAULT 'API',
	meta       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events (action, created_at DESC);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
