// Package postgres implements the State & Event Store (spec.md §4.6) on top
// of database/sql and github.com/lib/pq, grounded on the teacher's own use
// of lib/pq throughout internal/repository.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ignite/relay/internal/config"
)

// Open opens a connection pool against cfg, applying the same
// max-open/max-idle/conn-max-lifetime tuning the teacher applies in its own
// storage initialization.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	return db, nil
}

// Schema is the relational layout described in spec.md §3 and §6. It is
// applied by operators via a migration tool; ignite-relay does not run
// migrations itself (mirrors the teacher's separation of `cmd/migrate` from
// the serving binaries — our migrate command was dropped since this repo
// carries the schema as a single reference script instead).
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id UUID PRIMARY KEY,
	account_id UUID,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	sandbox BOOLEAN NOT NULL DEFAULT FALSE,
	webhook_url TEXT,
	encrypted_webhook_secret TEXT,
	daily_quota BIGINT,
	monthly_quota BIGINT,
	settings JSONB NOT NULL DEFAULT '{}',
	reputation_score DOUBLE PRECISION NOT NULL DEFAULT 100,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	hashed_key TEXT NOT NULL,
	scopes TEXT[] NOT NULL DEFAULT '{}',
	ip_allowlist TEXT[] NOT NULL DEFAULT '{}',
	rate_limit_override INT,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS smtp_configs (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	host TEXT NOT NULL,
	port INT NOT NULL,
	username TEXT NOT NULL,
	password_cipher TEXT NOT NULL,
	encryption TEXT NOT NULL DEFAULT 'starttls',
	pool_size INT NOT NULL DEFAULT 5,
	timeout_ms INT NOT NULL DEFAULT 30000,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS queues (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	priority INT NOT NULL DEFAULT 5,
	rate_limit_per_min INT,
	max_retries INT NOT NULL DEFAULT 5,
	retry_delay_seq INT[] NOT NULL DEFAULT '{30,120,600,3600,86400}',
	smtp_config_id UUID REFERENCES smtp_configs(id) ON DELETE SET NULL,
	paused BOOLEAN NOT NULL DEFAULT FALSE,
	track_opens BOOLEAN NOT NULL DEFAULT TRUE,
	track_clicks BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS emails (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	queue_id UUID NOT NULL REFERENCES queues(id),
	idempotency_key TEXT,
	message_id TEXT,
	from_email TEXT NOT NULL,
	from_name TEXT,
	to_recipients JSONB NOT NULL,
	cc_recipients JSONB NOT NULL DEFAULT '[]',
	bcc_recipients JSONB NOT NULL DEFAULT '[]',
	reply_to TEXT,
	subject TEXT NOT NULL,
	html_body TEXT,
	text_body TEXT,
	headers JSONB NOT NULL DEFAULT '{}',
	personalization JSONB NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	retry_count INT NOT NULL DEFAULT 0,
	last_error TEXT,
	scheduled_at TIMESTAMPTZ,
	sent_at TIMESTAMPTZ,
	delivered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_emails_listing ON emails (tenant_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS email_events (
	id UUID PRIMARY KEY,
	email_id UUID NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_email_events_email ON email_events (email_id, created_at DESC);

CREATE TABLE IF NOT EXISTS suppression_entries (
	id UUID PRIMARY KEY,
	tenant_id UUID REFERENCES tenants(id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	reason TEXT NOT NULL,
	source_email_id UUID REFERENCES emails(id) ON DELETE SET NULL,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, email)
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	queue_id UUID NOT NULL REFERENCES queues(id),
	cron_expression TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	email_template JSONB NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	last_run_at TIMESTAMPTZ,
	next_run_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	source_email_id UUID REFERENCES emails(id) ON DELETE SET NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	next_retry_at TIMESTAMPTZ,
	delivered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tracking_links (
	id UUID PRIMARY KEY,
	email_id UUID NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	short_code TEXT NOT NULL UNIQUE,
	original_url TEXT NOT NULL,
	click_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS queue_control (
	queue_name TEXT PRIMARY KEY,
	paused BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	queue_name TEXT NOT NULL,
	payload JSONB NOT NULL,
	priority INT NOT NULL DEFAULT 5,
	status TEXT NOT NULL DEFAULT 'waiting',
	ready_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	reserved_until TIMESTAMPTZ,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs (queue_name, status, priority DESC, ready_at ASC);
`
