package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Entitle store (SQLite).
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_plans",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_plans (
    id               TEXT PRIMARY KEY,
    service          TEXT NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    monthly_amount   BIGINT NOT NULL DEFAULT 0,
    monthly_currency TEXT NOT NULL DEFAULT '',
    yearly_amount    BIGINT NOT NULL DEFAULT 0,
    yearly_currency  TEXT NOT NULL DEFAULT '',
    usage_limit      BIGINT NOT NULL DEFAULT 0,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entitle_plans_service ON entitle_plans (service);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_subscriptions",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_subscriptions (
    id               TEXT PRIMARY KEY,
    subscriber_id    TEXT NOT NULL,
    service          TEXT NOT NULL,
    plan_id          TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    billing_cycle    TEXT NOT NULL DEFAULT 'monthly',
    start_at         TIMESTAMP NOT NULL,
    end_at           TIMESTAMP NOT NULL,
    auto_renew       BOOLEAN NOT NULL DEFAULT FALSE,
    usage_count      BIGINT NOT NULL DEFAULT 0,
    usage_limit      BIGINT NOT NULL DEFAULT 0,
    last_reset_at    TIMESTAMP NOT NULL,
    last_payment_key TEXT NOT NULL DEFAULT '',
    version          BIGINT NOT NULL DEFAULT 0,
    cancelled_at     TIMESTAMP,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_subs_subscriber_service ON entitle_subscriptions (subscriber_id, service);
CREATE INDEX IF NOT EXISTS idx_entitle_subs_status_end ON entitle_subscriptions (status, end_at);
CREATE INDEX IF NOT EXISTS idx_entitle_subs_last_reset ON entitle_subscriptions (status, last_reset_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_usage_log",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_usage_log (
    id              TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL,
    subject_id      TEXT NOT NULL DEFAULT '',
    service         TEXT NOT NULL,
    amount          BIGINT NOT NULL DEFAULT 1,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entitle_usage_sub_created ON entitle_usage_log (subscription_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_usage_log`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_service_stats",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_service_stats (
    service        TEXT PRIMARY KEY,
    total_requests BIGINT NOT NULL DEFAULT 0,
    successful     BIGINT NOT NULL DEFAULT 0,
    failed         BIGINT NOT NULL DEFAULT 0,
    total_cost     BIGINT NOT NULL DEFAULT 0,
    currency       TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_service_stats`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_tokens",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_tokens (
    id         TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    purpose    TEXT NOT NULL,
    new_email  TEXT NOT NULL DEFAULT '',
    is_used    BOOLEAN NOT NULL DEFAULT FALSE,
    used_at    TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entitle_tokens_subject_purpose ON entitle_tokens (subject_id, purpose, is_used);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_tokens`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_demo_grants",
			Version: "20240101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_demo_grants (
    token          TEXT PRIMARY KEY,
    customer_name  TEXT NOT NULL DEFAULT '',
    customer_email TEXT NOT NULL,
    company        TEXT NOT NULL DEFAULT '',
    service        TEXT NOT NULL,
    max_usage      BIGINT NOT NULL DEFAULT 3,
    usage_count    BIGINT NOT NULL DEFAULT 0,
    is_used        BOOLEAN NOT NULL DEFAULT FALSE,
    used_at        TIMESTAMP,
    expires_at     TIMESTAMP NOT NULL,
    created_by     TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_demo_grants`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_demo_access_log",
			Version: "20240101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_demo_access_log (
    id          TEXT PRIMARY KEY,
    grant_token TEXT NOT NULL,
    action      TEXT NOT NULL DEFAULT '',
    outcome     TEXT NOT NULL,
    ip          TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entitle_demo_access_token ON entitle_demo_access_log (grant_token, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_demo_access_log`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_payments",
			Version: "20240101000008",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_payments (
    id                  TEXT PRIMARY KEY,
    payment_key         TEXT NOT NULL,
    provider            TEXT NOT NULL,
    type                TEXT NOT NULL,
    status              TEXT NOT NULL DEFAULT 'pending',
    amount              BIGINT NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT '',
    subject_id          TEXT NOT NULL,
    subscription_id     TEXT NOT NULL DEFAULT '',
    workflow_id         TEXT NOT NULL DEFAULT '',
    provider_payment_id TEXT NOT NULL DEFAULT '',
    provider_event_id   TEXT NOT NULL DEFAULT '',
    checkout_url        TEXT NOT NULL DEFAULT '',
    metadata            TEXT NOT NULL DEFAULT '{}',
    paid_at             TIMESTAMP,
    created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_payments_key ON entitle_payments (payment_key);
CREATE INDEX IF NOT EXISTS idx_entitle_payments_subject ON entitle_payments (subject_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_payments`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_webhook_events",
			Version: "20240101000009",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_webhook_events (
    id           TEXT PRIMARY KEY,
    provider     TEXT NOT NULL,
    event_id     TEXT NOT NULL,
    event_type   TEXT NOT NULL DEFAULT '',
    payment_key  TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_webhook_events_provider_event ON entitle_webhook_events (provider, event_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_webhook_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_purchases",
			Version: "20240101000010",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_purchases (
    id          TEXT PRIMARY KEY,
    subject_id  TEXT NOT NULL,
    workflow_id TEXT NOT NULL,
    amount      BIGINT NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT '',
    payment_key TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_purchases_subject_workflow ON entitle_purchases (subject_id, workflow_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_purchases`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "unique_unused_entitle_token",
			Version: "20240101000011",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
UPDATE entitle_tokens
   SET is_used = TRUE, used_at = CURRENT_TIMESTAMP
 WHERE is_used = FALSE
   AND EXISTS (
       SELECT 1 FROM entitle_tokens newer
        WHERE newer.subject_id = entitle_tokens.subject_id
          AND newer.purpose = entitle_tokens.purpose
          AND newer.is_used = FALSE
          AND (newer.created_at > entitle_tokens.created_at
               OR (newer.created_at = entitle_tokens.created_at AND newer.id > entitle_tokens.id))
   );

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_tokens_unused ON entitle_tokens (subject_id, purpose) WHERE is_used = FALSE;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP INDEX IF EXISTS idx_entitle_tokens_unused`)
				return err
			},
		},
	)
}
