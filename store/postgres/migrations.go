package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Courier store (PostgreSQL).
var Migrations = migrate.NewGroup("courier")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_courier_subscriptions",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_subscriptions (
    id             TEXT PRIMARY KEY,
    target_url     TEXT NOT NULL DEFAULT '',
    secret_record  TEXT NOT NULL DEFAULT '',
    event_types    TEXT NOT NULL DEFAULT '[]',
    payload_schema TEXT NOT NULL DEFAULT '',
    rate_limit     INT NOT NULL DEFAULT 0,
    active         BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_subscriptions_active ON courier_subscriptions (active);
CREATE INDEX IF NOT EXISTS idx_courier_subscriptions_created ON courier_subscriptions (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_courier_deliveries",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_deliveries (
    id               TEXT PRIMARY KEY,
    subscription_id  TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    payload          JSONB,
    state            TEXT NOT NULL DEFAULT 'pending',
    attempt_count    INT NOT NULL DEFAULT 0,
    max_attempts     INT NOT NULL DEFAULT 0,
    next_retry_at    TIMESTAMPTZ,
    last_attempt_at  TIMESTAMPTZ,
    last_error       TEXT NOT NULL DEFAULT '',
    last_status_code INT NOT NULL DEFAULT 0,
    last_response    TEXT NOT NULL DEFAULT '',
    completed_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_deliveries_due ON courier_deliveries (state, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_courier_deliveries_subscription ON courier_deliveries (subscription_id);
CREATE INDEX IF NOT EXISTS idx_courier_deliveries_stuck ON courier_deliveries (last_attempt_at) WHERE state = 'in_progress';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_courier_attempts",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_attempts (
    id           TEXT PRIMARY KEY,
    delivery_id  TEXT NOT NULL DEFAULT '',
    number       INT NOT NULL DEFAULT 0,
    status_code  INT NOT NULL DEFAULT 0,
    outcome      TEXT NOT NULL DEFAULT '',
    error_detail TEXT NOT NULL DEFAULT '',
    latency_ms   INT NOT NULL DEFAULT 0,
    attempted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_attempts_delivery ON courier_attempts (delivery_id, number);
CREATE INDEX IF NOT EXISTS idx_courier_attempts_attempted ON courier_attempts (attempted_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_attempts`)
				return err
			},
		},
	)
}
