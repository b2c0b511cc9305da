package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the PostgreSQL DDL for the ledger engine. All monetary values
// are NUMERIC for exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	balance    NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES accounts(id),
	kind         TEXT NOT NULL,
	amount       NUMERIC NOT NULL,
	fee          NUMERIC NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	channel      TEXT NOT NULL DEFAULT '',
	method_id    TEXT NOT NULL DEFAULT '',
	destination  TEXT NOT NULL DEFAULT '',
	reference    TEXT NOT NULL DEFAULT '',
	note         TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS wallet_transactions_user_idx ON wallet_transactions (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS positions (
	user_id    TEXT NOT NULL REFERENCES accounts(id),
	symbol     TEXT NOT NULL,
	quantity   NUMERIC NOT NULL CHECK (quantity > 0),
	avg_price  NUMERIC NOT NULL,
	invested   NUMERIC NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, symbol)
);

CREATE TABLE IF NOT EXISTS realized_pnl (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	buy_price   NUMERIC NOT NULL,
	sell_price  NUMERIC NOT NULL,
	quantity    NUMERIC NOT NULL,
	pnl         NUMERIC NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS realized_pnl_user_idx ON realized_pnl (user_id, executed_at);

CREATE TABLE IF NOT EXISTS escrow_holds (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES accounts(id),
	kind        TEXT NOT NULL,
	held_amount NUMERIC NOT NULL CHECK (held_amount > 0),
	status      TEXT NOT NULL,
	outcome     TEXT NOT NULL DEFAULT '',
	profit_rate NUMERIC NOT NULL DEFAULT 0,
	payout      NUMERIC NOT NULL DEFAULT 0,
	symbol      TEXT NOT NULL DEFAULT '',
	direction   TEXT NOT NULL DEFAULT '',
	timer_id    TEXT NOT NULL DEFAULT '',
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ,
	resolved_at TIMESTAMPTZ,
	resolved_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS escrow_holds_user_idx ON escrow_holds (user_id, kind, created_at DESC);
CREATE INDEX IF NOT EXISTS escrow_holds_expiry_idx ON escrow_holds (expires_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS timer_options (
	id               TEXT PRIMARY KEY,
	label            TEXT NOT NULL,
	duration_seconds BIGINT NOT NULL CHECK (duration_seconds > 0),
	enabled          BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS trade_settings (
	id          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	profit_rate NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawal_methods (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	min_amount NUMERIC NOT NULL DEFAULT 0,
	fee        NUMERIC NOT NULL DEFAULT 0,
	active     BOOLEAN NOT NULL DEFAULT TRUE
);
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
