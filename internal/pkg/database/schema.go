package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// schemaStatements create the ledger tables. The unique indexes are load
// bearing: transactions.transaction_id is the settlement idempotency key and
// referral_earnings (source_transaction_id, level) stops a cascade level from
// being paid twice.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                      UUID PRIMARY KEY,
		username                TEXT NOT NULL UNIQUE,
		role                    TEXT NOT NULL DEFAULT 'player',
		usdt_balance            NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (usdt_balance >= 0),
		referral_code           TEXT NOT NULL UNIQUE,
		referred_by             TEXT NULL,
		total_referral_earnings NUMERIC(20,8) NOT NULL DEFAULT 0,
		total_team_earnings     NUMERIC(20,8) NOT NULL DEFAULT 0,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT users_no_self_referral CHECK (referred_by IS NULL OR referred_by <> referral_code)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id             UUID PRIMARY KEY,
		user_id        UUID NOT NULL REFERENCES users(id),
		type           TEXT NOT NULL,
		amount         NUMERIC(20,8) NOT NULL CHECK (amount > 0),
		status         TEXT NOT NULL DEFAULT 'pending',
		transaction_id TEXT NULL,
		description    TEXT NOT NULL DEFAULT '',
		completed_at   TIMESTAMPTZ NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_transaction_id_uidx
		ON transactions (transaction_id) WHERE transaction_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_user_type_status_idx
		ON transactions (user_id, type, status)`,
	`CREATE TABLE IF NOT EXISTS referral_earnings (
		id                    UUID PRIMARY KEY,
		user_id               UUID NOT NULL REFERENCES users(id),
		referred_user_id      UUID NOT NULL REFERENCES users(id),
		level                 SMALLINT NOT NULL CHECK (level BETWEEN 1 AND 6),
		amount                NUMERIC(20,8) NOT NULL CHECK (amount >= 0),
		claimed               BOOLEAN NOT NULL DEFAULT false,
		source_transaction_id TEXT NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS referral_earnings_source_level_uidx
		ON referral_earnings (source_transaction_id, level)`,
	`CREATE INDEX IF NOT EXISTS referral_earnings_user_idx
		ON referral_earnings (user_id, created_at DESC)`,
}

// EnsureSchema applies the ledger DDL. Every statement is idempotent.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	log.Info().Int("statements", len(schemaStatements)).Msg("Ledger schema ensured")
	return nil
}
