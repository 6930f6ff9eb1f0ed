package database

import (
	"database/sql"
	"fmt"

	"github.com/cartrade/backend/internal/logger"
)

// migrations are idempotent DDL statements executed at startup. The partial
// unique indexes on ledger_txns back the exactly-once distribution guard and
// the sell upsert: a concurrent duplicate insert fails with a unique
// violation instead of producing a second payout or sale row.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'VIEWER',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS capital_accounts (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		user_id UUID REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (org_id, type)
	)`,
	`CREATE TABLE IF NOT EXISTS cars (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		vin TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INT NOT NULL,
		status TEXT NOT NULL,
		buy_date TIMESTAMPTZ NOT NULL,
		buy_price BIGINT NOT NULL,
		buy_currency TEXT NOT NULL,
		buy_rate NUMERIC(18,6) NOT NULL,
		sold_date TIMESTAMPTZ,
		sold_price BIGINT,
		sold_currency TEXT,
		sold_rate NUMERIC(18,6),
		commission_fils BIGINT,
		source TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (org_id, vin)
	)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		car_id UUID REFERENCES cars(id),
		category TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		fx_rate NUMERIC(18,6) NOT NULL,
		amount_fils BIGINT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		is_personal BOOLEAN NOT NULL DEFAULT FALSE,
		paid_from_id UUID NOT NULL REFERENCES capital_accounts(id),
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_txns (
		id BIGSERIAL PRIMARY KEY,
		org_id UUID NOT NULL,
		account_id UUID NOT NULL REFERENCES capital_accounts(id),
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		reason TEXT NOT NULL,
		car_id UUID REFERENCES cars(id),
		expense_id UUID REFERENCES expenses(id),
		income_id UUID,
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_txns_account_date_idx
		ON ledger_txns (account_id, date, id)`,
	`CREATE INDEX IF NOT EXISTS ledger_txns_car_idx
		ON ledger_txns (car_id) WHERE car_id IS NOT NULL`,
	// One sale row per car; Sell() upserts against this index.
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_txns_income_sale_once
		ON ledger_txns (car_id) WHERE reason = 'INCOME_SALE'`,
	// One payout row per (car, reason, account sign) pair would allow the
	// business debit and the recipient credit; scope by account instead.
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_txns_payout_once
		ON ledger_txns (car_id, reason, account_id)
		WHERE reason IN ('PAYOUT_INVESTOR', 'PAYOUT_OWNER', 'PAYOUT_ASSISTANT')`,
	`CREATE TABLE IF NOT EXISTS allocation_lines (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		expense_id UUID NOT NULL REFERENCES expenses(id),
		car_id UUID NOT NULL REFERENCES cars(id),
		amount_fils BIGINT NOT NULL,
		ratio NUMERIC(18,8) NOT NULL,
		method TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (expense_id, car_id)
	)`,
	`CREATE TABLE IF NOT EXISTS deal_snapshots (
		car_id UUID PRIMARY KEY REFERENCES cars(id),
		org_id UUID NOT NULL,
		sold_price_fils BIGINT NOT NULL,
		commission_fils BIGINT NOT NULL,
		purchase_fils BIGINT NOT NULL,
		direct_expenses_fils BIGINT NOT NULL,
		allocated_overhead_fils BIGINT NOT NULL,
		total_cost_fils BIGINT NOT NULL,
		profit_fils BIGINT NOT NULL,
		margin_pct NUMERIC(9,4),
		days_on_lot INT NOT NULL,
		anomalous BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS fx_rates (
		counter TEXT NOT NULL,
		date DATE NOT NULL,
		rate NUMERIC(18,6) NOT NULL,
		PRIMARY KEY (counter, date)
	)`,
	`CREATE TABLE IF NOT EXISTS overhead_rules (
		org_id UUID PRIMARY KEY,
		method TEXT NOT NULL DEFAULT 'per_car',
		weight_key TEXT NOT NULL DEFAULT 'cost_basis',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the schema. Statements are idempotent so repeated startups
// are safe.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	logger.Log.Info("migrations applied")
	return nil
}
