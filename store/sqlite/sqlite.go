/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Opens the database, migrates the schema and hands back a sqlstore.Store
  configured with the SQLite dialect. All queries live in store/sqlstore;
  this package only owns the schema and the dialect.

KEY TABLES:
  reward_tiers:               Cashback brackets per category/quarter/year
  customer_quarterly_rewards: The reward ledger, one row per customer-quarter
  payments:                   Reward, top-up and order payments
  customers:                  Reward category, wallet and credit balances
  orders, order_items:        Delivered carton volume
  supervisors:                Staff accounts for the admin API

MONEY AND TIME:
  Amounts are INTEGER ten-thousandths. Timestamps are fixed-width UTC
  TEXT (sqlstore.TimeLayout), so range filters compare lexically.

INVARIANTS ENFORCED BY SCHEMA:
  - UNIQUE(customer_id, quarter, year) on the ledger
  - UNIQUE payment_number
  - one order payment per order (partial unique index)
  - eligible_tier_id ON DELETE SET NULL
  - payment_id checked at commit (DEFERRABLE INITIALLY DEFERRED), so a
    settlement may claim the row before writing the payment

CONCURRENCY:
  The pool is capped at one connection. Writers serialize on it, and
  ":memory:" databases stay a single database across calls.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Queries
  - store/postgres: PostgreSQL variant
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/reward-engine/store/sqlstore"
)

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return sqlstore.New(db, Dialect{}), nil
}

// migrate creates the database schema.
func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reward_category TEXT NOT NULL DEFAULT '',
		wallet_balance INTEGER NOT NULL DEFAULT 0,
		current_balance INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS supervisors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path for carton aggregation
	CREATE INDEX IF NOT EXISTS idx_orders_customer_status_created
		ON orders(customer_id, status, created_at);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		unit_price INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS reward_tiers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_ar TEXT NOT NULL DEFAULT '',
		quarter INTEGER NOT NULL CHECK (quarter BETWEEN 1 AND 4),
		year INTEGER NOT NULL,
		min_cartons INTEGER NOT NULL CHECK (min_cartons >= 0),
		max_cartons INTEGER,
		cashback_per_carton INTEGER NOT NULL CHECK (cashback_per_carton >= 0),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reward_tiers_period
		ON reward_tiers(quarter, year, is_active);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		payment_number TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		order_id TEXT REFERENCES orders(id),
		amount INTEGER NOT NULL,
		payment_method TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_customer
		ON payments(customer_id, created_at DESC);

	-- An order is paid at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_id
		ON payments(order_id) WHERE payment_type = 'order';

	CREATE TABLE IF NOT EXISTS customer_quarterly_rewards (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		quarter INTEGER NOT NULL CHECK (quarter BETWEEN 1 AND 4),
		year INTEGER NOT NULL,
		total_cartons_purchased INTEGER NOT NULL DEFAULT 0,
		eligible_tier_id TEXT REFERENCES reward_tiers(id) ON DELETE SET NULL,
		calculated_reward INTEGER NOT NULL DEFAULT 0,
		manual_adjustment INTEGER NOT NULL DEFAULT 0,
		final_reward INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processed')),
		payment_id TEXT REFERENCES payments(id) DEFERRABLE INITIALLY DEFERRED,
		processed_at TEXT,
		processed_by TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (customer_id, quarter, year)
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_period_status
		ON customer_quarterly_rewards(quarter, year, status);
	CREATE INDEX IF NOT EXISTS idx_rewards_tier
		ON customer_quarterly_rewards(eligible_tier_id);
	`

	_, err := db.Exec(schema)
	return err
}

// =============================================================================
// DIALECT
// =============================================================================

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Rebind(query string) string { return query }

func (Dialect) BindTime(t time.Time) any { return sqlstore.FormatTime(t) }

func (Dialect) UniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return sqliteErr.Error(), true
	}
	return "", false
}

func (Dialect) ForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
