/*
Package postgres provides the PostgreSQL flavour of the reward store.

Connections go through pgx's database/sql driver, so every query in
store/sqlstore runs unchanged after ? placeholders are rewritten to $n.
Money columns are BIGINT ten-thousandths, timestamps are TIMESTAMPTZ.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/reward-engine/store/sqlstore"
)

// New connects to databaseURL, verifies the connection and migrates the schema.
func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return sqlstore.New(db, Dialect{}), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	reward_category TEXT NOT NULL DEFAULT '',
	wallet_balance BIGINT NOT NULL DEFAULT 0,
	current_balance BIGINT NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS supervisors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer_status_created
	ON orders(customer_id, status, created_at);

CREATE TABLE IF NOT EXISTS order_items (
	order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	line_no INTEGER NOT NULL,
	product_id TEXT NOT NULL,
	quantity BIGINT NOT NULL CHECK (quantity >= 0),
	unit_price BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (order_id, line_no)
);

CREATE TABLE IF NOT EXISTS reward_tiers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_ar TEXT NOT NULL DEFAULT '',
	quarter INTEGER NOT NULL CHECK (quarter BETWEEN 1 AND 4),
	year INTEGER NOT NULL,
	min_cartons BIGINT NOT NULL CHECK (min_cartons >= 0),
	max_cartons BIGINT,
	cashback_per_carton BIGINT NOT NULL CHECK (cashback_per_carton >= 0),
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reward_tiers_period
	ON reward_tiers(quarter, year, is_active);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	payment_number TEXT NOT NULL UNIQUE,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	order_id TEXT REFERENCES orders(id),
	amount BIGINT NOT NULL,
	payment_method TEXT NOT NULL,
	payment_type TEXT NOT NULL,
	status TEXT NOT NULL,
	reference TEXT,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_customer
	ON payments(customer_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_id
	ON payments(order_id) WHERE payment_type = 'order';

CREATE TABLE IF NOT EXISTS customer_quarterly_rewards (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	quarter INTEGER NOT NULL CHECK (quarter BETWEEN 1 AND 4),
	year INTEGER NOT NULL,
	total_cartons_purchased BIGINT NOT NULL DEFAULT 0,
	eligible_tier_id TEXT REFERENCES reward_tiers(id) ON DELETE SET NULL,
	calculated_reward BIGINT NOT NULL DEFAULT 0,
	manual_adjustment BIGINT NOT NULL DEFAULT 0,
	final_reward BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processed')),
	payment_id TEXT REFERENCES payments(id) DEFERRABLE INITIALLY DEFERRED,
	processed_at TIMESTAMPTZ,
	processed_by TEXT,
	notes TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (customer_id, quarter, year)
);

CREATE INDEX IF NOT EXISTS idx_rewards_period_status
	ON customer_quarterly_rewards(quarter, year, status);
CREATE INDEX IF NOT EXISTS idx_rewards_tier
	ON customer_quarterly_rewards(eligible_tier_id);
`

// =============================================================================
// DIALECT
// =============================================================================

// Dialect is the PostgreSQL flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

func (Dialect) BindTime(t time.Time) any { return t.UTC() }

func (Dialect) UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func (Dialect) ForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
