/*
Package sqlstore implements generic.TxStore over database/sql.

PURPOSE:
  One set of queries serves both SQLite and PostgreSQL. The differences
  between the two live behind Dialect: placeholder style, how timestamps
  are bound, and how constraint violations are recognised.

MONEY:
  Monetary columns hold integer ten-thousandths (generic.MoneyScale), so
  balance updates are exact single statements:
    UPDATE customers SET wallet_balance = wallet_balance + ? WHERE id = ?

TIMESTAMPS:
  SQLite binds times as fixed-width UTC text so lexical comparison equals
  chronological comparison. PostgreSQL binds time.Time directly into
  TIMESTAMPTZ columns. Reads accept either form.

TRANSACTIONS:
  WithTx returns a Store bound to the *sql.Tx. Every method of that Store
  runs on the transaction, never on the pool, so a single-connection
  SQLite pool cannot deadlock against itself.

SEE ALSO:
  - store/sqlite: SQLite schema and dialect
  - store/postgres: PostgreSQL schema and dialect
  - generic/store.go: Interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/reward-engine/generic"
)

// Dialect captures what differs between SQL engines.
type Dialect interface {
	Name() string
	// Rebind rewrites ? placeholders into the engine's native form.
	Rebind(query string) string
	// BindTime converts t into a value for a timestamp column.
	BindTime(t time.Time) any
	// UniqueViolation reports whether err is a unique violation and, if so,
	// which constraint (or column list) was hit.
	UniqueViolation(err error) (string, bool)
	ForeignKeyViolation(err error) bool
}

type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.TxStore.
type Store struct {
	db      *sql.DB
	conn    conn
	dialect Dialect
	inTx    bool
}

var _ generic.TxStore = (*Store)(nil)

// New wraps an open, migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, conn: db, dialect: dialect}
}

// DB exposes the underlying pool (health checks).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes a function within a database transaction. Calls made on a
// Store that is already transactional run inline.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	txStore := &Store{db: s.db, conn: sqlTx, dialect: s.dialect, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// atomic runs fn in a transaction, reusing the current one if any.
func (s *Store) atomic(ctx context.Context, fn func(tx *Store) error) error {
	return s.WithTx(ctx, func(st generic.Store) error {
		return fn(st.(*Store))
	})
}

// Reset clears all data. Tables are emptied child-first.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"customer_quarterly_rewards",
		"payments",
		"order_items",
		"orders",
		"reward_tiers",
		"customers",
		"supervisors",
	}
	return s.atomic(ctx, func(tx *Store) error {
		for _, t := range tables {
			if _, err := tx.exec(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("failed to clear %s: %w", t, err)
			}
		}
		return nil
	})
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) t(t time.Time) any {
	return s.dialect.BindTime(t)
}

func (s *Store) nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.dialect.BindTime(*t)
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// RebindDollar rewrites ? placeholders to $1, $2, ...
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// =============================================================================
// SCANNERS
// =============================================================================

// TimeLayout is the fixed-width UTC text form used by text timestamp columns.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// timeScanner reads a timestamp stored either as text or as a native time.
type timeScanner struct {
	dst   *time.Time
	valid bool
}

func scanTime(dst *time.Time) *timeScanner { return &timeScanner{dst: dst} }

func (ts *timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.valid = false
		return nil
	case time.Time:
		*ts.dst = v.UTC()
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	ts.valid = true
	return nil
}

func (ts *timeScanner) parse(v string) error {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			*ts.dst = t.UTC()
			ts.valid = true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

// ptr returns the scanned time or nil for NULL.
func (ts *timeScanner) ptr() *time.Time {
	if !ts.valid {
		return nil
	}
	t := *ts.dst
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
