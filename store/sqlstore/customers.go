package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// CUSTOMER STORE
// =============================================================================

const customerColumns = `id, name, reward_category, wallet_balance, current_balance, is_active, created_at`

func (s *Store) SaveCustomer(ctx context.Context, c generic.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			reward_category = excluded.reward_category,
			wallet_balance = excluded.wallet_balance,
			current_balance = excluded.current_balance,
			is_active = excluded.is_active
	`,
		string(c.ID), c.Name, generic.NormalizeCategory(c.RewardCategory),
		generic.ToMinorUnits(c.WalletBalance), generic.ToMinorUnits(c.CurrentBalance),
		c.IsActive, s.t(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id generic.CustomerID) (*generic.Customer, error) {
	row := s.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, string(id))
	c, err := scanCustomer(row)
	if err != nil {
		if isNoRows(err) {
			return nil, generic.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (s *Store) ListActiveCustomers(ctx context.Context) ([]generic.Customer, error) {
	rows, err := s.query(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE is_active = ?
		ORDER BY id
	`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var out []generic.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) AdjustWallet(ctx context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	return s.adjustBalance(ctx, "wallet_balance", id, delta)
}

func (s *Store) AdjustCredit(ctx context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	return s.adjustBalance(ctx, "current_balance", id, delta)
}

// adjustBalance adds delta in a single statement; col is one of two constants.
func (s *Store) adjustBalance(ctx context.Context, col string, id generic.CustomerID, delta decimal.Decimal) error {
	res, err := s.exec(ctx,
		`UPDATE customers SET `+col+` = `+col+` + ? WHERE id = ?`,
		generic.ToMinorUnits(delta), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to adjust %s: %w", col, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrCustomerNotFound
	}
	return nil
}

// DebitWallet subtracts amount only while the balance covers it.
func (s *Store) DebitWallet(ctx context.Context, id generic.CustomerID, amount decimal.Decimal) error {
	minor := generic.ToMinorUnits(amount)
	res, err := s.exec(ctx, `
		UPDATE customers SET wallet_balance = wallet_balance - ?
		WHERE id = ? AND wallet_balance >= ?
	`, minor, string(id), minor)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetCustomer(ctx, id); err != nil {
		return err
	}
	return generic.ErrInsufficientBalance
}

func scanCustomer(row rowScanner) (*generic.Customer, error) {
	var (
		c               generic.Customer
		id              string
		wallet, current int64
	)
	if err := row.Scan(&id, &c.Name, &c.RewardCategory, &wallet, &current, &c.IsActive, scanTime(&c.CreatedAt)); err != nil {
		return nil, err
	}
	c.ID = generic.CustomerID(id)
	c.WalletBalance = generic.FromMinorUnits(wallet)
	c.CurrentBalance = generic.FromMinorUnits(current)
	return &c, nil
}

// =============================================================================
// SUPERVISOR STORE
// =============================================================================

func (s *Store) SaveSupervisor(ctx context.Context, sv generic.Supervisor) error {
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO supervisors (id, name, email, password_hash, role, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			name = excluded.name,
			password_hash = excluded.password_hash,
			role = excluded.role,
			is_active = excluded.is_active
	`,
		string(sv.ID), sv.Name, normalizeEmail(sv.Email), sv.PasswordHash,
		string(sv.Role), sv.IsActive, s.t(sv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save supervisor: %w", err)
	}
	return nil
}

func (s *Store) GetSupervisorByEmail(ctx context.Context, email string) (*generic.Supervisor, error) {
	var (
		sv   generic.Supervisor
		id   string
		role string
	)
	err := s.queryRow(ctx, `
		SELECT id, name, email, password_hash, role, is_active, created_at
		FROM supervisors WHERE email = ?
	`, normalizeEmail(email)).Scan(&id, &sv.Name, &sv.Email, &sv.PasswordHash, &role, &sv.IsActive, scanTime(&sv.CreatedAt))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get supervisor: %w", err)
	}
	sv.ID = generic.SupervisorID(id)
	sv.Role = generic.Role(role)
	return &sv, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
