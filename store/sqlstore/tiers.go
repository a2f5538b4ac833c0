package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// TIER STORE
// =============================================================================

const tierColumns = `id, name, name_ar, quarter, year, min_cartons, max_cartons,
	cashback_per_carton, is_active, created_at, updated_at`

func (s *Store) CreateTier(ctx context.Context, t generic.RewardTier) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx, `
		INSERT INTO reward_tiers (`+tierColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(t.ID), t.Name, t.NameAr, t.Quarter, t.Year, t.MinCartons, nullInt(t.MaxCartons),
		generic.ToMinorUnits(t.CashbackPerCarton), t.IsActive, s.t(now), s.t(now),
	)
	if err != nil {
		if _, ok := s.dialect.UniqueViolation(err); ok {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to create tier: %w", err)
	}
	return nil
}

func (s *Store) UpdateTier(ctx context.Context, t generic.RewardTier) error {
	res, err := s.exec(ctx, `
		UPDATE reward_tiers
		SET name = ?, name_ar = ?, quarter = ?, year = ?, min_cartons = ?, max_cartons = ?,
		    cashback_per_carton = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Name, t.NameAr, t.Quarter, t.Year, t.MinCartons, nullInt(t.MaxCartons),
		generic.ToMinorUnits(t.CashbackPerCarton), t.IsActive, s.t(time.Now().UTC()), string(t.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrTierNotFound
	}
	return nil
}

// DeleteTier removes a tier unless a processed reward points at it. Pending
// rewards lose their tier link through ON DELETE SET NULL.
func (s *Store) DeleteTier(ctx context.Context, id generic.TierID) error {
	res, err := s.exec(ctx, `
		DELETE FROM reward_tiers
		WHERE id = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM customer_quarterly_rewards
		    WHERE eligible_tier_id = ? AND status = 'processed'
		  )
	`, string(id), string(id))
	if err != nil {
		if s.dialect.ForeignKeyViolation(err) {
			return generic.ErrTierInUse
		}
		return fmt.Errorf("failed to delete tier: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetTier(ctx, id); err != nil {
		return err
	}
	return generic.ErrTierInUse
}

func (s *Store) GetTier(ctx context.Context, id generic.TierID) (*generic.RewardTier, error) {
	row := s.queryRow(ctx, `SELECT `+tierColumns+` FROM reward_tiers WHERE id = ?`, string(id))
	t, err := scanTier(row)
	if err != nil {
		if isNoRows(err) {
			return nil, generic.ErrTierNotFound
		}
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}
	return t, nil
}

func (s *Store) ListTiers(ctx context.Context, f generic.TierFilter) ([]generic.RewardTier, error) {
	query := `SELECT ` + tierColumns + ` FROM reward_tiers WHERE 1 = 1`
	var args []any
	if f.Quarter != 0 {
		query += ` AND quarter = ?`
		args = append(args, f.Quarter)
	}
	if f.Year != 0 {
		query += ` AND year = ?`
		args = append(args, f.Year)
	}
	query += ` ORDER BY year DESC, quarter DESC, name, min_cartons`
	return s.queryTiers(ctx, query, args...)
}

func (s *Store) ActiveTiers(ctx context.Context, quarter, year int) ([]generic.RewardTier, error) {
	return s.queryTiers(ctx, `
		SELECT `+tierColumns+` FROM reward_tiers
		WHERE quarter = ? AND year = ? AND is_active = ?
		ORDER BY name, min_cartons
	`, quarter, year, true)
}

func (s *Store) queryTiers(ctx context.Context, query string, args ...any) ([]generic.RewardTier, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []generic.RewardTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, *t)
	}
	return tiers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTier(row rowScanner) (*generic.RewardTier, error) {
	var (
		t        generic.RewardTier
		id       string
		maxC     sql.NullInt64
		cashback int64
	)
	err := row.Scan(&id, &t.Name, &t.NameAr, &t.Quarter, &t.Year, &t.MinCartons, &maxC,
		&cashback, &t.IsActive, scanTime(&t.CreatedAt), scanTime(&t.UpdatedAt))
	if err != nil {
		return nil, err
	}
	t.ID = generic.TierID(id)
	if maxC.Valid {
		v := maxC.Int64
		t.MaxCartons = &v
	}
	t.CashbackPerCarton = generic.FromMinorUnits(cashback)
	return &t, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
