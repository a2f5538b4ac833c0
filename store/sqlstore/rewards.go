package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// REWARD STORE
// =============================================================================

const rewardColumns = `r.id, r.customer_id, r.quarter, r.year, r.total_cartons_purchased,
	r.eligible_tier_id, r.calculated_reward, r.manual_adjustment, r.final_reward,
	r.status, r.payment_id, r.processed_at, r.processed_by, r.notes, r.created_at, r.updated_at`

const viewColumns = rewardColumns + `,
	COALESCE(c.name, ''), COALESCE(c.reward_category, ''),
	t.name, t.name_ar, t.cashback_per_carton`

const viewFrom = `
	FROM customer_quarterly_rewards r
	LEFT JOIN customers c ON c.id = r.customer_id
	LEFT JOIN reward_tiers t ON t.id = r.eligible_tier_id`

func (s *Store) GetReward(ctx context.Context, id generic.RewardID) (*generic.Reward, error) {
	row := s.queryRow(ctx, `SELECT `+rewardColumns+` FROM customer_quarterly_rewards r WHERE r.id = ?`, string(id))
	r, err := scanReward(row)
	if err != nil {
		if isNoRows(err) {
			return nil, generic.ErrRewardNotFound
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	return r, nil
}

func (s *Store) FindReward(ctx context.Context, customerID generic.CustomerID, quarter, year int) (*generic.Reward, error) {
	row := s.queryRow(ctx, `
		SELECT `+rewardColumns+` FROM customer_quarterly_rewards r
		WHERE r.customer_id = ? AND r.quarter = ? AND r.year = ?
	`, string(customerID), quarter, year)
	r, err := scanReward(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find reward: %w", err)
	}
	return r, nil
}

func (s *Store) InsertReward(ctx context.Context, r generic.Reward) error {
	now := time.Now().UTC()
	status := r.Status
	if status == "" {
		status = generic.RewardPending
	}
	_, err := s.exec(ctx, `
		INSERT INTO customer_quarterly_rewards
		(id, customer_id, quarter, year, total_cartons_purchased, eligible_tier_id,
		 calculated_reward, manual_adjustment, final_reward, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(r.ID), string(r.CustomerID), r.Quarter, r.Year, r.TotalCartonsPurchased, tierRef(r.EligibleTierID),
		generic.ToMinorUnits(r.CalculatedReward), generic.ToMinorUnits(r.ManualAdjustment),
		generic.ToMinorUnits(r.FinalReward), string(status), nullString(r.Notes), s.t(now), s.t(now),
	)
	if err != nil {
		if _, ok := s.dialect.UniqueViolation(err); ok {
			return generic.ErrDuplicate
		}
		if s.dialect.ForeignKeyViolation(err) {
			return s.rewardReferenceError(ctx, r)
		}
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

func (s *Store) UpdatePendingCalculation(ctx context.Context, r generic.Reward) error {
	res, err := s.exec(ctx, `
		UPDATE customer_quarterly_rewards
		SET total_cartons_purchased = ?, eligible_tier_id = ?, calculated_reward = ?,
		    final_reward = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`,
		r.TotalCartonsPurchased, tierRef(r.EligibleTierID), generic.ToMinorUnits(r.CalculatedReward),
		generic.ToMinorUnits(r.FinalReward), s.t(time.Now().UTC()), string(r.ID),
	)
	if err != nil {
		if s.dialect.ForeignKeyViolation(err) && r.EligibleTierID != nil {
			return fmt.Errorf("%w: eligible tier %s", generic.ErrTierNotFound, *r.EligibleTierID)
		}
		return fmt.Errorf("failed to update reward calculation: %w", err)
	}
	return s.checkPendingWrite(ctx, res, r.ID)
}

func (s *Store) UpdatePendingAdjustment(ctx context.Context, r generic.Reward) error {
	res, err := s.exec(ctx, `
		UPDATE customer_quarterly_rewards
		SET manual_adjustment = ?, final_reward = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`,
		generic.ToMinorUnits(r.ManualAdjustment), generic.ToMinorUnits(r.FinalReward),
		nullString(r.Notes), s.t(time.Now().UTC()), string(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update reward adjustment: %w", err)
	}
	return s.checkPendingWrite(ctx, res, r.ID)
}

// rewardReferenceError names the missing parent of a reward row. The driver
// error does not say which reference failed, so the tier is looked up.
func (s *Store) rewardReferenceError(ctx context.Context, r generic.Reward) error {
	if r.EligibleTierID != nil {
		if _, err := s.GetTier(ctx, *r.EligibleTierID); errors.Is(err, generic.ErrTierNotFound) {
			return fmt.Errorf("%w: eligible tier %s", generic.ErrTierNotFound, *r.EligibleTierID)
		}
	}
	return generic.ErrCustomerNotFound
}

// ClaimReward is the compare-and-set that locks a row. Of two concurrent
// claims on the same row exactly one sees a row affected.
func (s *Store) ClaimReward(ctx context.Context, id generic.RewardID, paymentID generic.PaymentID, processedBy string, at time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE customer_quarterly_rewards
		SET status = 'processed', payment_id = ?, processed_at = ?, processed_by = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(paymentID), s.t(at), processedBy, s.t(at), string(id))
	if err != nil {
		return fmt.Errorf("failed to claim reward: %w", err)
	}
	return s.checkPendingWrite(ctx, res, id)
}

// checkPendingWrite turns a zero-row conditional update into the right error.
func (s *Store) checkPendingWrite(ctx context.Context, res sql.Result, id generic.RewardID) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetReward(ctx, id); err != nil {
		return err
	}
	return generic.ErrAlreadyProcessed
}

func (s *Store) PendingRewards(ctx context.Context, quarter, year int) ([]generic.Reward, error) {
	rows, err := s.query(ctx, `
		SELECT `+rewardColumns+` FROM customer_quarterly_rewards r
		WHERE r.quarter = ? AND r.year = ? AND r.status = 'pending'
		ORDER BY r.customer_id
	`, quarter, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rewards: %w", err)
	}
	defer rows.Close()

	var out []generic.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) ListRewardViews(ctx context.Context, quarter, year int) ([]generic.RewardView, error) {
	return s.queryViews(ctx, `
		SELECT `+viewColumns+viewFrom+`
		WHERE r.quarter = ? AND r.year = ?
		ORDER BY c.name, r.customer_id
	`, quarter, year)
}

func (s *Store) CustomerRewards(ctx context.Context, customerID generic.CustomerID) ([]generic.RewardView, error) {
	return s.queryViews(ctx, `
		SELECT `+viewColumns+viewFrom+`
		WHERE r.customer_id = ?
		ORDER BY r.year DESC, r.quarter DESC
	`, string(customerID))
}

func (s *Store) queryViews(ctx context.Context, query string, args ...any) ([]generic.RewardView, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var out []generic.RewardView
	for rows.Next() {
		var (
			v        generic.RewardView
			tierName sql.NullString
			tierAr   sql.NullString
			rate     sql.NullInt64
		)
		r, err := scanReward(rows, &v.CustomerName, &v.RewardCategory, &tierName, &tierAr, &rate)
		if err != nil {
			return nil, err
		}
		v.Reward = *r
		v.TierName = tierName.String
		v.TierNameAr = tierAr.String
		if rate.Valid {
			d := generic.FromMinorUnits(rate.Int64)
			v.CashbackPerCarton = &d
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// scanReward reads rewardColumns followed by any extra destinations.
func scanReward(row rowScanner, extra ...any) (*generic.Reward, error) {
	var (
		r                         generic.Reward
		id, customerID, status    string
		tierID, paymentID         sql.NullString
		processedBy, notes        sql.NullString
		calculated, manual, final int64
		processedAt               time.Time
	)
	processed := scanTime(&processedAt)
	dest := []any{
		&id, &customerID, &r.Quarter, &r.Year, &r.TotalCartonsPurchased,
		&tierID, &calculated, &manual, &final,
		&status, &paymentID, processed, &processedBy, &notes,
		scanTime(&r.CreatedAt), scanTime(&r.UpdatedAt),
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.ID = generic.RewardID(id)
	r.CustomerID = generic.CustomerID(customerID)
	r.Status = generic.RewardStatus(status)
	if tierID.Valid {
		t := generic.TierID(tierID.String)
		r.EligibleTierID = &t
	}
	if paymentID.Valid {
		p := generic.PaymentID(paymentID.String)
		r.PaymentID = &p
	}
	r.ProcessedAt = processed.ptr()
	r.ProcessedBy = processedBy.String
	r.Notes = notes.String
	r.CalculatedReward = generic.FromMinorUnits(calculated)
	r.ManualAdjustment = generic.FromMinorUnits(manual)
	r.FinalReward = generic.FromMinorUnits(final)
	return &r, nil
}

func tierRef(id *generic.TierID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}
