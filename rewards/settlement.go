package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// SETTLEMENT
// =============================================================================

// errNotPayable aborts a customer's transaction when the claimed row turns
// out to have nothing to pay.
var errNotPayable = errors.New("final reward is not positive")

// ProcessQuarter settles every pending reward of the quarter.
//
// Each customer is settled in its own transaction: the row is claimed with
// a conditional update, a reward payment is written and the wallet is
// credited. A failure rolls back that customer only and is reported in
// ProcessResult.Errors. Rows with a final amount <= 0 are skipped and stay
// pending. Running the same quarter again pays nothing twice because
// processed rows are no longer pending.
func (e *Engine) ProcessQuarter(ctx context.Context, quarter, year int, actorID string) (*ProcessResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, generic.ErrMissingActor
	}
	if err := validateQuarter(quarter, year); err != nil {
		return nil, err
	}

	pending, err := e.store.PendingRewards(ctx, quarter, year)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending rewards: %w", err)
	}
	if len(pending) == 0 {
		return nil, generic.ErrNothingToProcess
	}

	q := generic.Quarter{Quarter: quarter, Year: year}
	result := &ProcessResult{TotalAmount: decimal.Zero}

	for _, r := range pending {
		if !r.FinalReward.IsPositive() {
			result.SkippedCount++
			continue
		}

		paid, err := e.settleOne(ctx, r, q, actorID)
		switch {
		case errors.Is(err, errNotPayable):
			result.SkippedCount++
		case err != nil:
			e.log.Error("reward settlement failed",
				zap.String("customer_id", string(r.CustomerID)),
				zap.String("reward_id", string(r.ID)),
				zap.Stringer("quarter", q),
				zap.Error(err))
			result.Errors = append(result.Errors, generic.CustomerError{
				CustomerID: r.CustomerID,
				Err:        fmt.Errorf("%w: %w", generic.ErrPersistence, err),
			})
			e.metrics.settlementFailed()
		default:
			result.ProcessedCount++
			result.TotalAmount = result.TotalAmount.Add(paid)
			e.metrics.settled(paid)
		}
	}

	e.log.Info("reward settlement finished",
		zap.Stringer("quarter", q),
		zap.String("actor", actorID),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.String("total", result.TotalAmount.StringFixed(2)),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// settleOne claims, pays and credits one reward inside a transaction and
// returns the amount paid.
func (e *Engine) settleOne(ctx context.Context, r generic.Reward, q generic.Quarter, actorID string) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := e.store.WithTx(ctx, func(tx generic.Store) error {
		now := e.now().UTC()
		paymentID := generic.PaymentID(e.newID())

		if err := tx.ClaimReward(ctx, r.ID, paymentID, actorID, now); err != nil {
			return err
		}
		// Re-read under the claim so a late adjustment is honoured.
		claimed, err := tx.GetReward(ctx, r.ID)
		if err != nil {
			return err
		}
		if !claimed.FinalReward.IsPositive() {
			return errNotPayable
		}
		paid = claimed.FinalReward

		payment := generic.Payment{
			ID:            paymentID,
			PaymentNumber: RewardPaymentNumber(now, r.CustomerID, paymentID),
			CustomerID:    r.CustomerID,
			Amount:        paid,
			Method:        generic.MethodCredit,
			Type:          generic.PaymentReward,
			Status:        generic.PaymentCompleted,
			Reference:     q.Reference(),
			CreatedBy:     actorID,
			CreatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return tx.AdjustWallet(ctx, r.CustomerID, paid)
	})
	return paid, err
}

// RewardPaymentNumber builds "RW-<timestamp>-<customer prefix>-<id suffix>".
func RewardPaymentNumber(at time.Time, customerID generic.CustomerID, id generic.PaymentID) string {
	return generic.PaymentNumber("RW", at, customerID, id)
}
