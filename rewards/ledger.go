package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// RECOMPUTE
// =============================================================================

// Recompute refreshes one customer's ledger row for the quarter.
//
// With no row it inserts a pending one. A pending row gets new cartons,
// tier and calculated amount; its manual adjustment is kept and final is
// re-derived. A processed row is left alone.
func (e *Engine) Recompute(ctx context.Context, customerID generic.CustomerID, quarter, year int) (RecomputeOutcome, error) {
	outcome, err := e.recompute(ctx, customerID, quarter, year)
	if errors.Is(err, generic.ErrTierNotFound) {
		// A cached tier was deleted behind the cache. Reload and retry once.
		e.log.Warn("recompute hit a missing tier, reloading tiers",
			zap.String("customer_id", string(customerID)),
			zap.Int("quarter", quarter), zap.Int("year", year), zap.Error(err))
		e.invalidate(ctx, quarter, year)
		outcome, err = e.recompute(ctx, customerID, quarter, year)
	}
	return outcome, err
}

func (e *Engine) recompute(ctx context.Context, customerID generic.CustomerID, quarter, year int) (RecomputeOutcome, error) {
	if err := validateQuarter(quarter, year); err != nil {
		return "", err
	}

	existing, err := e.store.FindReward(ctx, customerID, quarter, year)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.IsProcessed() {
		return OutcomeSkipped, nil
	}

	customer, err := e.store.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	cartons, err := e.cartons(ctx, e.store, customerID, quarter, year)
	if err != nil {
		return "", err
	}
	tier, err := e.ResolveTier(ctx, cartons, quarter, year, customer.RewardCategory)
	if err != nil {
		return "", err
	}

	calculated := decimal.Zero
	var tierID *generic.TierID
	if tier != nil {
		calculated = tier.CashbackPerCarton.Mul(decimal.NewFromInt(cartons))
		id := tier.ID
		tierID = &id
	}
	if err := generic.ValidateMoney("calculatedReward", calculated); err != nil {
		return "", err
	}

	if existing == nil {
		row := generic.Reward{
			ID:                    generic.RewardID(e.newID()),
			CustomerID:            customerID,
			Quarter:               quarter,
			Year:                  year,
			TotalCartonsPurchased: cartons,
			EligibleTierID:        tierID,
			CalculatedReward:      calculated,
			ManualAdjustment:      decimal.Zero,
			Status:                generic.RewardPending,
		}
		row.RecalculateFinal()
		err := e.store.InsertReward(ctx, row)
		if err == nil {
			return OutcomeInserted, nil
		}
		if !errors.Is(err, generic.ErrDuplicate) {
			return "", err
		}
		// Lost an insert race; update the winner's row instead.
		existing, err = e.store.FindReward(ctx, customerID, quarter, year)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", fmt.Errorf("reward for %s Q%d/%d vanished after duplicate insert", customerID, quarter, year)
		}
		if existing.IsProcessed() {
			return OutcomeSkipped, nil
		}
	}

	row := *existing
	row.TotalCartonsPurchased = cartons
	row.EligibleTierID = tierID
	row.CalculatedReward = calculated
	row.RecalculateFinal()
	if err := e.store.UpdatePendingCalculation(ctx, row); err != nil {
		if errors.Is(err, generic.ErrAlreadyProcessed) {
			return OutcomeSkipped, nil
		}
		return "", err
	}
	return OutcomeUpdated, nil
}

// BatchRecomputeForQuarter recomputes every active customer, one at a time.
// A failing customer is logged and collected; the pass always completes.
func (e *Engine) BatchRecomputeForQuarter(ctx context.Context, quarter, year int) (*BatchResult, error) {
	if err := validateQuarter(quarter, year); err != nil {
		return nil, err
	}
	customers, err := e.store.ListActiveCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active customers: %w", err)
	}

	result := &BatchResult{Quarter: generic.Quarter{Quarter: quarter, Year: year}}
	for _, c := range customers {
		outcome, err := e.Recompute(ctx, c.ID, quarter, year)
		if err != nil {
			e.log.Error("reward recompute failed",
				zap.String("customer_id", string(c.ID)),
				zap.Int("quarter", quarter), zap.Int("year", year),
				zap.Error(err))
			result.Errors = append(result.Errors, generic.CustomerError{CustomerID: c.ID, Err: err})
			e.metrics.recomputed("error")
			continue
		}
		switch outcome {
		case OutcomeInserted:
			result.Inserted++
		case OutcomeUpdated:
			result.Updated++
		case OutcomeSkipped:
			result.Skipped++
		}
		e.metrics.recomputed(string(outcome))
	}

	e.log.Info("reward recompute finished",
		zap.Int("quarter", quarter), zap.Int("year", year),
		zap.Int("customers", len(customers)),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

// AdjustManual sets the manual adjustment of a pending row and re-derives
// its final amount. Negative adjustments are allowed. A nil notes leaves
// the existing notes untouched.
func (e *Engine) AdjustManual(ctx context.Context, id generic.RewardID, manual decimal.Decimal, notes *string) (*generic.Reward, error) {
	if err := generic.ValidateMoney("manualAdjustment", manual); err != nil {
		return nil, err
	}
	r, err := e.store.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsProcessed() {
		return nil, generic.ErrAlreadyProcessed
	}

	r.ManualAdjustment = manual
	r.RecalculateFinal()
	if err := generic.ValidateMoney("finalReward", r.FinalReward); err != nil {
		return nil, err
	}
	if notes != nil {
		r.Notes = strings.TrimSpace(*notes)
	}
	if err := e.store.UpdatePendingAdjustment(ctx, *r); err != nil {
		return nil, err
	}
	return e.store.GetReward(ctx, id)
}

// =============================================================================
// READS
// =============================================================================

// ListForQuarter returns the quarter's rows joined with customer and tier.
func (e *Engine) ListForQuarter(ctx context.Context, quarter, year int) ([]generic.RewardView, error) {
	if err := validateQuarter(quarter, year); err != nil {
		return nil, err
	}
	return e.store.ListRewardViews(ctx, quarter, year)
}

// CustomerHistory returns a customer's rows, newest quarter first.
func (e *Engine) CustomerHistory(ctx context.Context, customerID generic.CustomerID) ([]generic.RewardView, error) {
	return e.store.CustomerRewards(ctx, customerID)
}

func (e *Engine) Get(ctx context.Context, id generic.RewardID) (*generic.Reward, error) {
	return e.store.GetReward(ctx, id)
}
