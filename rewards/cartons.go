package rewards

import (
	"context"
	"fmt"

	"github.com/warp/reward-engine/generic"
)

// CartonsPurchased returns the total quantity of the customer's delivered
// orders created within the quarter. Cancelled, pending, confirmed and
// shipped orders never count.
func (e *Engine) CartonsPurchased(ctx context.Context, customerID generic.CustomerID, quarter, year int) (int64, error) {
	return e.cartons(ctx, e.store, customerID, quarter, year)
}

func (e *Engine) cartons(ctx context.Context, orders generic.OrderStore, customerID generic.CustomerID, quarter, year int) (int64, error) {
	p, err := generic.QuarterRangeIn(quarter, year, e.loc)
	if err != nil {
		return 0, err
	}
	total, err := orders.SumDeliveredQuantity(ctx, customerID, p)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate cartons for %s: %w", customerID, err)
	}
	return total, nil
}
