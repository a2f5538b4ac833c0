package rewards_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/generic"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/store/sqlite"
)

func TestMetrics_RecomputeAndSettlement(t *testing.T) {
	// GIVEN: An engine reporting to a private registry
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reg := prometheus.NewRegistry()
	e := rewards.NewEngine(st, rewards.WithLocation(time.UTC), rewards.WithMetrics(rewards.NewMetrics(reg)))
	ctx := context.Background()

	addCustomer(t, st, "c-1", "Gold")
	addCustomer(t, st, "c-2", "")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(3), 120)

	// WHEN: Recomputing twice and settling
	_, err = e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)
	_, err = e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)
	_, err = e.ProcessQuarter(ctx, 1, 2025, "admin-1")
	require.NoError(t, err)

	// THEN: Counters reflect each outcome
	expected := `
# HELP rewards_recompute_total Customer reward recomputes by outcome.
# TYPE rewards_recompute_total counter
rewards_recompute_total{outcome="inserted"} 2
rewards_recompute_total{outcome="updated"} 2
# HELP rewards_settled_total Rewards paid into customer wallets.
# TYPE rewards_settled_total counter
rewards_settled_total 1
# HELP rewards_settled_amount_total Sum of reward amounts paid into customer wallets.
# TYPE rewards_settled_amount_total counter
rewards_settled_amount_total 120
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"rewards_recompute_total", "rewards_settled_total", "rewards_settled_amount_total"))
}
