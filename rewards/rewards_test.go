package rewards_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/generic"
	"github.com/warp/reward-engine/generic/store"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newSQLiteEngine(t *testing.T) (*rewards.Engine, generic.TxStore) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return rewards.NewEngine(st, rewards.WithLocation(time.UTC)), st
}

func newMemoryEngine() (*rewards.Engine, generic.TxStore) {
	st := store.NewMemory()
	return rewards.NewEngine(st, rewards.WithLocation(time.UTC)), st
}

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func inQ1(day int) time.Time {
	return time.Date(2025, time.February, day, 12, 0, 0, 0, time.UTC)
}

func addCustomer(t *testing.T, st generic.Store, id, category string) {
	t.Helper()
	require.NoError(t, st.SaveCustomer(context.Background(), generic.Customer{
		ID: generic.CustomerID(id), Name: "Customer " + id, RewardCategory: category, IsActive: true,
	}))
}

func addOrder(t *testing.T, st generic.Store, id, customer string, status generic.OrderStatus, at time.Time, qty int64) {
	t.Helper()
	require.NoError(t, st.SaveOrder(context.Background(), generic.Order{
		ID: generic.OrderID(id), CustomerID: generic.CustomerID(customer), Status: status, CreatedAt: at,
		Items: []generic.OrderItem{{ProductID: "water-24", Quantity: qty, UnitPrice: dec("5")}},
	}))
}

func addGoldTier(t *testing.T, e *rewards.Engine) *generic.RewardTier {
	t.Helper()
	tiers := rewards.GoldLadder(1, 2025, 100, "1.00")
	tier, err := e.CreateTier(context.Background(), tiers[0])
	require.NoError(t, err)
	return tier
}

func walletOf(t *testing.T, st generic.Store, id string) decimal.Decimal {
	t.Helper()
	c, err := st.GetCustomer(context.Background(), generic.CustomerID(id))
	require.NoError(t, err)
	return c.WalletBalance
}

// =============================================================================
// CARTON AGGREGATION
// =============================================================================

func TestCartonsPurchased_OnlyDeliveredInQuarter(t *testing.T) {
	// GIVEN: Orders in every status, plus a delivered order in Q2
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 100)
	addOrder(t, st, "o-2", "c-1", generic.OrderDelivered, inQ1(2), 50)
	addOrder(t, st, "o-3", "c-1", generic.OrderCancelled, inQ1(3), 500)
	addOrder(t, st, "o-4", "c-1", generic.OrderShipped, inQ1(4), 500)
	addOrder(t, st, "o-5", "c-1", generic.OrderPending, inQ1(5), 500)
	addOrder(t, st, "o-6", "c-1", generic.OrderDelivered, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 500)

	// WHEN: Aggregating Q1
	cartons, err := e.CartonsPurchased(ctx, "c-1", 1, 2025)

	// THEN: Only the two delivered Q1 orders count
	require.NoError(t, err)
	assert.Equal(t, int64(150), cartons)
}

func TestCartonsPurchased_InvalidQuarter(t *testing.T) {
	e, _ := newMemoryEngine()
	_, err := e.CartonsPurchased(context.Background(), "c-1", 5, 2025)
	assert.ErrorIs(t, err, generic.ErrInvalidQuarter)
}

// =============================================================================
// TIER RESOLUTION
// =============================================================================

func ladder() []generic.RewardTier {
	return rewards.StandardLadder("Silver", "فضي", 1, 2025,
		rewards.Bracket{Min: 0, Max: 49, Rate: "0.10"},
		rewards.Bracket{Min: 50, Max: 99, Rate: "0.25"},
		rewards.Bracket{Min: 100, Rate: "0.50"},
	)
}

func TestSelectTier_HighestMatchingBracket(t *testing.T) {
	tiers := ladder()

	cases := []struct {
		cartons int64
		rate    string
	}{
		{0, "0.10"},
		{49, "0.10"},
		{50, "0.25"},
		{99, "0.25"},
		{100, "0.50"},
		{10000, "0.50"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d cartons", tc.cartons), func(t *testing.T) {
			got := rewards.SelectTier(tiers, tc.cartons, "silver")
			require.NotNil(t, got)
			assert.True(t, got.CashbackPerCarton.Equal(dec(tc.rate)), "got %s", got.CashbackPerCarton)
		})
	}
}

func TestSelectTier_CategoryIsCaseInsensitive(t *testing.T) {
	got := rewards.SelectTier(ladder(), 60, "  SILVER ")
	require.NotNil(t, got)
	assert.Equal(t, int64(50), got.MinCartons)
}

func TestSelectTier_NoMatch(t *testing.T) {
	// Blank category never qualifies
	assert.Nil(t, rewards.SelectTier(ladder(), 60, ""))
	assert.Nil(t, rewards.SelectTier(ladder(), 60, "   "))

	// Unknown category
	assert.Nil(t, rewards.SelectTier(ladder(), 60, "gold"))

	// Below every bracket
	gold := rewards.GoldLadder(1, 2025, 100, "1")
	assert.Nil(t, rewards.SelectTier(gold, 99, "gold"))
}

func TestSelectTier_IgnoresInactive(t *testing.T) {
	tiers := ladder()
	tiers[2].IsActive = false
	got := rewards.SelectTier(tiers, 150, "silver")
	assert.Nil(t, got, "150 falls only in the inactive open-ended bracket")
}

func TestResolveTier_UsesQuarterTiersOnly(t *testing.T) {
	e, _ := newMemoryEngine()
	ctx := context.Background()
	addGoldTier(t, e)

	tier, err := e.ResolveTier(ctx, 150, 1, 2025, "Gold")
	require.NoError(t, err)
	require.NotNil(t, tier)

	other, err := e.ResolveTier(ctx, 150, 2, 2025, "Gold")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestValidateTier(t *testing.T) {
	valid := ladder()[0]
	require.NoError(t, rewards.ValidateTier(valid))

	maxBelowMin := valid
	lower := int64(-1)
	maxBelowMin.MaxCartons = &lower

	cases := map[string]func(generic.RewardTier) generic.RewardTier{
		"blank name":        func(t generic.RewardTier) generic.RewardTier { t.Name = " "; return t },
		"quarter 0":         func(t generic.RewardTier) generic.RewardTier { t.Quarter = 0; return t },
		"quarter 5":         func(t generic.RewardTier) generic.RewardTier { t.Quarter = 5; return t },
		"negative min":      func(t generic.RewardTier) generic.RewardTier { t.MinCartons = -1; return t },
		"negative cashback": func(t generic.RewardTier) generic.RewardTier { t.CashbackPerCarton = dec("-0.01"); return t },
		"max below min":     func(generic.RewardTier) generic.RewardTier { return maxBelowMin },
		"cashback too fine": func(t generic.RewardTier) generic.RewardTier { t.CashbackPerCarton = dec("0.00005"); return t },
		"cashback too big":  func(t generic.RewardTier) generic.RewardTier { t.CashbackPerCarton = dec("1e12"); return t },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			err := rewards.ValidateTier(mutate(valid))
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}
}

func TestCreateTier_RejectsOverlap(t *testing.T) {
	e, _ := newMemoryEngine()
	ctx := context.Background()
	for _, tier := range ladder() {
		_, err := e.CreateTier(ctx, tier)
		require.NoError(t, err)
	}

	overlapping := rewards.StandardLadder("silver", "", 1, 2025, rewards.Bracket{Min: 90, Max: 120, Rate: "1"})[0]
	_, err := e.CreateTier(ctx, overlapping)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	// Same range for another category is fine
	overlapping.Name = "Bronze"
	_, err = e.CreateTier(ctx, overlapping)
	assert.NoError(t, err)
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestRecompute_InsertThenUpdate(t *testing.T) {
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "Gold")
	tier := addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 120)

	// WHEN: First recompute
	outcome, err := e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	assert.Equal(t, rewards.OutcomeInserted, outcome)

	r, err := st.FindReward(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(120), r.TotalCartonsPurchased)
	require.NotNil(t, r.EligibleTierID)
	assert.Equal(t, tier.ID, *r.EligibleTierID)
	assert.True(t, r.CalculatedReward.Equal(dec("120")))
	assert.Equal(t, generic.RewardPending, r.Status)

	// WHEN: More cartons arrive and recompute runs again
	addOrder(t, st, "o-2", "c-1", generic.OrderDelivered, inQ1(2), 30)
	outcome, err = e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	assert.Equal(t, rewards.OutcomeUpdated, outcome)

	r, err = st.FindReward(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	assert.True(t, r.CalculatedReward.Equal(dec("150")))
	assert.True(t, r.FinalReward.Equal(dec("150")))
}

func TestRecompute_IsIdempotent(t *testing.T) {
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	_, err := e.CreateTier(ctx, rewards.GoldLadder(1, 2025, 1, "0.3333")[0])
	require.NoError(t, err)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 7)

	var finals []decimal.Decimal
	for i := 0; i < 3; i++ {
		_, err := e.Recompute(ctx, "c-1", 1, 2025)
		require.NoError(t, err)
		r, err := st.FindReward(ctx, "c-1", 1, 2025)
		require.NoError(t, err)
		finals = append(finals, r.CalculatedReward)
	}
	for _, f := range finals {
		assert.True(t, f.Equal(dec("2.3331")), "got %s", f)
	}
}

func TestRecompute_KeepsManualAdjustment(t *testing.T) {
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 150)

	_, err := e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	r, _ := st.FindReward(ctx, "c-1", 1, 2025)
	_, err = e.AdjustManual(ctx, r.ID, dec("25"), nil)
	require.NoError(t, err)

	addOrder(t, st, "o-2", "c-1", generic.OrderDelivered, inQ1(2), 10)
	_, err = e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)

	r, _ = st.FindReward(ctx, "c-1", 1, 2025)
	assert.True(t, r.ManualAdjustment.Equal(dec("25")))
	assert.True(t, r.CalculatedReward.Equal(dec("160")))
	assert.True(t, r.FinalReward.Equal(dec("185")))
}

func TestRecompute_NoCategoryMeansNoTier(t *testing.T) {
	e, st := newMemoryEngine()
	ctx := context.Background()
	addCustomer(t, st, "c-1", "")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 500)

	_, err := e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)

	r, _ := st.FindReward(ctx, "c-1", 1, 2025)
	require.NotNil(t, r)
	assert.Nil(t, r.EligibleTierID)
	assert.True(t, r.CalculatedReward.IsZero())
	assert.Equal(t, int64(500), r.TotalCartonsPurchased)
}

func TestRecompute_UnknownCustomer(t *testing.T) {
	e, _ := newMemoryEngine()
	_, err := e.Recompute(context.Background(), "ghost", 1, 2025)
	assert.ErrorIs(t, err, generic.ErrCustomerNotFound)
}

func TestBatchRecompute_CollectsErrorsAndContinues(t *testing.T) {
	// GIVEN: Three customers; the tier lookup for the second one fails
	st := store.NewMemory()
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addCustomer(t, st, "c-2", "silver")
	addCustomer(t, st, "c-3", "gold")
	e := rewards.NewEngine(st, rewards.WithTierSource(&flakyTiers{inner: st, failOn: 2}))

	// WHEN: Running the batch
	result, err := e.BatchRecomputeForQuarter(ctx, 1, 2025)

	// THEN: Healthy customers are inserted, the failure is reported
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, generic.CustomerID("c-2"), result.Errors[0].CustomerID)

	missing, err := st.FindReward(ctx, "c-2", 1, 2025)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// flakyTiers fails the failOn-th lookup.
type flakyTiers struct {
	inner  rewards.TierSource
	failOn int
	calls  int
}

func (f *flakyTiers) ActiveTiers(ctx context.Context, q, y int) ([]generic.RewardTier, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, errors.New("tier backend down")
	}
	return f.inner.ActiveTiers(ctx, q, y)
}

// staleTiers serves a fixed ladder until it is invalidated, then reads the
// store. It stands in for a cache that outlived a tier.
type staleTiers struct {
	cached        []generic.RewardTier
	store         rewards.TierSource
	fresh         bool
	invalidations int
	flushes       int
}

func (s *staleTiers) ActiveTiers(ctx context.Context, q, y int) ([]generic.RewardTier, error) {
	if s.fresh {
		return s.store.ActiveTiers(ctx, q, y)
	}
	return s.cached, nil
}

func (s *staleTiers) Invalidate(_ context.Context, _, _ int) error {
	s.invalidations++
	s.fresh = true
	return nil
}

func (s *staleTiers) InvalidateAll(_ context.Context) error {
	s.flushes++
	s.fresh = true
	return nil
}

func TestRecompute_ReloadsTiersWhenCachedTierIsGone(t *testing.T) {
	// GIVEN: A cache still holding a tier that no longer exists
	plain, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	live := addGoldTier(t, plain)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 150)

	ghost := rewards.GoldLadder(1, 2025, 100, "2.00")[0]
	ghost.ID = "t-gone"
	tiers := &staleTiers{cached: []generic.RewardTier{ghost}, store: st}
	e := rewards.NewEngine(st, rewards.WithTierSource(tiers), rewards.WithLocation(time.UTC))

	// WHEN: Recomputing
	outcome, err := e.Recompute(ctx, "c-1", 1, 2025)

	// THEN: The quarter is reloaded once and the live tier is used
	require.NoError(t, err)
	assert.Equal(t, rewards.OutcomeInserted, outcome)
	assert.Equal(t, 1, tiers.invalidations)

	r, err := st.FindReward(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	require.NotNil(t, r.EligibleTierID)
	assert.Equal(t, live.ID, *r.EligibleTierID)
	assert.True(t, r.CalculatedReward.Equal(dec("150")))
}

func TestInvalidateAllTiers(t *testing.T) {
	_, st := newSQLiteEngine(t)
	tiers := &staleTiers{store: st}
	e := rewards.NewEngine(st, rewards.WithTierSource(tiers))

	require.NoError(t, e.InvalidateAllTiers(context.Background()))
	assert.Equal(t, 1, tiers.flushes)
	assert.True(t, tiers.fresh)

	// Sources without a cache have nothing to flush
	plain, _ := newMemoryEngine()
	assert.NoError(t, plain.InvalidateAllTiers(context.Background()))
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

func TestAdjustManual_NegativeAndNotes(t *testing.T) {
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 150)
	_, err := e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	r, _ := st.FindReward(ctx, "c-1", 1, 2025)

	notes := "  damaged pallet  "
	updated, err := e.AdjustManual(ctx, r.ID, dec("-50"), &notes)
	require.NoError(t, err)
	assert.True(t, updated.FinalReward.Equal(dec("100")))
	assert.Equal(t, "damaged pallet", updated.Notes)

	// nil notes keeps the previous value
	updated, err = e.AdjustManual(ctx, r.ID, dec("-40"), nil)
	require.NoError(t, err)
	assert.Equal(t, "damaged pallet", updated.Notes)
	assert.True(t, updated.FinalReward.Equal(dec("110")))
}

func TestAdjustManual_NotFound(t *testing.T) {
	e, _ := newMemoryEngine()
	_, err := e.AdjustManual(context.Background(), "nope", dec("1"), nil)
	assert.ErrorIs(t, err, generic.ErrRewardNotFound)
}

func TestAdjustManual_RejectsUnstorableAmounts(t *testing.T) {
	// GIVEN: A pending reward of 100.00
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 100)
	_, err := e.Recompute(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	r, err := st.FindReward(ctx, "c-1", 1, 2025)
	require.NoError(t, err)

	// WHEN: Adjusting beyond the stored precision or range
	for _, amount := range []string{"-0.00005", "1e15", "-1e15", "99999999999.99999"} {
		_, err := e.AdjustManual(ctx, r.ID, dec(amount), nil)

		// THEN: The input is rejected and the row is untouched
		assert.ErrorIs(t, err, generic.ErrInvalidInput, amount)
	}
	got, err := e.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.ManualAdjustment.IsZero())
	assert.True(t, got.FinalReward.Equal(dec("100")))

	// WHEN: Adjusting at full stored precision
	got, err = e.AdjustManual(ctx, r.ID, dec("-0.0001"), nil)
	require.NoError(t, err)

	// THEN: final = calculated + manual holds after the round trip
	assert.True(t, got.FinalReward.Equal(dec("99.9999")))
	assert.True(t, got.FinalReward.Equal(got.CalculatedReward.Add(got.ManualAdjustment)))
}

func TestRecompute_RejectsOverflowingReward(t *testing.T) {
	// GIVEN: A tier whose cashback times cartons exceeds the money range
	e, st := newMemoryEngine()
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	_, err := e.CreateTier(ctx, rewards.GoldLadder(1, 2025, 1, "90000000000")[0])
	require.NoError(t, err)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 1000)

	// WHEN: Recomputing
	_, err = e.Recompute(ctx, "c-1", 1, 2025)

	// THEN: Nothing is written
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	r, err := st.FindReward(ctx, "c-1", 1, 2025)
	require.NoError(t, err)
	assert.Nil(t, r)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestGoldScenario_EndToEnd(t *testing.T) {
	// GIVEN: Gold customer with 150 delivered cartons in Q1 2025 at 1.00/carton
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "cust-gold-0001", "Gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "cust-gold-0001", generic.OrderDelivered, inQ1(10), 150)

	// WHEN: Recomputing
	_, err := e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)
	r, err := st.FindReward(ctx, "cust-gold-0001", 1, 2025)
	require.NoError(t, err)

	// THEN: 150.00 calculated
	assert.True(t, r.CalculatedReward.Equal(dec("150")))

	// WHEN: Admin adjusts by -50 and processes
	_, err = e.AdjustManual(ctx, r.ID, dec("-50"), nil)
	require.NoError(t, err)
	result, err := e.ProcessQuarter(ctx, 1, 2025, "admin-1")
	require.NoError(t, err)

	// THEN: One payment of 100.00, wallet +100.00, row locked
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Zero(t, result.SkippedCount)
	assert.Empty(t, result.Errors)
	assert.True(t, result.TotalAmount.Equal(dec("100")))
	assert.True(t, walletOf(t, st, "cust-gold-0001").Equal(dec("100")))

	payments, err := st.ListPayments(ctx, "cust-gold-0001", 0)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	p := payments[0]
	assert.True(t, p.Amount.Equal(dec("100")))
	assert.Equal(t, generic.PaymentReward, p.Type)
	assert.Equal(t, generic.MethodCredit, p.Method)
	assert.Equal(t, generic.PaymentCompleted, p.Status)
	assert.Equal(t, "Q1/2025", p.Reference)
	assert.Contains(t, p.PaymentNumber, "-CUST-GOL")

	locked, err := e.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RewardProcessed, locked.Status)
	require.NotNil(t, locked.PaymentID)
	assert.Equal(t, p.ID, *locked.PaymentID)
	assert.Equal(t, "admin-1", locked.ProcessedBy)

	// Processed rows reject adjustment and are not recomputed
	_, err = e.AdjustManual(ctx, r.ID, dec("10"), nil)
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)
	addOrder(t, st, "o-2", "cust-gold-0001", generic.OrderDelivered, inQ1(11), 1000)
	outcome, err := e.Recompute(ctx, "cust-gold-0001", 1, 2025)
	require.NoError(t, err)
	assert.Equal(t, rewards.OutcomeSkipped, outcome)

	// WHEN: Processing again
	_, err = e.ProcessQuarter(ctx, 1, 2025, "admin-1")

	// THEN: Nothing left to pay; wallet unchanged
	assert.ErrorIs(t, err, generic.ErrNothingToProcess)
	assert.True(t, walletOf(t, st, "cust-gold-0001").Equal(dec("100")))
}

func TestProcessQuarter_SkipsNonPositive(t *testing.T) {
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-zero", "")
	addCustomer(t, st, "c-neg", "gold")
	addCustomer(t, st, "c-pay", "gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-neg", generic.OrderDelivered, inQ1(1), 100)
	addOrder(t, st, "o-2", "c-pay", generic.OrderDelivered, inQ1(1), 200)

	_, err := e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)
	neg, _ := st.FindReward(ctx, "c-neg", 1, 2025)
	_, err = e.AdjustManual(ctx, neg.ID, dec("-150"), nil)
	require.NoError(t, err)

	result, err := e.ProcessQuarter(ctx, 1, 2025, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 2, result.SkippedCount)
	assert.True(t, result.TotalAmount.Equal(dec("200")))

	// Skipped rows remain pending with untouched wallets
	zero, _ := st.FindReward(ctx, "c-zero", 1, 2025)
	assert.Equal(t, generic.RewardPending, zero.Status)
	assert.True(t, walletOf(t, st, "c-neg").IsZero())
}

func TestProcessQuarter_Preconditions(t *testing.T) {
	e, _ := newMemoryEngine()
	ctx := context.Background()

	_, err := e.ProcessQuarter(ctx, 1, 2025, "  ")
	assert.ErrorIs(t, err, generic.ErrMissingActor)

	_, err = e.ProcessQuarter(ctx, 0, 2025, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = e.ProcessQuarter(ctx, 1, 0, "admin")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = e.ProcessQuarter(ctx, 1, 2025, "admin")
	assert.ErrorIs(t, err, generic.ErrNothingToProcess)
}

// failingWallets wraps a store so that wallet credits for one customer
// fail inside settlement transactions.
type failingWallets struct {
	generic.TxStore
	failFor generic.CustomerID
}

func (f *failingWallets) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.TxStore.WithTx(ctx, func(tx generic.Store) error {
		return fn(&failingWalletTx{Store: tx, failFor: f.failFor})
	})
}

type failingWalletTx struct {
	generic.Store
	failFor generic.CustomerID
}

func (t *failingWalletTx) AdjustWallet(ctx context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	if id == t.failFor {
		return errors.New("wallet write failed")
	}
	return t.Store.AdjustWallet(ctx, id, delta)
}

func TestProcessQuarter_FailureRollsBackOneCustomer(t *testing.T) {
	// GIVEN: Two payable customers, and wallet credits failing for the second
	st := store.NewMemory()
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addCustomer(t, st, "c-2", "gold")
	e := rewards.NewEngine(&failingWallets{TxStore: st, failFor: "c-2"}, rewards.WithLocation(time.UTC))
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 100)
	addOrder(t, st, "o-2", "c-2", generic.OrderDelivered, inQ1(1), 100)
	_, err := e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)

	// WHEN: Processing the quarter
	result, err := e.ProcessQuarter(ctx, 1, 2025, "admin")
	require.NoError(t, err)

	// THEN: The first succeeds, the second is rolled back and reported
	assert.Equal(t, 1, result.ProcessedCount)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, &result.Errors[0], generic.ErrPersistence)
	assert.Equal(t, generic.CustomerID("c-2"), result.Errors[0].CustomerID)

	r, err := st.FindReward(ctx, "c-2", 1, 2025)
	require.NoError(t, err)
	assert.Equal(t, generic.RewardPending, r.Status)
	assert.Nil(t, r.PaymentID)
	assert.True(t, walletOf(t, st, "c-2").IsZero())

	payments, err := st.ListPayments(ctx, "c-2", 0)
	require.NoError(t, err)
	assert.Empty(t, payments, "the payment row rolls back with the wallet credit")
	assert.True(t, walletOf(t, st, "c-1").Equal(dec("100")))
}

func TestProcessQuarter_PaymentNumbersDistinctForSimilarCustomers(t *testing.T) {
	// GIVEN: Customers sharing an 8-character prefix, settled at one instant
	_, st := newSQLiteEngine(t)
	ctx := context.Background()
	fixed := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	e := rewards.NewEngine(st, rewards.WithLocation(time.UTC), rewards.WithClock(func() time.Time { return fixed }))
	addCustomer(t, st, "01JQ7Z3K-a", "gold")
	addCustomer(t, st, "01JQ7Z3K-b", "gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "01JQ7Z3K-a", generic.OrderDelivered, inQ1(1), 100)
	addOrder(t, st, "o-2", "01JQ7Z3K-b", generic.OrderDelivered, inQ1(1), 100)
	_, err := e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)

	// WHEN: Processing the quarter
	result, err := e.ProcessQuarter(ctx, 1, 2025, "admin")
	require.NoError(t, err)

	// THEN: Both are paid under different numbers
	assert.Equal(t, 2, result.ProcessedCount)
	assert.Empty(t, result.Errors)
	a, err := st.ListPayments(ctx, "01JQ7Z3K-a", 0)
	require.NoError(t, err)
	b, err := st.ListPayments(ctx, "01JQ7Z3K-b", 0)
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0].PaymentNumber, b[0].PaymentNumber)
}

func TestProcessQuarter_ConcurrentRunsPayOnce(t *testing.T) {
	// GIVEN: One pending reward
	e, st := newSQLiteEngine(t)
	ctx := context.Background()
	addCustomer(t, st, "c-1", "gold")
	addGoldTier(t, e)
	addOrder(t, st, "o-1", "c-1", generic.OrderDelivered, inQ1(1), 100)
	_, err := e.BatchRecomputeForQuarter(ctx, 1, 2025)
	require.NoError(t, err)

	// WHEN: Several settlement runs overlap
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.ProcessQuarter(ctx, 1, 2025, fmt.Sprintf("admin-%d", i))
			if err != nil {
				assert.ErrorIs(t, err, generic.ErrNothingToProcess)
				return
			}
			mu.Lock()
			processed += res.ProcessedCount
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one payment and one credit
	assert.Equal(t, 1, processed)
	assert.True(t, walletOf(t, st, "c-1").Equal(dec("100")))
	payments, err := st.ListPayments(ctx, "c-1", 0)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestRewardPaymentNumber(t *testing.T) {
	at := time.Date(2025, 4, 2, 9, 30, 0, 123, time.UTC)
	assert.Equal(t, "RW-20250402093000.000000123-ABCDEFGH-KQ4XV2ZD",
		rewards.RewardPaymentNumber(at, "abcdefghijkl", "01JQ7Z3K8M00000000KQ4XV2ZD"))
	assert.Equal(t, "RW-20250402093000.000000123-C1-P1", rewards.RewardPaymentNumber(at, "c1", "p1"))
}
