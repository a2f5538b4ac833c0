/*
Package rewards implements quarterly customer rewards: carton aggregation,
tier resolution, the reward ledger and quarter settlement.

PURPOSE:
  Turns a customer's delivered carton volume in a calendar quarter into a
  cashback amount, keeps that amount in a per-customer-per-quarter ledger
  row that an admin can adjust, and settles the quarter by paying every
  positive pending amount into the customer's wallet exactly once.

FLOW:
  1. CartonsPurchased: sum delivered order quantities in the quarter
  2. ResolveTier:      pick the tier for the customer's category and volume
  3. Recompute:        upsert the pending ledger row
  4. AdjustManual:     admin correction while the row is pending
  5. ProcessQuarter:   claim row, write payment, credit wallet (one tx each)

LEDGER ROW LIFECYCLE:
  (none) --Recompute--> pending --ProcessQuarter--> processed
  pending rows are refreshed by every recompute; processed rows never
  change again.

EXAMPLE:
  Gold tier pays 1.00 per carton from 100 cartons up.
  Customer buys 150 delivered cartons in Q1 2025:
    calculated = 150.00, manual = 0, final = 150.00
  Admin adjusts by -50:
    final = 100.00
  Settlement writes payment RW-... for 100.00 and wallet += 100.00.

SEE ALSO:
  - generic/store.go: Conditional writes the engine relies on
  - wallet/: Wallet top-ups and order payments
  - cache/: Active tier cache
*/
package rewards

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// RESULTS
// =============================================================================

// RecomputeOutcome says what a single recompute did to the ledger.
type RecomputeOutcome string

const (
	OutcomeInserted RecomputeOutcome = "inserted"
	OutcomeUpdated  RecomputeOutcome = "updated"
	OutcomeSkipped  RecomputeOutcome = "skipped" // row already processed
)

// BatchResult summarizes a recompute pass over all active customers.
type BatchResult struct {
	Quarter  generic.Quarter
	Inserted int
	Updated  int
	Skipped  int
	Errors   []generic.CustomerError
}

// ProcessResult summarizes a settlement run.
type ProcessResult struct {
	ProcessedCount int
	SkippedCount   int
	TotalAmount    decimal.Decimal
	Errors         []generic.CustomerError
}

// =============================================================================
// ENGINE
// =============================================================================

// TierSource supplies the active tiers of a quarter. generic.TierStore
// satisfies it, as does the cache package's read-through wrapper.
type TierSource interface {
	ActiveTiers(ctx context.Context, quarter, year int) ([]generic.RewardTier, error)
}

// TierInvalidator is implemented by tier sources that cache.
type TierInvalidator interface {
	Invalidate(ctx context.Context, quarter, year int) error
}

// TierFlusher is implemented by tier sources that can drop every cached
// quarter at once.
type TierFlusher interface {
	InvalidateAll(ctx context.Context) error
}

// Engine wires the reward operations to a store.
type Engine struct {
	store   generic.TxStore
	tiers   TierSource
	log     *zap.Logger
	metrics *Metrics
	loc     *time.Location
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTierSource routes tier lookups through src instead of the store.
func WithTierSource(src TierSource) Option {
	return func(e *Engine) { e.tiers = src }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLocation sets the time zone quarter boundaries are computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an engine over store.
func NewEngine(store generic.TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		tiers: store,
		log:   zap.NewNop(),
		loc:   time.Local,
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func validateQuarter(quarter, year int) error {
	if quarter < 1 || quarter > 4 {
		return generic.ErrInvalidQuarter
	}
	if year <= 0 {
		return &generic.ValidationError{Field: "year", Message: "must be positive"}
	}
	return nil
}
