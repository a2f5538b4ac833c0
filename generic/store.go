/*
store.go - Persistence interfaces for tiers, rewards, customers, orders, payments

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never builds SQL; it asks the store for exactly the reads and the
  conditional writes its invariants need.

KEY INTERFACES:
  TierStore:       Reward tier definitions
  RewardStore:     Customer quarterly reward ledger rows
  CustomerStore:   Reward category and wallet/credit balances
  OrderStore:      Delivered carton volume
  PaymentStore:    Reward, top-up and order payments
  TxStore:         Store plus WithTx for per-customer atomic settlement

CONDITIONAL WRITES:
  Every mutation of a reward row is guarded by status = 'pending' in the
  WHERE clause. A write that matches no pending row returns
  ErrAlreadyProcessed, so two overlapping settlement runs cannot both
  claim the same row.

ATOMIC BALANCES:
  AdjustWallet/AdjustCredit/DebitWallet are single UPDATE statements of
  the form col = col + ?. They never read the balance into Go first.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (default, demo, tests)
  - store/postgres: PostgreSQL via pgx
  - generic/store: In-memory for engine tests

SEE ALSO:
  - store/sqlstore: Shared SQL implementation
  - rewards/settlement.go: Uses WithTx
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TierFilter narrows ListTiers. Zero fields match everything.
type TierFilter struct {
	Quarter int
	Year    int
}

type TierStore interface {
	CreateTier(ctx context.Context, tier RewardTier) error
	// UpdateTier returns ErrTierNotFound when no row has tier.ID.
	UpdateTier(ctx context.Context, tier RewardTier) error
	// DeleteTier returns ErrTierInUse when a processed reward references the tier.
	DeleteTier(ctx context.Context, id TierID) error
	GetTier(ctx context.Context, id TierID) (*RewardTier, error)
	ListTiers(ctx context.Context, filter TierFilter) ([]RewardTier, error)
	ActiveTiers(ctx context.Context, quarter, year int) ([]RewardTier, error)
}

type CustomerStore interface {
	// SaveCustomer upserts; RewardCategory is normalized on write.
	SaveCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	ListActiveCustomers(ctx context.Context) ([]Customer, error)

	// AdjustWallet atomically adds delta to the wallet balance.
	AdjustWallet(ctx context.Context, id CustomerID, delta decimal.Decimal) error
	// DebitWallet subtracts amount only if the balance covers it.
	DebitWallet(ctx context.Context, id CustomerID, amount decimal.Decimal) error
	// AdjustCredit atomically adds delta to the credit used.
	AdjustCredit(ctx context.Context, id CustomerID, delta decimal.Decimal) error
}

type OrderStore interface {
	SaveOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	// SumDeliveredQuantity sums item quantities of delivered orders created in p.
	SumDeliveredQuantity(ctx context.Context, customerID CustomerID, p Period) (int64, error)
}

type RewardStore interface {
	GetReward(ctx context.Context, id RewardID) (*Reward, error)
	// FindReward returns nil, nil when the customer has no row for the quarter.
	FindReward(ctx context.Context, customerID CustomerID, quarter, year int) (*Reward, error)
	// InsertReward returns ErrDuplicate on a (customer, quarter, year) clash.
	InsertReward(ctx context.Context, r Reward) error
	// UpdatePendingCalculation writes cartons, tier, calculated and final.
	UpdatePendingCalculation(ctx context.Context, r Reward) error
	// UpdatePendingAdjustment writes manual adjustment, final and notes.
	UpdatePendingAdjustment(ctx context.Context, r Reward) error
	// ClaimReward flips a pending row to processed.
	ClaimReward(ctx context.Context, id RewardID, paymentID PaymentID, processedBy string, at time.Time) error
	PendingRewards(ctx context.Context, quarter, year int) ([]Reward, error)
	ListRewardViews(ctx context.Context, quarter, year int) ([]RewardView, error)
	// CustomerRewards lists a customer's rows, newest quarter first.
	CustomerRewards(ctx context.Context, customerID CustomerID) ([]RewardView, error)
}

type PaymentStore interface {
	// InsertPayment returns ErrOrderAlreadyPaid for a second order payment.
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, customerID CustomerID, limit int) ([]Payment, error)
}

type SupervisorStore interface {
	SaveSupervisor(ctx context.Context, s Supervisor) error
	// GetSupervisorByEmail returns nil, nil when no supervisor matches.
	GetSupervisorByEmail(ctx context.Context, email string) (*Supervisor, error)
}

// Store is the full persistence surface.
type Store interface {
	TierStore
	RewardStore
	CustomerStore
	OrderStore
	PaymentStore
	SupervisorStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Reset clears all data (demo scenarios and tests).
	Reset(ctx context.Context) error
}
