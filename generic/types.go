/*
Package generic provides the core types of the reward and settlement engine.

PURPOSE:
  Holds the domain vocabulary shared by every other package: identifiers,
  money, tagged statuses, and the entities the engine reads and writes.
  Nothing in this package talks to a database or to HTTP.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts (shopspring/decimal), never float64
  - RewardTier: a cashback-per-carton bracket for one category/quarter/year
  - Reward: the customer quarterly reward ledger row
  - Customer, Order, Payment, Supervisor: collaborator entities

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every monetary value
  2. Type Safety: distinct ID types so customer and tier IDs never mix
  3. Tagged statuses: enumerated string types instead of free-form strings

SEE ALSO:
  - period.go: Quarter arithmetic
  - errors.go: Sentinel and structured errors
  - store.go: Persistence interfaces
*/
package generic

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyScale is the number of decimal places kept at the storage boundary.
const MoneyScale = 4

// MustParseDecimal parses s, returning zero for malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MaxMoney bounds the magnitude of any single amount the engine accepts.
// Its minor units stay far inside int64.
var MaxMoney = decimal.New(1, 11)

// ValidateMoney rejects amounts that cannot be stored exactly: more than
// MoneyScale decimal places, or a magnitude above MaxMoney. The error
// unwraps to ErrInvalidInput.
func ValidateMoney(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MoneyScale)) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d decimal places", MoneyScale)}
	}
	if d.Abs().GreaterThan(MaxMoney) {
		return &ValidationError{Field: field, Message: "must not exceed " + MaxMoney.String() + " in magnitude"}
	}
	return nil
}

// ToMinorUnits converts an amount to integer ten-thousandths. Callers
// validate with ValidateMoney first; out-of-range values are not checked here.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Round(MoneyScale).Shift(MoneyScale).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -MoneyScale)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TierID string
type RewardID string
type PaymentID string
type OrderID string
type SupervisorID string

// PaymentNumber builds "<prefix>-<timestamp>-<customer prefix>-<id suffix>".
// The suffix is the tail of the payment ID; for ULIDs that is the random
// part, so two payments stamped in the same instant for customers sharing
// a prefix still get distinct numbers.
func PaymentNumber(prefix string, at time.Time, customerID CustomerID, id PaymentID) string {
	customer := string(customerID)
	if len(customer) > 8 {
		customer = customer[:8]
	}
	suffix := string(id)
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return prefix + "-" + at.UTC().Format("20060102150405.000000000") + "-" +
		strings.ToUpper(customer) + "-" + strings.ToUpper(suffix)
}

// =============================================================================
// TAGGED STATUSES
// =============================================================================

type RewardStatus string

const (
	RewardPending   RewardStatus = "pending"
	RewardProcessed RewardStatus = "processed"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type PaymentType string

const (
	PaymentReward PaymentType = "reward"
	PaymentTopUp  PaymentType = "topup"
	PaymentOrder  PaymentType = "order"
)

type PaymentMethod string

const (
	MethodCredit       PaymentMethod = "credit"
	MethodWallet       PaymentMethod = "wallet"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleCustomer   Role = "customer"
)

// =============================================================================
// REWARD TIER
// =============================================================================

// RewardTier maps a carton range to a cashback-per-carton rate for one
// reward category in one quarter. A nil MaxCartons means no upper bound.
type RewardTier struct {
	ID                TierID
	Name              string
	NameAr            string
	Quarter           int
	Year              int
	MinCartons        int64
	MaxCartons        *int64
	CashbackPerCarton decimal.Decimal
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Matches reports whether cartons falls inside [MinCartons, MaxCartons].
func (t RewardTier) Matches(cartons int64) bool {
	if cartons < t.MinCartons {
		return false
	}
	return t.MaxCartons == nil || cartons <= *t.MaxCartons
}

// NameKey is the normalized form used to match customer categories.
func (t RewardTier) NameKey() string {
	return NormalizeCategory(t.Name)
}

// NormalizeCategory trims and lowercases a category or tier name.
func NormalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// =============================================================================
// CUSTOMER QUARTERLY REWARD
// =============================================================================

// Reward is one customer's reward ledger row for a quarter.
//
// INVARIANTS:
//   - FinalReward == CalculatedReward + ManualAdjustment
//   - unique per (CustomerID, Quarter, Year)
//   - once Status is processed the row never changes again
type Reward struct {
	ID                    RewardID
	CustomerID            CustomerID
	Quarter               int
	Year                  int
	TotalCartonsPurchased int64
	EligibleTierID        *TierID
	CalculatedReward      decimal.Decimal
	ManualAdjustment      decimal.Decimal
	FinalReward           decimal.Decimal
	Status                RewardStatus
	PaymentID             *PaymentID
	ProcessedAt           *time.Time
	ProcessedBy           string
	Notes                 string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsProcessed reports whether the row is locked.
func (r Reward) IsProcessed() bool { return r.Status == RewardProcessed }

// RecalculateFinal re-derives FinalReward from its parts.
func (r *Reward) RecalculateFinal() {
	r.FinalReward = r.CalculatedReward.Add(r.ManualAdjustment)
}

// RewardView is a reward row joined with its customer and tier.
type RewardView struct {
	Reward
	CustomerName      string
	RewardCategory    string
	TierName          string
	TierNameAr        string
	CashbackPerCarton *decimal.Decimal
}

// =============================================================================
// COLLABORATOR ENTITIES
// =============================================================================

// Customer holds the fields the engine reads or mutates.
type Customer struct {
	ID             CustomerID
	Name           string
	RewardCategory string // normalized; empty means no tier applies
	WalletBalance  decimal.Decimal
	CurrentBalance decimal.Decimal // credit used
	IsActive       bool
	CreatedAt      time.Time
}

type OrderItem struct {
	ProductID string
	Quantity  int64
	UnitPrice decimal.Decimal
}

type Order struct {
	ID         OrderID
	CustomerID CustomerID
	Status     OrderStatus
	Items      []OrderItem
	CreatedAt  time.Time
}

// Total is the sum of quantity times unit price over all items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}

type Payment struct {
	ID            PaymentID
	PaymentNumber string
	CustomerID    CustomerID
	OrderID       *OrderID
	Amount        decimal.Decimal
	Method        PaymentMethod
	Type          PaymentType
	Status        PaymentStatus
	Reference     string
	CreatedBy     string
	CreatedAt     time.Time
}

type Supervisor struct {
	ID           SupervisorID
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
}
