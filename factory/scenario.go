/*
Package factory converts YAML scenario documents into reward engine data.

PURPOSE:
  A scenario describes one quarter of trading: customers and their reward
  categories, the tier ladder in force, the orders they placed, and any
  manual adjustments the back office made. Scenarios seed demo databases
  and drive end-to-end tests without hand-writing store calls.

YAML SCHEMA:
  id: gold-quarter
  name: Gold customer, Q1 2025
  description: One Gold customer crosses the 100 carton threshold
  quarter: 1
  year: 2025
  customers:
    - id: cust-gold-0001
      name: Al Noor Market
      category: Gold
      wallet: "25.00"
  tiers:
    - name: Gold
      name_ar: ذهبي
      min_cartons: 100
      cashback_per_carton: "1.00"
  ladders:
    - name: Silver
      name_ar: فضي
      brackets:
        - {min: 20, max: 49, rate: "0.25"}
        - {min: 50, rate: "0.50"}
  orders:
    - id: ord-1
      customer: cust-gold-0001
      status: delivered
      created_at: 2025-02-10
      items:
        - {product: water-24, quantity: 150, unit_price: "12.50"}
  adjustments:
    - {customer: cust-gold-0001, amount: "-50", notes: damaged goods}
  settle: false

DEFAULTS:
  - tier quarter/year default to the document's quarter/year
  - tiers are active unless active: false
  - customers are active unless active: false
  - order status defaults to delivered
  - created_at accepts 2006-01-02 or RFC 3339

SEE ALSO:
  - rewards/presets.go: Ladders built from brackets
  - api/scenarios.go: HTTP loader
*/
package factory

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/reward-engine/generic"
	"github.com/warp/reward-engine/rewards"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Scenario is one parsed scenario document.
type Scenario struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Quarter     int              `yaml:"quarter"`
	Year        int              `yaml:"year"`
	Customers   []CustomerYAML   `yaml:"customers"`
	Tiers       []TierYAML       `yaml:"tiers"`
	Ladders     []LadderYAML     `yaml:"ladders"`
	Orders      []OrderYAML      `yaml:"orders"`
	Adjustments []AdjustmentYAML `yaml:"adjustments"`

	// Settle runs the settlement processor after seeding.
	Settle bool `yaml:"settle"`
}

type CustomerYAML struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Wallet   string `yaml:"wallet"`
	Active   *bool  `yaml:"active"`
}

type TierYAML struct {
	Name              string `yaml:"name"`
	NameAr            string `yaml:"name_ar"`
	Quarter           int    `yaml:"quarter"`
	Year              int    `yaml:"year"`
	MinCartons        int64  `yaml:"min_cartons"`
	MaxCartons        *int64 `yaml:"max_cartons"`
	CashbackPerCarton string `yaml:"cashback_per_carton"`
	Active            *bool  `yaml:"active"`
}

type LadderYAML struct {
	Name     string        `yaml:"name"`
	NameAr   string        `yaml:"name_ar"`
	Brackets []BracketYAML `yaml:"brackets"`
}

type BracketYAML struct {
	Min  int64  `yaml:"min"`
	Max  int64  `yaml:"max"`
	Rate string `yaml:"rate"`
}

type OrderYAML struct {
	ID        string     `yaml:"id"`
	Customer  string     `yaml:"customer"`
	Status    string     `yaml:"status"`
	CreatedAt string     `yaml:"created_at"`
	Items     []ItemYAML `yaml:"items"`
}

type ItemYAML struct {
	Product   string `yaml:"product"`
	Quantity  int64  `yaml:"quantity"`
	UnitPrice string `yaml:"unit_price"`
}

type AdjustmentYAML struct {
	Customer string `yaml:"customer"`
	Amount   string `yaml:"amount"`
	Notes    string `yaml:"notes"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes and validates a scenario document. source names the
// document in error messages.
func Parse(data []byte, source string) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", source, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", source, err)
	}
	return &s, nil
}

// LoadFile parses a scenario from disk.
func LoadFile(p string) (*Scenario, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", p, err)
	}
	return Parse(data, p)
}

//go:embed scenarios/*.yaml
var builtinFS embed.FS

// Builtin returns the bundled demo scenarios sorted by ID.
func Builtin() ([]*Scenario, error) {
	entries, err := builtinFS.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, entry := range entries {
		name := path.Join("scenarios", entry.Name())
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		s, err := Parse(data, name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BuiltinByID finds a bundled scenario. It returns nil when none matches.
func BuiltinByID(id string) (*Scenario, error) {
	all, err := Builtin()
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

// Validate checks references and values. Customers referenced by orders and
// adjustments must be declared in the document.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &generic.ValidationError{Field: "id", Message: "is required"}
	}
	if err := validateQuarter(s.Quarter, s.Year); err != nil {
		return err
	}

	known := make(map[string]bool, len(s.Customers))
	for i, c := range s.Customers {
		if c.ID == "" {
			return &generic.ValidationError{Field: fmt.Sprintf("customers[%d].id", i), Message: "is required"}
		}
		if known[c.ID] {
			return &generic.ValidationError{Field: fmt.Sprintf("customers[%d].id", i), Message: "duplicate " + c.ID}
		}
		known[c.ID] = true
		if _, err := optionalDecimal(c.Wallet); err != nil {
			return &generic.ValidationError{Field: fmt.Sprintf("customers[%d].wallet", i), Message: err.Error()}
		}
	}

	if _, err := s.RewardTiers(); err != nil {
		return err
	}
	if _, err := s.DomainOrders(time.UTC); err != nil {
		return err
	}
	for i, o := range s.Orders {
		if !known[o.Customer] {
			return &generic.ValidationError{Field: fmt.Sprintf("orders[%d].customer", i), Message: "unknown customer " + o.Customer}
		}
	}
	for i, a := range s.Adjustments {
		if !known[a.Customer] {
			return &generic.ValidationError{Field: fmt.Sprintf("adjustments[%d].customer", i), Message: "unknown customer " + a.Customer}
		}
		if _, err := decimal.NewFromString(a.Amount); err != nil {
			return &generic.ValidationError{Field: fmt.Sprintf("adjustments[%d].amount", i), Message: "invalid decimal"}
		}
	}
	return nil
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

// =============================================================================
// CONVERSION
// =============================================================================

// DomainCustomers converts the customer section.
func (s *Scenario) DomainCustomers() []generic.Customer {
	out := make([]generic.Customer, 0, len(s.Customers))
	for _, c := range s.Customers {
		out = append(out, generic.Customer{
			ID:             generic.CustomerID(c.ID),
			Name:           c.Name,
			RewardCategory: c.Category,
			IsActive:       c.Active == nil || *c.Active,
		})
	}
	return out
}

// RewardTiers converts explicit tiers and expands ladders. IDs are left
// empty for the engine to assign.
func (s *Scenario) RewardTiers() ([]generic.RewardTier, error) {
	var out []generic.RewardTier
	for i, t := range s.Tiers {
		rate, err := decimal.NewFromString(t.CashbackPerCarton)
		if err != nil {
			return nil, &generic.ValidationError{Field: fmt.Sprintf("tiers[%d].cashback_per_carton", i), Message: "invalid decimal"}
		}
		tier := generic.RewardTier{
			Name:              t.Name,
			NameAr:            t.NameAr,
			Quarter:           orDefault(t.Quarter, s.Quarter),
			Year:              orDefault(t.Year, s.Year),
			MinCartons:        t.MinCartons,
			MaxCartons:        t.MaxCartons,
			CashbackPerCarton: rate,
			IsActive:          t.Active == nil || *t.Active,
		}
		if err := rewards.ValidateTier(tier); err != nil {
			return nil, fmt.Errorf("tiers[%d]: %w", i, err)
		}
		out = append(out, tier)
	}

	for i, l := range s.Ladders {
		brackets := make([]rewards.Bracket, 0, len(l.Brackets))
		for j, b := range l.Brackets {
			if _, err := decimal.NewFromString(b.Rate); err != nil {
				return nil, &generic.ValidationError{Field: fmt.Sprintf("ladders[%d].brackets[%d].rate", i, j), Message: "invalid decimal"}
			}
			brackets = append(brackets, rewards.Bracket{Min: b.Min, Max: b.Max, Rate: b.Rate})
		}
		for _, tier := range rewards.StandardLadder(l.Name, l.NameAr, s.Quarter, s.Year, brackets...) {
			if err := rewards.ValidateTier(tier); err != nil {
				return nil, fmt.Errorf("ladders[%d]: %w", i, err)
			}
			out = append(out, tier)
		}
	}
	return out, nil
}

// DomainOrders converts the order section. Bare dates are read as midday in
// loc so they never straddle a quarter boundary.
func (s *Scenario) DomainOrders(loc *time.Location) ([]generic.Order, error) {
	out := make([]generic.Order, 0, len(s.Orders))
	for i, o := range s.Orders {
		if o.ID == "" {
			return nil, &generic.ValidationError{Field: fmt.Sprintf("orders[%d].id", i), Message: "is required"}
		}
		status := generic.OrderStatus(strings.ToLower(strings.TrimSpace(o.Status)))
		if status == "" {
			status = generic.OrderDelivered
		}
		if !validOrderStatus(status) {
			return nil, &generic.ValidationError{Field: fmt.Sprintf("orders[%d].status", i), Message: "unknown status " + o.Status}
		}
		created, err := parseTime(o.CreatedAt, loc)
		if err != nil {
			return nil, &generic.ValidationError{Field: fmt.Sprintf("orders[%d].created_at", i), Message: err.Error()}
		}

		order := generic.Order{
			ID:         generic.OrderID(o.ID),
			CustomerID: generic.CustomerID(o.Customer),
			Status:     status,
			CreatedAt:  created,
		}
		for j, it := range o.Items {
			price, err := decimal.NewFromString(it.UnitPrice)
			if err != nil {
				return nil, &generic.ValidationError{Field: fmt.Sprintf("orders[%d].items[%d].unit_price", i, j), Message: "invalid decimal"}
			}
			if err := generic.ValidateMoney(fmt.Sprintf("orders[%d].items[%d].unit_price", i, j), price); err != nil {
				return nil, err
			}
			if it.Quantity < 0 {
				return nil, &generic.ValidationError{Field: fmt.Sprintf("orders[%d].items[%d].quantity", i, j), Message: "must not be negative"}
			}
			order.Items = append(order.Items, generic.OrderItem{ProductID: it.Product, Quantity: it.Quantity, UnitPrice: price})
		}
		out = append(out, order)
	}
	return out, nil
}

func validOrderStatus(s generic.OrderStatus) bool {
	switch s {
	case generic.OrderPending, generic.OrderConfirmed, generic.OrderShipped, generic.OrderDelivered, generic.OrderCancelled:
		return true
	}
	return false
}

func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected 2006-01-02 or RFC 3339")
	}
	return d.Add(12 * time.Hour), nil
}

func optionalDecimal(v string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal")
	}
	if err := generic.ValidateMoney("amount", d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// =============================================================================
// APPLY
// =============================================================================

// ApplyResult reports what Apply wrote.
type ApplyResult struct {
	Customers   int
	Tiers       int
	Orders      int
	Adjustments int
	Batch       *rewards.BatchResult
	Settlement  *rewards.ProcessResult
}

// SettlementActor is recorded as processed_by when a scenario settles.
const SettlementActor = "scenario-loader"

// Apply writes the scenario through the store and engine. The store is not
// reset first; callers decide whether to start clean.
func (s *Scenario) Apply(ctx context.Context, st generic.TxStore, eng *rewards.Engine, loc *time.Location) (*ApplyResult, error) {
	if loc == nil {
		loc = time.Local
	}
	res := &ApplyResult{}

	for i, c := range s.DomainCustomers() {
		if err := st.SaveCustomer(ctx, c); err != nil {
			return nil, fmt.Errorf("saving customer %s: %w", c.ID, err)
		}
		wallet, _ := optionalDecimal(s.Customers[i].Wallet)
		if !wallet.IsZero() {
			if err := st.AdjustWallet(ctx, c.ID, wallet); err != nil {
				return nil, fmt.Errorf("funding wallet of %s: %w", c.ID, err)
			}
		}
		res.Customers++
	}

	tiers, err := s.RewardTiers()
	if err != nil {
		return nil, err
	}
	for _, t := range tiers {
		if _, err := eng.CreateTier(ctx, t); err != nil {
			return nil, fmt.Errorf("creating tier %s: %w", t.Name, err)
		}
		res.Tiers++
	}

	orders, err := s.DomainOrders(loc)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := st.SaveOrder(ctx, o); err != nil {
			return nil, fmt.Errorf("saving order %s: %w", o.ID, err)
		}
		res.Orders++
	}

	if len(s.Adjustments) == 0 && !s.Settle {
		return res, nil
	}

	res.Batch, err = eng.BatchRecomputeForQuarter(ctx, s.Quarter, s.Year)
	if err != nil {
		return nil, err
	}
	for _, a := range s.Adjustments {
		r, err := st.FindReward(ctx, generic.CustomerID(a.Customer), s.Quarter, s.Year)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, fmt.Errorf("adjustment for %s: %w", a.Customer, generic.ErrRewardNotFound)
		}
		amount := decimal.RequireFromString(a.Amount)
		var notes *string
		if a.Notes != "" {
			n := a.Notes
			notes = &n
		}
		if _, err := eng.AdjustManual(ctx, r.ID, amount, notes); err != nil {
			return nil, fmt.Errorf("adjustment for %s: %w", a.Customer, err)
		}
		res.Adjustments++
	}

	if s.Settle {
		res.Settlement, err = eng.ProcessQuarter(ctx, s.Quarter, s.Year, SettlementActor)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
