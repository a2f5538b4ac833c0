// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore. WithTx works on a copy of the data and
// swaps it in on success, so a failed transaction leaves nothing behind.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

var _ generic.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

type memData struct {
	tiers       map[generic.TierID]generic.RewardTier
	rewards     map[generic.RewardID]generic.Reward
	customers   map[generic.CustomerID]generic.Customer
	orders      map[generic.OrderID]generic.Order
	payments    []generic.Payment
	supervisors map[string]generic.Supervisor
}

func newMemData() *memData {
	return &memData{
		tiers:       make(map[generic.TierID]generic.RewardTier),
		rewards:     make(map[generic.RewardID]generic.Reward),
		customers:   make(map[generic.CustomerID]generic.Customer),
		orders:      make(map[generic.OrderID]generic.Order),
		supervisors: make(map[string]generic.Supervisor),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.tiers {
		c.tiers[k] = v
	}
	for k, v := range d.rewards {
		c.rewards[k] = v
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	c.payments = append([]generic.Payment(nil), d.payments...)
	for k, v := range d.supervisors {
		c.supervisors[k] = v
	}
	return c
}

// WithTx executes fn against a private copy and commits it if fn succeeds.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.data.clone()
	if err := fn(working); err != nil {
		return err
	}
	m.data = working
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemData()
	return nil
}

// =============================================================================
// LOCKED DELEGATES
// =============================================================================

func (m *Memory) CreateTier(ctx context.Context, t generic.RewardTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateTier(ctx, t)
}

func (m *Memory) UpdateTier(ctx context.Context, t generic.RewardTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateTier(ctx, t)
}

func (m *Memory) DeleteTier(ctx context.Context, id generic.TierID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteTier(ctx, id)
}

func (m *Memory) GetTier(ctx context.Context, id generic.TierID) (*generic.RewardTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetTier(ctx, id)
}

func (m *Memory) ListTiers(ctx context.Context, f generic.TierFilter) ([]generic.RewardTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListTiers(ctx, f)
}

func (m *Memory) ActiveTiers(ctx context.Context, quarter, year int) ([]generic.RewardTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ActiveTiers(ctx, quarter, year)
}

func (m *Memory) SaveCustomer(ctx context.Context, c generic.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveCustomer(ctx, c)
}

func (m *Memory) GetCustomer(ctx context.Context, id generic.CustomerID) (*generic.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetCustomer(ctx, id)
}

func (m *Memory) ListActiveCustomers(ctx context.Context) ([]generic.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListActiveCustomers(ctx)
}

func (m *Memory) AdjustWallet(ctx context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AdjustWallet(ctx, id, delta)
}

func (m *Memory) DebitWallet(ctx context.Context, id generic.CustomerID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DebitWallet(ctx, id, amount)
}

func (m *Memory) AdjustCredit(ctx context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AdjustCredit(ctx, id, delta)
}

func (m *Memory) SaveOrder(ctx context.Context, o generic.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveOrder(ctx, o)
}

func (m *Memory) GetOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetOrder(ctx, id)
}

func (m *Memory) SumDeliveredQuantity(ctx context.Context, id generic.CustomerID, p generic.Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SumDeliveredQuantity(ctx, id, p)
}

func (m *Memory) GetReward(ctx context.Context, id generic.RewardID) (*generic.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetReward(ctx, id)
}

func (m *Memory) FindReward(ctx context.Context, id generic.CustomerID, quarter, year int) (*generic.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindReward(ctx, id, quarter, year)
}

func (m *Memory) InsertReward(ctx context.Context, r generic.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertReward(ctx, r)
}

func (m *Memory) UpdatePendingCalculation(ctx context.Context, r generic.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdatePendingCalculation(ctx, r)
}

func (m *Memory) UpdatePendingAdjustment(ctx context.Context, r generic.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdatePendingAdjustment(ctx, r)
}

func (m *Memory) ClaimReward(ctx context.Context, id generic.RewardID, paymentID generic.PaymentID, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ClaimReward(ctx, id, paymentID, by, at)
}

func (m *Memory) PendingRewards(ctx context.Context, quarter, year int) ([]generic.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.PendingRewards(ctx, quarter, year)
}

func (m *Memory) ListRewardViews(ctx context.Context, quarter, year int) ([]generic.RewardView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListRewardViews(ctx, quarter, year)
}

func (m *Memory) CustomerRewards(ctx context.Context, id generic.CustomerID) ([]generic.RewardView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CustomerRewards(ctx, id)
}

func (m *Memory) InsertPayment(ctx context.Context, p generic.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertPayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, id generic.CustomerID, limit int) ([]generic.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListPayments(ctx, id, limit)
}

func (m *Memory) SaveSupervisor(ctx context.Context, s generic.Supervisor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveSupervisor(ctx, s)
}

func (m *Memory) GetSupervisorByEmail(ctx context.Context, email string) (*generic.Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetSupervisorByEmail(ctx, email)
}

// =============================================================================
// UNLOCKED DATA OPERATIONS (generic.Store)
// =============================================================================

func (d *memData) CreateTier(_ context.Context, t generic.RewardTier) error {
	if _, ok := d.tiers[t.ID]; ok {
		return generic.ErrDuplicate
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	d.tiers[t.ID] = t
	return nil
}

func (d *memData) UpdateTier(_ context.Context, t generic.RewardTier) error {
	existing, ok := d.tiers[t.ID]
	if !ok {
		return generic.ErrTierNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	d.tiers[t.ID] = t
	return nil
}

func (d *memData) DeleteTier(_ context.Context, id generic.TierID) error {
	if _, ok := d.tiers[id]; !ok {
		return generic.ErrTierNotFound
	}
	for _, r := range d.rewards {
		if r.EligibleTierID != nil && *r.EligibleTierID == id && r.IsProcessed() {
			return generic.ErrTierInUse
		}
	}
	for rid, r := range d.rewards {
		if r.EligibleTierID != nil && *r.EligibleTierID == id {
			r.EligibleTierID = nil
			d.rewards[rid] = r
		}
	}
	delete(d.tiers, id)
	return nil
}

func (d *memData) GetTier(_ context.Context, id generic.TierID) (*generic.RewardTier, error) {
	t, ok := d.tiers[id]
	if !ok {
		return nil, generic.ErrTierNotFound
	}
	return &t, nil
}

func (d *memData) ListTiers(_ context.Context, f generic.TierFilter) ([]generic.RewardTier, error) {
	var out []generic.RewardTier
	for _, t := range d.tiers {
		if f.Quarter != 0 && t.Quarter != f.Quarter {
			continue
		}
		if f.Year != 0 && t.Year != f.Year {
			continue
		}
		out = append(out, t)
	}
	sortTiers(out)
	return out, nil
}

func (d *memData) ActiveTiers(_ context.Context, quarter, year int) ([]generic.RewardTier, error) {
	var out []generic.RewardTier
	for _, t := range d.tiers {
		if t.IsActive && t.Quarter == quarter && t.Year == year {
			out = append(out, t)
		}
	}
	sortTiers(out)
	return out, nil
}

func sortTiers(tiers []generic.RewardTier) {
	sort.Slice(tiers, func(i, j int) bool {
		a, b := tiers[i], tiers[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Quarter != b.Quarter {
			return a.Quarter > b.Quarter
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.MinCartons < b.MinCartons
	})
}

func (d *memData) SaveCustomer(_ context.Context, c generic.Customer) error {
	c.RewardCategory = generic.NormalizeCategory(c.RewardCategory)
	if existing, ok := d.customers[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	d.customers[c.ID] = c
	return nil
}

func (d *memData) GetCustomer(_ context.Context, id generic.CustomerID) (*generic.Customer, error) {
	c, ok := d.customers[id]
	if !ok {
		return nil, generic.ErrCustomerNotFound
	}
	return &c, nil
}

func (d *memData) ListActiveCustomers(_ context.Context) ([]generic.Customer, error) {
	var out []generic.Customer
	for _, c := range d.customers {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memData) AdjustWallet(_ context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	c, ok := d.customers[id]
	if !ok {
		return generic.ErrCustomerNotFound
	}
	c.WalletBalance = c.WalletBalance.Add(delta)
	d.customers[id] = c
	return nil
}

func (d *memData) DebitWallet(_ context.Context, id generic.CustomerID, amount decimal.Decimal) error {
	c, ok := d.customers[id]
	if !ok {
		return generic.ErrCustomerNotFound
	}
	if c.WalletBalance.LessThan(amount) {
		return generic.ErrInsufficientBalance
	}
	c.WalletBalance = c.WalletBalance.Sub(amount)
	d.customers[id] = c
	return nil
}

func (d *memData) AdjustCredit(_ context.Context, id generic.CustomerID, delta decimal.Decimal) error {
	c, ok := d.customers[id]
	if !ok {
		return generic.ErrCustomerNotFound
	}
	c.CurrentBalance = c.CurrentBalance.Add(delta)
	d.customers[id] = c
	return nil
}

func (d *memData) SaveOrder(_ context.Context, o generic.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	d.orders[o.ID] = o
	return nil
}

func (d *memData) GetOrder(_ context.Context, id generic.OrderID) (*generic.Order, error) {
	o, ok := d.orders[id]
	if !ok {
		return nil, generic.ErrOrderNotFound
	}
	return &o, nil
}

func (d *memData) SumDeliveredQuantity(_ context.Context, id generic.CustomerID, p generic.Period) (int64, error) {
	var total int64
	for _, o := range d.orders {
		if o.CustomerID != id || o.Status != generic.OrderDelivered || !p.Contains(o.CreatedAt) {
			continue
		}
		for _, it := range o.Items {
			total += it.Quantity
		}
	}
	return total, nil
}

func (d *memData) GetReward(_ context.Context, id generic.RewardID) (*generic.Reward, error) {
	r, ok := d.rewards[id]
	if !ok {
		return nil, generic.ErrRewardNotFound
	}
	return &r, nil
}

func (d *memData) FindReward(_ context.Context, id generic.CustomerID, quarter, year int) (*generic.Reward, error) {
	for _, r := range d.rewards {
		if r.CustomerID == id && r.Quarter == quarter && r.Year == year {
			return &r, nil
		}
	}
	return nil, nil
}

func (d *memData) InsertReward(ctx context.Context, r generic.Reward) error {
	if existing, _ := d.FindReward(ctx, r.CustomerID, r.Quarter, r.Year); existing != nil {
		return generic.ErrDuplicate
	}
	if _, ok := d.rewards[r.ID]; ok {
		return generic.ErrDuplicate
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	d.rewards[r.ID] = r
	return nil
}

func (d *memData) pending(id generic.RewardID) (generic.Reward, error) {
	r, ok := d.rewards[id]
	if !ok {
		return r, generic.ErrRewardNotFound
	}
	if r.IsProcessed() {
		return r, generic.ErrAlreadyProcessed
	}
	return r, nil
}

func (d *memData) UpdatePendingCalculation(_ context.Context, in generic.Reward) error {
	r, err := d.pending(in.ID)
	if err != nil {
		return err
	}
	r.TotalCartonsPurchased = in.TotalCartonsPurchased
	r.EligibleTierID = in.EligibleTierID
	r.CalculatedReward = in.CalculatedReward
	r.FinalReward = in.FinalReward
	r.UpdatedAt = time.Now().UTC()
	d.rewards[r.ID] = r
	return nil
}

func (d *memData) UpdatePendingAdjustment(_ context.Context, in generic.Reward) error {
	r, err := d.pending(in.ID)
	if err != nil {
		return err
	}
	r.ManualAdjustment = in.ManualAdjustment
	r.FinalReward = in.FinalReward
	r.Notes = in.Notes
	r.UpdatedAt = time.Now().UTC()
	d.rewards[r.ID] = r
	return nil
}

func (d *memData) ClaimReward(_ context.Context, id generic.RewardID, paymentID generic.PaymentID, by string, at time.Time) error {
	r, err := d.pending(id)
	if err != nil {
		return err
	}
	r.Status = generic.RewardProcessed
	r.PaymentID = &paymentID
	r.ProcessedAt = &at
	r.ProcessedBy = by
	r.UpdatedAt = at
	d.rewards[id] = r
	return nil
}

func (d *memData) PendingRewards(_ context.Context, quarter, year int) ([]generic.Reward, error) {
	var out []generic.Reward
	for _, r := range d.rewards {
		if r.Quarter == quarter && r.Year == year && r.Status == generic.RewardPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (d *memData) view(r generic.Reward) generic.RewardView {
	v := generic.RewardView{Reward: r}
	if c, ok := d.customers[r.CustomerID]; ok {
		v.CustomerName = c.Name
		v.RewardCategory = c.RewardCategory
	}
	if r.EligibleTierID != nil {
		if t, ok := d.tiers[*r.EligibleTierID]; ok {
			v.TierName = t.Name
			v.TierNameAr = t.NameAr
			rate := t.CashbackPerCarton
			v.CashbackPerCarton = &rate
		}
	}
	return v
}

func (d *memData) ListRewardViews(_ context.Context, quarter, year int) ([]generic.RewardView, error) {
	var out []generic.RewardView
	for _, r := range d.rewards {
		if r.Quarter == quarter && r.Year == year {
			out = append(out, d.view(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerName < out[j].CustomerName })
	return out, nil
}

func (d *memData) CustomerRewards(_ context.Context, id generic.CustomerID) ([]generic.RewardView, error) {
	var out []generic.RewardView
	for _, r := range d.rewards {
		if r.CustomerID == id {
			out = append(out, d.view(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Quarter > out[j].Quarter
	})
	return out, nil
}

func (d *memData) InsertPayment(_ context.Context, p generic.Payment) error {
	for _, existing := range d.payments {
		if existing.ID == p.ID || existing.PaymentNumber == p.PaymentNumber {
			return generic.ErrDuplicate
		}
		if p.Type == generic.PaymentOrder && existing.Type == generic.PaymentOrder &&
			p.OrderID != nil && existing.OrderID != nil && *p.OrderID == *existing.OrderID {
			return generic.ErrOrderAlreadyPaid
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	d.payments = append(d.payments, p)
	return nil
}

func (d *memData) ListPayments(_ context.Context, id generic.CustomerID, limit int) ([]generic.Payment, error) {
	var out []generic.Payment
	for i := len(d.payments) - 1; i >= 0; i-- {
		if d.payments[i].CustomerID == id {
			out = append(out, d.payments[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (d *memData) SaveSupervisor(_ context.Context, s generic.Supervisor) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	d.supervisors[strings.ToLower(strings.TrimSpace(s.Email))] = s
	return nil
}

func (d *memData) GetSupervisorByEmail(_ context.Context, email string) (*generic.Supervisor, error) {
	s, ok := d.supervisors[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
