/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger and store types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts leave the API as strings with at least two decimals ("150.00")
  and are accepted as JSON numbers or strings. They never pass through
  float64. Cashback rates are rendered exactly ("1.25").

VALIDATION:
  Validation is done in handlers and services, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/generic"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/wallet"
)

// =============================================================================
// TIERS
// =============================================================================

type TierDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	NameAr            string `json:"nameAr,omitempty"`
	Quarter           int    `json:"quarter"`
	Year              int    `json:"year"`
	MinCartons        int64  `json:"minCartons"`
	MaxCartons        *int64 `json:"maxCartons"`
	CashbackPerCarton string `json:"cashbackPerCarton"`
	IsActive          bool   `json:"isActive"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

// TierRequest is the body of tier create and update. A missing isActive
// means active.
type TierRequest struct {
	Name              string           `json:"name"`
	NameAr            string           `json:"nameAr"`
	Quarter           int              `json:"quarter"`
	Year              int              `json:"year"`
	MinCartons        int64            `json:"minCartons"`
	MaxCartons        *int64           `json:"maxCartons"`
	CashbackPerCarton *decimal.Decimal `json:"cashbackPerCarton"`
	IsActive          *bool            `json:"isActive"`
}

func (r TierRequest) toTier(id generic.TierID) (generic.RewardTier, error) {
	if r.CashbackPerCarton == nil {
		return generic.RewardTier{}, &generic.ValidationError{Field: "cashbackPerCarton", Message: "is required"}
	}
	return generic.RewardTier{
		ID:                id,
		Name:              r.Name,
		NameAr:            r.NameAr,
		Quarter:           r.Quarter,
		Year:              r.Year,
		MinCartons:        r.MinCartons,
		MaxCartons:        r.MaxCartons,
		CashbackPerCarton: *r.CashbackPerCarton,
		IsActive:          r.IsActive == nil || *r.IsActive,
	}, nil
}

func toTierDTO(t generic.RewardTier) TierDTO {
	return TierDTO{
		ID:                string(t.ID),
		Name:              t.Name,
		NameAr:            t.NameAr,
		Quarter:           t.Quarter,
		Year:              t.Year,
		MinCartons:        t.MinCartons,
		MaxCartons:        t.MaxCartons,
		CashbackPerCarton: t.CashbackPerCarton.String(),
		IsActive:          t.IsActive,
		CreatedAt:         timestamp(t.CreatedAt),
		UpdatedAt:         timestamp(t.UpdatedAt),
	}
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardDTO struct {
	ID                    string  `json:"id"`
	CustomerID            string  `json:"customerId"`
	CustomerName          string  `json:"customerName,omitempty"`
	RewardCategory        string  `json:"rewardCategory,omitempty"`
	Quarter               int     `json:"quarter"`
	Year                  int     `json:"year"`
	TotalCartonsPurchased int64   `json:"totalCartonsPurchased"`
	EligibleTierID        *string `json:"eligibleTierId"`
	TierName              string  `json:"tierName,omitempty"`
	TierNameAr            string  `json:"tierNameAr,omitempty"`
	CashbackPerCarton     *string `json:"cashbackPerCarton,omitempty"`
	CalculatedReward      string  `json:"calculatedReward"`
	ManualAdjustment      string  `json:"manualAdjustment"`
	FinalReward           string  `json:"finalReward"`
	Status                string  `json:"status"`
	PaymentID             *string `json:"paymentId"`
	ProcessedAt           *string `json:"processedAt"`
	ProcessedBy           string  `json:"processedBy,omitempty"`
	Notes                 string  `json:"notes,omitempty"`
	CreatedAt             string  `json:"createdAt,omitempty"`
	UpdatedAt             string  `json:"updatedAt,omitempty"`
}

func toRewardDTO(r generic.Reward) RewardDTO {
	dto := RewardDTO{
		ID:                    string(r.ID),
		CustomerID:            string(r.CustomerID),
		Quarter:               r.Quarter,
		Year:                  r.Year,
		TotalCartonsPurchased: r.TotalCartonsPurchased,
		CalculatedReward:      money(r.CalculatedReward),
		ManualAdjustment:      money(r.ManualAdjustment),
		FinalReward:           money(r.FinalReward),
		Status:                string(r.Status),
		ProcessedBy:           r.ProcessedBy,
		Notes:                 r.Notes,
		CreatedAt:             timestamp(r.CreatedAt),
		UpdatedAt:             timestamp(r.UpdatedAt),
	}
	if r.EligibleTierID != nil {
		dto.EligibleTierID = strPtr(string(*r.EligibleTierID))
	}
	if r.PaymentID != nil {
		dto.PaymentID = strPtr(string(*r.PaymentID))
	}
	if r.ProcessedAt != nil {
		dto.ProcessedAt = strPtr(timestamp(*r.ProcessedAt))
	}
	return dto
}

func toRewardViewDTO(v generic.RewardView) RewardDTO {
	dto := toRewardDTO(v.Reward)
	dto.CustomerName = v.CustomerName
	dto.RewardCategory = v.RewardCategory
	dto.TierName = v.TierName
	dto.TierNameAr = v.TierNameAr
	if v.CashbackPerCarton != nil {
		dto.CashbackPerCarton = strPtr(v.CashbackPerCarton.String())
	}
	return dto
}

func toRewardViewDTOs(views []generic.RewardView) []RewardDTO {
	out := make([]RewardDTO, len(views))
	for i, v := range views {
		out[i] = toRewardViewDTO(v)
	}
	return out
}

// QuarterRequest is the body of recompute and process commands.
type QuarterRequest struct {
	Quarter int `json:"quarter"`
	Year    int `json:"year"`
}

// AdjustRewardRequest is the body of PUT /customer-rewards/{id}. Notes is
// left unchanged when absent.
type AdjustRewardRequest struct {
	ManualAdjustment *decimal.Decimal `json:"manualAdjustment"`
	Notes            *string          `json:"notes"`
}

type CustomerErrorDTO struct {
	CustomerID string `json:"customerId"`
	Error      string `json:"error"`
}

func toCustomerErrorDTOs(errs []generic.CustomerError) []CustomerErrorDTO {
	out := make([]CustomerErrorDTO, len(errs))
	for i, e := range errs {
		out[i] = CustomerErrorDTO{CustomerID: string(e.CustomerID), Error: e.Err.Error()}
	}
	return out
}

type BatchResultDTO struct {
	Quarter  int                `json:"quarter"`
	Year     int                `json:"year"`
	Inserted int                `json:"inserted"`
	Updated  int                `json:"updated"`
	Skipped  int                `json:"skipped"`
	Errors   []CustomerErrorDTO `json:"errors"`
}

func toBatchResultDTO(b *rewards.BatchResult) BatchResultDTO {
	return BatchResultDTO{
		Quarter:  b.Quarter.Quarter,
		Year:     b.Quarter.Year,
		Inserted: b.Inserted,
		Updated:  b.Updated,
		Skipped:  b.Skipped,
		Errors:   toCustomerErrorDTOs(b.Errors),
	}
}

// QuarterRewardsResponse is the body of GET /customer-rewards.
type QuarterRewardsResponse struct {
	Quarter   int            `json:"quarter"`
	Year      int            `json:"year"`
	Label     string         `json:"label"`
	Recompute BatchResultDTO `json:"recompute"`
	Rewards   []RewardDTO    `json:"rewards"`
}

type ProcessResultDTO struct {
	ProcessedCount int                `json:"processedCount"`
	SkippedCount   int                `json:"skippedCount"`
	TotalAmount    string             `json:"totalAmount"`
	Errors         []CustomerErrorDTO `json:"errors"`
}

func toProcessResultDTO(p *rewards.ProcessResult) ProcessResultDTO {
	return ProcessResultDTO{
		ProcessedCount: p.ProcessedCount,
		SkippedCount:   p.SkippedCount,
		TotalAmount:    money(p.TotalAmount),
		Errors:         toCustomerErrorDTOs(p.Errors),
	}
}

// =============================================================================
// WALLET & PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID            string  `json:"id"`
	PaymentNumber string  `json:"paymentNumber"`
	CustomerID    string  `json:"customerId"`
	OrderID       *string `json:"orderId"`
	Amount        string  `json:"amount"`
	Method        string  `json:"method"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Reference     string  `json:"reference,omitempty"`
	CreatedBy     string  `json:"createdBy"`
	CreatedAt     string  `json:"createdAt"`
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:            string(p.ID),
		PaymentNumber: p.PaymentNumber,
		CustomerID:    string(p.CustomerID),
		Amount:        money(p.Amount),
		Method:        string(p.Method),
		Type:          string(p.Type),
		Status:        string(p.Status),
		Reference:     p.Reference,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     timestamp(p.CreatedAt),
	}
	if p.OrderID != nil {
		dto.OrderID = strPtr(string(*p.OrderID))
	}
	return dto
}

type TopUpRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Method string           `json:"method"`
	Note   string           `json:"note"`
}

type PayOrderRequest struct {
	Method string `json:"method"`
}

type WalletDTO struct {
	CustomerID     string       `json:"customerId"`
	WalletBalance  string       `json:"walletBalance"`
	CurrentBalance string       `json:"currentBalance"`
	RecentPayments []PaymentDTO `json:"recentPayments"`
}

func toWalletDTO(s *wallet.Summary) WalletDTO {
	dto := WalletDTO{
		CustomerID:     string(s.CustomerID),
		WalletBalance:  money(s.WalletBalance),
		CurrentBalance: money(s.CurrentBalance),
		RecentPayments: make([]PaymentDTO, len(s.RecentPayments)),
	}
	for i, p := range s.RecentPayments {
		dto.RecentPayments[i] = toPaymentDTO(p)
	}
	return dto
}

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresAt   string `json:"expiresAt"`
	Name        string `json:"name"`
	Role        string `json:"role"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quarter     int    `json:"quarter"`
	Year        int    `json:"year"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error body. Details are omitted in production.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FORMATTING
// =============================================================================

// money renders at least two decimals and never rounds away precision.
func money(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func strPtr(s string) *string {
	return &s
}
