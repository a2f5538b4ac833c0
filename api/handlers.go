/*
handlers.go - HTTP API handlers for the reward engine

PURPOSE:
  Exposes reward tiers, the quarterly reward ledger, settlement and the
  customer wallet via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the rewards engine and wallet service.

ENDPOINTS:
  Tiers (staff):
    GET    /api/reward-tiers?quarter&year     List tiers
    POST   /api/reward-tiers                  Create tier
    GET    /api/reward-tiers/{id}             Get tier
    PUT    /api/reward-tiers/{id}             Replace tier
    DELETE /api/reward-tiers/{id}             Delete tier

  Rewards (staff):
    GET    /api/customer-rewards?quarter&year Recompute then list the quarter
    POST   /api/customer-rewards/recompute    Recompute only
    POST   /api/customer-rewards/process      Settle pending rewards
    PUT    /api/customer-rewards/{id}         Manual adjustment
    GET    /api/customer-rewards/customer/{customerId}  History
    GET    /api/customer-rewards/export?quarter&year&format  XLSX/CSV

  Wallet:
    POST   /api/customers/{id}/wallet/topup   Admin top-up
    GET    /api/customers/{id}/wallet         Staff or the customer
    POST   /api/orders/{id}/pay               Staff or the owning customer

  Auth:
    POST   /api/auth/login                    Supervisor login

ARCHITECTURE:
  Handler holds all dependencies:
  - Store: Direct reads the engine does not wrap (orders, health)
  - Engine: Tiers, ledger, settlement
  - Wallet: Top-ups and order payments
  - Auth: Token issue and verification

ERROR HANDLING:
  Errors are returned as JSON {error, details?} with the status from
  statusFor (errors.go). Details are hidden in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/warp/reward-engine/generic"
	"github.com/warp/reward-engine/observability"
	"github.com/warp/reward-engine/report"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  generic.TxStore
	Engine *rewards.Engine
	Wallet *wallet.Service
	Auth   *Authenticator

	log        *zap.Logger
	loc        *time.Location
	production bool

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// Deps are the collaborators of NewHandler. Logger and Location may be nil.
type Deps struct {
	Store      generic.TxStore
	Engine     *rewards.Engine
	Wallet     *wallet.Service
	Auth       *Authenticator
	Logger     *zap.Logger
	Location   *time.Location
	Production bool
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Handler{
		Store:      d.Store,
		Engine:     d.Engine,
		Wallet:     d.Wallet,
		Auth:       d.Auth,
		log:        d.Logger,
		loc:        d.Location,
		production: d.Production,
	}
}

// logger prefers the request-scoped logger set by the access log middleware.
func (h *Handler) logger(r *http.Request) *zap.Logger {
	l := observability.FromContext(r.Context())
	if l.Core().Enabled(zap.ErrorLevel) {
		return l
	}
	return h.log
}

// =============================================================================
// TIER HANDLERS
// =============================================================================

// ListTiers returns tiers, optionally filtered by quarter and year.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	var filter generic.TierFilter
	var err error
	if filter.Quarter, err = optionalInt(r, "quarter"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.Year, err = optionalInt(r, "year"); err != nil {
		h.fail(w, r, err)
		return
	}

	tiers, err := h.Engine.ListTiers(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = toTierDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTier validates and stores a tier.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	var req TierRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tier, err := req.toTier("")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.Engine.CreateTier(r.Context(), tier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTierDTO(*created))
}

// GetTier returns one tier.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	tier, err := h.Engine.GetTier(r.Context(), generic.TierID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(*tier))
}

// UpdateTier replaces a tier definition.
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	var req TierRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tier, err := req.toTier(generic.TierID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	updated, err := h.Engine.UpdateTier(r.Context(), tier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(*updated))
}

// DeleteTier removes a tier; 409 while a processed reward references it.
func (h *Handler) DeleteTier(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteTier(r.Context(), generic.TierID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards recomputes the quarter, then returns the joined ledger rows.
// Processed rows are never touched by the recompute.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	q, err := requiredQuarter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()

	batch, err := h.Engine.BatchRecomputeForQuarter(ctx, q.Quarter, q.Year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := h.Engine.ListForQuarter(ctx, q.Quarter, q.Year)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QuarterRewardsResponse{
		Quarter:   q.Quarter,
		Year:      q.Year,
		Label:     q.Label(requestLanguage(r)),
		Recompute: toBatchResultDTO(batch),
		Rewards:   toRewardViewDTOs(views),
	})
}

// RecomputeRewards runs a batch recompute without listing.
func (h *Handler) RecomputeRewards(w http.ResponseWriter, r *http.Request) {
	var req QuarterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.Engine.BatchRecomputeForQuarter(r.Context(), req.Quarter, req.Year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(batch))
}

// ProcessRewards settles every pending reward of the quarter. The caller
// is recorded as processed_by and as the payment creator.
func (h *Handler) ProcessRewards(w http.ResponseWriter, r *http.Request) {
	var req QuarterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quarter == 0 || req.Year == 0 {
		h.fail(w, r, &generic.ValidationError{Field: "quarter", Message: "quarter and year are required"})
		return
	}

	res, err := h.Engine.ProcessQuarter(r.Context(), req.Quarter, req.Year, actorID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResultDTO(res))
}

// AdjustReward sets the manual adjustment of a pending reward.
func (h *Handler) AdjustReward(w http.ResponseWriter, r *http.Request) {
	var req AdjustRewardRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ManualAdjustment == nil {
		h.fail(w, r, &generic.ValidationError{Field: "manualAdjustment", Message: "is required"})
		return
	}

	reward, err := h.Engine.AdjustManual(r.Context(), generic.RewardID(chi.URLParam(r, "id")), *req.ManualAdjustment, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger(r).Info("reward adjusted",
		zap.String("reward_id", string(reward.ID)),
		zap.String("manual_adjustment", reward.ManualAdjustment.String()),
		zap.String("actor", actorID(r.Context())))
	writeJSON(w, http.StatusOK, toRewardDTO(*reward))
}

// CustomerRewardHistory lists a customer's rewards, newest quarter first.
func (h *Handler) CustomerRewardHistory(w http.ResponseWriter, r *http.Request) {
	views, err := h.Engine.CustomerHistory(r.Context(), generic.CustomerID(chi.URLParam(r, "customerId")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardViewDTOs(views))
}

// ExportRewards downloads the quarter's ledger as XLSX (default) or CSV.
// It does not recompute.
func (h *Handler) ExportRewards(w http.ResponseWriter, r *http.Request) {
	q, err := requiredQuarter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := h.Engine.ListForQuarter(r.Context(), q.Quarter, q.Year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lang := requestLanguage(r)

	var (
		data        []byte
		contentType string
		ext         string
	)
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "xlsx", "excel":
		data, err = report.LedgerXLSX(q, lang, views)
		contentType, ext = report.ContentTypeXLSX, "xlsx"
	case "csv":
		data, err = report.LedgerCSV(lang, views)
		contentType, ext = report.ContentTypeCSV, "csv"
	default:
		h.fail(w, r, &generic.ValidationError{Field: "format", Message: "use xlsx or csv"})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(q, ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// TopUpWallet credits a customer's wallet.
func (h *Handler) TopUpWallet(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Amount == nil {
		h.fail(w, r, &generic.ValidationError{Field: "amount", Message: "is required"})
		return
	}

	p, err := h.Wallet.TopUp(r.Context(), wallet.TopUpInput{
		CustomerID: generic.CustomerID(chi.URLParam(r, "id")),
		Amount:     *req.Amount,
		Method:     generic.PaymentMethod(req.Method),
		ActorID:    actorID(r.Context()),
		Note:       req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// GetWallet returns the wallet summary.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	customerID := generic.CustomerID(chi.URLParam(r, "id"))
	if err := authorizeCustomer(r.Context(), customerID); err != nil {
		h.fail(w, r, err)
		return
	}
	sum, err := h.Wallet.Summary(r.Context(), customerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(sum))
}

// PayOrder pays an order from the wallet or on credit.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req PayOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	orderID := generic.OrderID(chi.URLParam(r, "id"))

	order, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := authorizeCustomer(ctx, order.CustomerID); err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.Wallet.PayOrder(ctx, wallet.PayOrderInput{
		OrderID: orderID,
		Method:  generic.PaymentMethod(req.Method),
		ActorID: actorID(ctx),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// =============================================================================
// AUTH & HEALTH
// =============================================================================

// Login exchanges supervisor credentials for an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sup, token, exp, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, generic.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "invalid email or password", nil)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   timestamp(exp),
		Name:        sup.Name,
		Role:        string(sup.Role),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and, when the store supports it, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.logger(r).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.flushTierCache(r)
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// flushTierCache drops every cached quarter after a reset, which clears the
// tier table behind the engine's back.
func (h *Handler) flushTierCache(r *http.Request) {
	if err := h.Engine.InvalidateAllTiers(r.Context()); err != nil {
		h.logger(r).Warn("tier cache flush failed", zap.Error(err))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeJSON decodes the request body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", generic.ErrInvalidInput, err)
	}
	return nil
}

func optionalInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &generic.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

// requiredQuarter reads quarter and year from the query string.
func requiredQuarter(r *http.Request) (generic.Quarter, error) {
	quarter, err := optionalInt(r, "quarter")
	if err != nil {
		return generic.Quarter{}, err
	}
	year, err := optionalInt(r, "year")
	if err != nil {
		return generic.Quarter{}, err
	}
	if quarter == 0 || year == 0 {
		return generic.Quarter{}, &generic.ValidationError{Field: "quarter", Message: "quarter and year are required"}
	}
	q := generic.Quarter{Quarter: quarter, Year: year}
	if !q.Valid() {
		return generic.Quarter{}, generic.ErrInvalidQuarter
	}
	return q, nil
}

// requestLanguage picks the label language from ?lang, then Accept-Language.
func requestLanguage(r *http.Request) language.Tag {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return generic.MatchLanguage(lang)
	}
	return generic.MatchLanguage(r.Header.Get("Accept-Language"))
}
