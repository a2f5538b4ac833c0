/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Serves the YAML scenarios bundled with the factory package. Loading a
  scenario resets the database, then writes customers, tiers, orders and
  adjustments for one quarter, optionally settling it.

AVAILABLE SCENARIOS:
  gold-quarter:    One Gold customer, 150 cartons, a -50.00 adjustment
  mixed-ladder:    Silver ladder and Gold across five customers
  settled-quarter: A Q4 2024 quarter already paid into wallets

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "gold-quarter"}

ADDING NEW SCENARIOS:
  Drop a YAML file into factory/scenarios/. No code change is needed.

NOTE:
  Scenarios reset the database. The routes are not mounted in production.

SEE ALSO:
  - factory/scenario.go: Document schema and Apply
*/
package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/reward-engine/factory"
	"github.com/warp/reward-engine/generic"
)

func toScenarioDTO(s *factory.Scenario) ScenarioDTO {
	return ScenarioDTO{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Quarter:     s.Quarter,
		Year:        s.Year,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := factory.Builtin()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ScenarioDTO, len(all))
	for i, s := range all {
		dtos[i] = toScenarioDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, err := factory.BuiltinByID(current)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if s == nil {
		writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
		return
	}
	writeJSON(w, http.StatusOK, toScenarioDTO(s))
}

// LoadScenario resets the database and loads a bundled scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := factory.BuiltinByID(req.ScenarioID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if s == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""

	h.flushTierCache(r)

	res, err := s.Apply(ctx, h.Store, h.Engine, h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = s.ID

	resp := map[string]any{
		"status":    "loaded",
		"scenario":  s.ID,
		"customers": res.Customers,
		"tiers":     res.Tiers,
		"orders":    res.Orders,
	}
	if res.Settlement != nil {
		resp["settlement"] = toProcessResultDTO(res.Settlement)
	}
	h.logger(r).Info("scenario loaded",
		zap.String("scenario", s.ID),
		zap.String("quarter", generic.Quarter{Quarter: s.Quarter, Year: s.Year}.Reference()))
	writeJSON(w, http.StatusOK, resp)
}
