package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/cache"
	"github.com/warp/reward-engine/generic"
)

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, "gold-quarter", list[0].ID)
}

func TestScenarios_LoadSetsCurrent(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Nothing loaded
	rec := s.do(http.MethodGet, "/api/scenarios/current", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	// WHEN: Loading the settled quarter
	rec = s.do(http.MethodPost, "/api/scenarios/load", s.admin, LoadScenarioRequest{ScenarioID: "settled-quarter"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "settled-quarter", body["scenario"])
	settlement, ok := body["settlement"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "87.50", settlement["totalAmount"])

	// THEN: It is current and its wallets are credited
	current := decode[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", s.admin, nil))
	assert.Equal(t, "settled-quarter", current.ID)
	assert.Equal(t, 4, current.Quarter)

	w := decode[WalletDTO](t, s.do(http.MethodGet, "/api/customers/cust-bronze-01/wallet", s.admin, nil))
	assert.Equal(t, "83.50", w.WalletBalance)
}

func TestScenarios_ReloadReplacesData(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("mixed-ladder")
	s.loadScenario("gold-quarter")

	rec := s.do(http.MethodGet, "/api/customers/cust-silver-top/wallet", s.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tiers := decode[[]TierDTO](t, s.do(http.MethodGet, "/api/reward-tiers", s.admin, nil))
	require.Len(t, tiers, 1)
	assert.Equal(t, "Gold", tiers[0].Name)
}

func TestScenarios_UnknownRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", s.admin, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_StaffOnly(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/reset", s.token("cust-1", generic.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/reset", s.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// memoryTierCache is a TierCache over a map.
type memoryTierCache struct {
	entries map[string][]generic.RewardTier
}

func (m *memoryTierCache) Get(_ context.Context, key string) ([]generic.RewardTier, bool, error) {
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryTierCache) Set(_ context.Context, key string, tiers []generic.RewardTier, _ time.Duration) error {
	m.entries[key] = tiers
	return nil
}

func (m *memoryTierCache) Delete(_ context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func (m *memoryTierCache) DeletePrefix(_ context.Context, prefix string) error {
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func TestScenarios_ResetFlushesCachedTiers(t *testing.T) {
	// GIVEN: Two quarters of tiers in the cache
	tc := &memoryTierCache{entries: map[string][]generic.RewardTier{}}
	s := newCachedTestServer(t, tc)
	s.loadScenario("gold-quarter")
	tc.entries[cache.Key(3, 2019)] = []generic.RewardTier{{ID: "t-old", Name: "Gold"}}
	require.NotEmpty(t, tc.entries)

	// WHEN: The database is reset
	rec := s.do(http.MethodPost, "/api/scenarios/reset", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: No quarter is served from the cache
	assert.Empty(t, tc.entries)
}

func TestScenarios_LoadAfterResetUsesFreshTiers(t *testing.T) {
	tc := &memoryTierCache{entries: map[string][]generic.RewardTier{}}
	s := newCachedTestServer(t, tc)

	// GIVEN: A scenario loaded, then a different one for another quarter
	s.loadScenario("mixed-ladder")
	s.loadScenario("gold-quarter")

	// THEN: Tiers served for the loaded quarter match the database
	tiers := decode[[]TierDTO](t, s.do(http.MethodGet, "/api/reward-tiers", s.admin, nil))
	require.Len(t, tiers, 1)
	for _, cached := range tc.entries {
		for _, tier := range cached {
			assert.Equal(t, tiers[0].ID, string(tier.ID))
		}
	}
}
