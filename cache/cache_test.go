package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/generic"
)

type countingLoader struct {
	tiers []generic.RewardTier
	calls int
}

func (l *countingLoader) ActiveTiers(_ context.Context, _, _ int) ([]generic.RewardTier, error) {
	l.calls++
	return l.tiers, nil
}

type mapCache struct {
	entries map[string][]generic.RewardTier
	failGet bool
}

func (m *mapCache) Get(_ context.Context, key string) ([]generic.RewardTier, bool, error) {
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, tiers []generic.RewardTier, _ time.Duration) error {
	m.entries[key] = tiers
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func (m *mapCache) DeletePrefix(_ context.Context, prefix string) error {
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func goldTier() generic.RewardTier {
	return generic.RewardTier{
		ID: "t-1", Name: "Gold", Quarter: 1, Year: 2025, MinCartons: 100,
		CashbackPerCarton: generic.MustParseDecimal("1.25"), IsActive: true,
	}
}

func TestCachedTiers_ReadThroughAndInvalidate(t *testing.T) {
	loader := &countingLoader{tiers: []generic.RewardTier{goldTier()}}
	c := NewCachedTiers(loader, &mapCache{entries: map[string][]generic.RewardTier{}}, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tiers, err := c.ActiveTiers(ctx, 1, 2025)
		require.NoError(t, err)
		require.Len(t, tiers, 1)
	}
	assert.Equal(t, 1, loader.calls)

	require.NoError(t, c.Invalidate(ctx, 1, 2025))
	_, err := c.ActiveTiers(ctx, 1, 2025)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)

	// Other quarters are keyed separately
	_, err = c.ActiveTiers(ctx, 2, 2025)
	require.NoError(t, err)
	assert.Equal(t, 3, loader.calls)
}

func TestCachedTiers_InvalidateAllDropsEveryQuarter(t *testing.T) {
	loader := &countingLoader{tiers: []generic.RewardTier{goldTier()}}
	mc := &mapCache{entries: map[string][]generic.RewardTier{"session:abc": nil}}
	c := NewCachedTiers(loader, mc, time.Minute, nil)
	ctx := context.Background()

	// GIVEN: Two quarters cached
	_, err := c.ActiveTiers(ctx, 1, 2025)
	require.NoError(t, err)
	_, err = c.ActiveTiers(ctx, 4, 2024)
	require.NoError(t, err)
	require.Equal(t, 2, loader.calls)

	// WHEN: The tier table was cleared outside the engine
	require.NoError(t, c.InvalidateAll(ctx))

	// THEN: Both quarters reload, unrelated keys survive
	assert.NotContains(t, mc.entries, Key(1, 2025))
	assert.NotContains(t, mc.entries, Key(4, 2024))
	assert.Contains(t, mc.entries, "session:abc")

	_, err = c.ActiveTiers(ctx, 1, 2025)
	require.NoError(t, err)
	_, err = c.ActiveTiers(ctx, 4, 2024)
	require.NoError(t, err)
	assert.Equal(t, 4, loader.calls)
}

func TestCachedTiers_FallsBackWhenCacheFails(t *testing.T) {
	loader := &countingLoader{tiers: []generic.RewardTier{goldTier()}}
	c := NewCachedTiers(loader, &mapCache{entries: map[string][]generic.RewardTier{}, failGet: true}, time.Minute, nil)

	tiers, err := c.ActiveTiers(context.Background(), 1, 2025)
	require.NoError(t, err)
	assert.Len(t, tiers, 1)
}

func TestCachedTiers_NoopAlwaysLoads(t *testing.T) {
	loader := &countingLoader{}
	c := NewCachedTiers(loader, nil, time.Minute, nil)
	_, _ = c.ActiveTiers(context.Background(), 1, 2025)
	_, _ = c.ActiveTiers(context.Background(), 1, 2025)
	assert.Equal(t, 2, loader.calls)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "rewards:tiers:active:2025:q3", Key(3, 2025))
}

func TestTierEncoding_KeepsOpenEndedTiersAndExactRates(t *testing.T) {
	top := int64(499)
	bounded := goldTier()
	bounded.ID, bounded.MinCartons, bounded.MaxCartons = "t-0", 100, &top
	bounded.CashbackPerCarton = generic.MustParseDecimal("0.3333")
	open := goldTier()
	open.MinCartons = 500

	payload, err := encodeTiers([]generic.RewardTier{bounded, open})
	require.NoError(t, err)

	got, err := decodeTiers(payload)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].MaxCartons)
	assert.Equal(t, int64(499), *got[0].MaxCartons)
	assert.Equal(t, "0.3333", got[0].CashbackPerCarton.String())

	// A null bound must not come back as zero, which would match nothing
	assert.Nil(t, got[1].MaxCartons)
	assert.True(t, got[1].Matches(1_000_000))
	assert.True(t, got[1].CashbackPerCarton.Equal(generic.MustParseDecimal("1.25")))
}

func TestTierEncoding_RejectsGarbage(t *testing.T) {
	_, err := decodeTiers([]byte("not json"))
	assert.Error(t, err)
}

func TestRedisTierCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REWARDS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set REWARDS_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	rc := NewRedisTierCache(addr, "", 0)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(ctx))

	key := Key(1, 1999)
	t.Cleanup(func() { _ = rc.Delete(ctx, key) })

	require.NoError(t, rc.Set(ctx, key, []generic.RewardTier{goldTier()}, time.Minute))
	got, ok, err := rc.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.True(t, got[0].CashbackPerCarton.Equal(generic.MustParseDecimal("1.25")))

	require.NoError(t, rc.Delete(ctx, key))
	_, ok, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Prefix flush
	other := Key(2, 1999)
	t.Cleanup(func() { _ = rc.Delete(ctx, other) })
	require.NoError(t, rc.Set(ctx, key, []generic.RewardTier{goldTier()}, time.Minute))
	require.NoError(t, rc.Set(ctx, other, []generic.RewardTier{goldTier()}, time.Minute))
	require.NoError(t, rc.DeletePrefix(ctx, KeyPrefix))
	for _, k := range []string{key, other} {
		_, ok, err = rc.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}
