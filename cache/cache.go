// Package cache keeps the active tier set of a quarter close to the resolver.
//
// A batch recompute resolves a tier for every active customer, and every
// resolution needs the same handful of tiers. CachedTiers reads them through
// a TierCache (Redis in deployments, Noop otherwise) and drops the entry
// whenever a tier of that quarter is written.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

type TierCache interface {
	Get(ctx context.Context, key string) ([]generic.RewardTier, bool, error)
	Set(ctx context.Context, key string, tiers []generic.RewardTier, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix drops every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

type NoopTierCache struct{}

func (NoopTierCache) Get(_ context.Context, _ string) ([]generic.RewardTier, bool, error) {
	return nil, false, nil
}

func (NoopTierCache) Set(_ context.Context, _ string, _ []generic.RewardTier, _ time.Duration) error {
	return nil
}

func (NoopTierCache) Delete(_ context.Context, _ string) error {
	return nil
}

func (NoopTierCache) DeletePrefix(_ context.Context, _ string) error {
	return nil
}

// TierLoader is the authoritative tier source, normally the store.
type TierLoader interface {
	ActiveTiers(ctx context.Context, quarter, year int) ([]generic.RewardTier, error)
}

// CachedTiers is a read-through cache in front of a TierLoader. Cache
// failures are logged and fall back to the loader.
type CachedTiers struct {
	loader TierLoader
	cache  TierCache
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedTiers(loader TierLoader, cache TierCache, ttl time.Duration, log *zap.Logger) *CachedTiers {
	if cache == nil {
		cache = NoopTierCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedTiers{loader: loader, cache: cache, ttl: ttl, log: log}
}

// KeyPrefix starts every tier cache key.
const KeyPrefix = "rewards:tiers:active:"

// Key is the cache key of a quarter's active tiers.
func Key(quarter, year int) string {
	return fmt.Sprintf("%s%d:q%d", KeyPrefix, year, quarter)
}

func (c *CachedTiers) ActiveTiers(ctx context.Context, quarter, year int) ([]generic.RewardTier, error) {
	key := Key(quarter, year)
	tiers, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("tier cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return tiers, nil
	}

	tiers, err = c.loader.ActiveTiers(ctx, quarter, year)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, tiers, c.ttl); err != nil {
		c.log.Warn("tier cache write failed", zap.String("key", key), zap.Error(err))
	}
	return tiers, nil
}

// Invalidate drops the cached tiers of a quarter.
func (c *CachedTiers) Invalidate(ctx context.Context, quarter, year int) error {
	return c.cache.Delete(ctx, Key(quarter, year))
}

// InvalidateAll drops the cached tiers of every quarter. Used after the
// tier table is cleared outside the engine.
func (c *CachedTiers) InvalidateAll(ctx context.Context) error {
	return c.cache.DeletePrefix(ctx, KeyPrefix)
}
