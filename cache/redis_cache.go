package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/warp/reward-engine/generic"
)

type RedisTierCache struct {
	client *redis.Client
}

func NewRedisTierCache(addr string, password string, db int) *RedisTierCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTierCache{client: client}
}

func (c *RedisTierCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTierCache) Close() error {
	return c.client.Close()
}

func (c *RedisTierCache) Get(ctx context.Context, key string) ([]generic.RewardTier, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	tiers, err := decodeTiers([]byte(val))
	if err != nil {
		return nil, false, err
	}
	return tiers, true, nil
}

func (c *RedisTierCache) Set(ctx context.Context, key string, tiers []generic.RewardTier, ttl time.Duration) error {
	payload, err := encodeTiers(tiers)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisTierCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisTierCache) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Cached tiers are plain JSON. Decimals travel as strings so cashback rates
// come back exact, and a nil MaxCartons stays null, meaning no upper bound.
func encodeTiers(tiers []generic.RewardTier) ([]byte, error) {
	return json.Marshal(tiers)
}

func decodeTiers(payload []byte) ([]generic.RewardTier, error) {
	var tiers []generic.RewardTier
	if err := json.Unmarshal(payload, &tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}
