package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	sharedCache "github.com/davicafu/outboxlab/internal/shared/infra/platform/cache"
)

// RedisUserCache guarda la proyección de usuarios en Redis.
type RedisUserCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ sharedCache.Cache = (*RedisUserCache)(nil)

func NewRedisUserCache(client redis.UniversalClient, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{client: client, ttl: ttl}
}

func (c *RedisUserCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisUserCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisUserCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
