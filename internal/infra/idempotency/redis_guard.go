package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

const (
	DefaultTTL = 168 * time.Hour
	sentinel   = "1"
)

// RedisGuard implementa el claim con un único SET NX EX: atómico en Redis,
// así que entre N consumidores concurrentes solo uno obtiene true.
type RedisGuard struct {
	client redis.UniversalClient
}

func NewRedisGuard(client redis.UniversalClient) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) TryClaim(ctx context.Context, topic, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := g.client.SetNX(ctx, domain.IdempotencyKey(topic, eventID), sentinel, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrIdempotencyStoreUnavailable, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, topic, eventID string) error {
	if err := g.client.Del(ctx, domain.IdempotencyKey(topic, eventID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIdempotencyStoreUnavailable, err)
	}
	return nil
}

var _ domain.IdempotencyGuard = (*RedisGuard)(nil)
