package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"go.uber.org/zap"

	outboxApp "github.com/davicafu/outboxlab/internal/outbox/application"
)

const keyPrefix = "outboxlab:lock:"

// RedisLock garantiza que un job periódico corre en una sola instancia del clúster.
type RedisLock struct {
	rs  *redsync.Redsync
	log *zap.Logger
}

func NewRedisLock(client *redis.Client, log *zap.Logger) *RedisLock {
	pool := goredis.NewPool(client)
	return &RedisLock{rs: redsync.New(pool), log: log}
}

// TryRun intenta el lock una sola vez; si otra instancia lo tiene devuelve (false, nil).
func (l *RedisLock) TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	mutex := l.rs.NewMutex(keyPrefix+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			l.log.Debug("🔒 Lock ocupado por otra instancia", zap.String("lock", name))
			return false, nil
		}
		return false, fmt.Errorf("failed to attempt lock acquisition for %s: %w", name, err)
	}

	defer func() {
		// Con el ctx del job ya cancelado el unlock fallaría; el lock expira solo igualmente.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
			l.log.Warn("⚠️ No se pudo liberar el lock", zap.String("lock", name), zap.Error(err))
		}
	}()

	return true, fn(ctx)
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

var _ outboxApp.SingletonLock = (*RedisLock)(nil)
