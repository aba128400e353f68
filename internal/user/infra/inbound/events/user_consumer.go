package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	deliveryDomain "github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	sharedCache "github.com/davicafu/outboxlab/internal/shared/infra/platform/cache"
	"github.com/davicafu/outboxlab/internal/shared/infra/utils"
	userDomain "github.com/davicafu/outboxlab/internal/user/domain"
)

const projectionTTL = 24 * time.Hour

// UserConsumer proyecta los eventos del topic "user" en la caché de lectura.
// La deduplicación la hace ConsumeOnce por delante; aquí solo se aplica el evento.
type UserConsumer struct {
	cache sharedCache.Cache
	log   *zap.Logger
}

var _ deliveryDomain.MessageHandler = (*UserConsumer)(nil)

func NewUserConsumer(cache sharedCache.Cache, logger *zap.Logger) *UserConsumer {
	return &UserConsumer{cache: cache, log: logger}
}

func (c *UserConsumer) Handle(ctx context.Context, msg deliveryDomain.Message) error {
	eventType, ok := msg.Header(outboxDomain.HeaderEventType)
	if !ok || eventType == "" {
		base, err := utils.DecodeEvent[outboxDomain.BaseEvent](msg.Value)
		if err != nil {
			return err
		}
		eventType = base.EventType
	}

	switch eventType {
	case userDomain.UserRegistered:
		return c.onRegistered(ctx, msg)
	default:
		c.log.Warn("Unknown event type", zap.String("type", eventType), zap.Stringer("message", msg))
		return nil
	}
}

func (c *UserConsumer) onRegistered(ctx context.Context, msg deliveryDomain.Message) error {
	evt, err := utils.DecodeEvent[userDomain.UserRegisteredEvent](msg.Value)
	if err != nil {
		return err
	}
	user, err := evt.ToUser()
	if err != nil {
		return deliveryDomain.Permanent(err)
	}

	if err := c.cache.Set(ctx, userDomain.CacheKeyByID(user.ID), user, projectionTTL); err != nil {
		return fmt.Errorf("project user %s: %w", user.ID, err)
	}

	c.log.Info("User projected via event",
		zap.String("user_id", user.ID.String()),
		zap.String("event_id", evt.EventID),
	)
	return nil
}
