package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// Publisher escribe eventos en el outbox dentro de la transacción del llamador.
// No hace I/O de red: el envío al broker es cosa del Dispatcher.
type Publisher struct {
	repo     domain.OutboxRepository
	maxRetry int
	now      func() time.Time
	log      *zap.Logger
}

func NewPublisher(repo domain.OutboxRepository, maxRetry int, log *zap.Logger) *Publisher {
	return &Publisher{
		repo:     repo,
		maxRetry: maxRetry,
		now:      time.Now,
		log:      log,
	}
}

// Publish serializa el evento y lo inserta como PENDING con partitionKey = resourceId.
// Cualquier error debe abortar la transacción del llamador.
func (p *Publisher) Publish(ctx context.Context, topic string, evt domain.Event) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("%w: topic is required", domain.ErrInvalidEvent)
	}
	if evt == nil || evt.Base() == nil {
		return fmt.Errorf("%w: nil event", domain.ErrInvalidEvent)
	}

	base := evt.Base()
	if err := base.Normalize(p.now().UTC()); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrSerialization, base.EventID, err)
	}

	rec, err := domain.NewOutboxRecord(base.EventID, base.EventType, topic, base.ResourceID, payload, p.maxRetry, p.now())
	if err != nil {
		return err
	}

	if err := p.repo.Insert(ctx, rec); err != nil {
		return err
	}

	p.log.Debug("📝 Evento encolado en outbox",
		zap.String("event_id", rec.EventID),
		zap.String("event_type", rec.EventType),
		zap.String("topic", topic),
	)
	return nil
}

// PublishBatch encola varios eventos en la misma transacción; el primer error aborta.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, events []domain.Event) error {
	for i, evt := range events {
		if err := p.Publish(ctx, topic, evt); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}
