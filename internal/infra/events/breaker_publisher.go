package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

type BreakerConfig struct {
	// ConsecutiveFailures abre el circuito.
	ConsecutiveFailures uint32
	// OpenTimeout es cuánto queda abierto antes de pasar a half-open.
	OpenTimeout time.Duration
}

// BreakerPublisher envuelve un BrokerPublisher con un circuit breaker.
// Con el circuito abierto devuelve domain.ErrPublishDeferred sin tocar el broker,
// y el dispatcher no gasta reintentos de los registros.
type BreakerPublisher struct {
	next domain.BrokerPublisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next domain.BrokerPublisher, cfg BreakerConfig, classifier domain.RetryClassifier, log *zap.Logger) *BreakerPublisher {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if classifier == nil {
		classifier = domain.RetryClassifierFunc(nil)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-publisher",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// Un rechazo permanente (mensaje demasiado grande...) significa que el broker responde.
		IsSuccessful: func(err error) bool {
			return err == nil || classifier.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("🔌 Circuito del broker abierto", zap.String("from", from.String()))
				return
			}
			log.Info("🔌 Circuito del broker", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &BreakerPublisher{next: next, cb: cb}
}

func (p *BreakerPublisher) Publish(ctx context.Context, msg domain.BrokerMessage) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrPublishDeferred, err)
	}
	return err
}

func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}

var _ domain.BrokerPublisher = (*BreakerPublisher)(nil)
