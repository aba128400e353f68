package application

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// BackoffConfig controla los reintentos del consumidor.
// MaxRetries cuenta reintentos tras el primer intento: con 3 hay 4 ejecuciones.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	MaxRetries uint64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Multiplier: 2,
		Max:        10 * time.Second,
		MaxRetries: 3,
	}
}

func (c BackoffConfig) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.Max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ErrorHandler procesa un mensaje con reintentos y, agotados, lo manda a {topic}.DLQ.
type ErrorHandler struct {
	handler domain.MessageHandler
	dlq     outboxDomain.BrokerPublisher
	cfg     BackoffConfig
	log     *zap.Logger
}

func NewErrorHandler(handler domain.MessageHandler, dlq outboxDomain.BrokerPublisher, cfg BackoffConfig, log *zap.Logger) *ErrorHandler {
	def := DefaultBackoffConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	return &ErrorHandler{handler: handler, dlq: dlq, cfg: cfg, log: log}
}

// Deliver devuelve el estado final. Acked y DeadLettered permiten commit;
// cualquier otro estado viene con error (normalmente ctx cancelado) y el
// offset no debe avanzar.
func (h *ErrorHandler) Deliver(ctx context.Context, msg domain.Message) (domain.State, error) {
	fields := []zap.Field{zap.Stringer("message", msg)}
	if id, ok := msg.Header(outboxDomain.HeaderEventID); ok {
		fields = append(fields, zap.String("event_id", id))
	}

	attempt := 0
	op := func() error {
		attempt++
		err := h.handler.Handle(ctx, msg)
		if err != nil && domain.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		h.log.Warn("🔁 Error procesando mensaje, reintento programado",
			append(fields, zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))...)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(h.cfg.exponential(), h.cfg.MaxRetries), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return domain.Acked, nil
	}
	if ctx.Err() != nil {
		return domain.RetryScheduled, ctx.Err()
	}

	h.log.Error("💀 Reintentos agotados, enviando a DLQ",
		append(fields, zap.Int("attempts", attempt), zap.Error(err))...)
	if err := h.deadLetter(ctx, msg, fields); err != nil {
		return domain.Processing, err
	}
	return domain.DeadLettered, nil
}

// deadLetter reintenta la publicación en la DLQ hasta lograrlo o hasta el shutdown.
func (h *ErrorHandler) deadLetter(ctx context.Context, msg domain.Message, fields []zap.Field) error {
	dlqMsg := outboxDomain.BrokerMessage{
		Topic:   outboxDomain.DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: msg.Headers,
	}

	publish := func() error { return h.dlq.Publish(ctx, dlqMsg) }
	notify := func(err error, wait time.Duration) {
		h.log.Error("❌ Fallo publicando en DLQ, se reintenta",
			append(fields, zap.String("dlq", dlqMsg.Topic), zap.Duration("backoff", wait), zap.Error(err))...)
	}

	if err := backoff.RetryNotify(publish, backoff.WithContext(h.cfg.exponential(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Join(errDeadLetterFailed, err)
	}

	h.log.Warn("📮 Mensaje enviado a DLQ", append(fields, zap.String("dlq", dlqMsg.Topic))...)
	return nil
}

var errDeadLetterFailed = errors.New("delivery: dead-letter publish failed")
