package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// releaseTimeout acota el Release tras un fallo; corre aunque el ctx del consumidor esté cancelado.
const releaseTimeout = 2 * time.Second

// StorePolicy decide qué hacer si el almacén de idempotencia no responde.
type StorePolicy int

const (
	// FailClosed devuelve el error: el mensaje se reintenta y no se procesa sin claim.
	FailClosed StorePolicy = iota
	// FailOpen procesa igualmente asumiendo el riesgo de duplicado.
	FailOpen
)

type onceHandler struct {
	guard  outboxDomain.IdempotencyGuard
	next   domain.MessageHandler
	ttl    time.Duration
	policy StorePolicy
	log    *zap.Logger
}

// ConsumeOnce envuelve next para que cada eventId se procese una sola vez por topic.
// Si next falla, el claim se libera para que el reintento pueda volver a entrar.
func ConsumeOnce(guard outboxDomain.IdempotencyGuard, next domain.MessageHandler, ttl time.Duration, policy StorePolicy, log *zap.Logger) domain.MessageHandler {
	return &onceHandler{guard: guard, next: next, ttl: ttl, policy: policy, log: log}
}

func (h *onceHandler) Handle(ctx context.Context, msg domain.Message) error {
	eventID, err := EventIDOf(msg)
	if err != nil {
		return domain.Permanent(err)
	}
	fields := []zap.Field{zap.String("topic", msg.Topic), zap.String("event_id", eventID)}

	claimed, err := h.guard.TryClaim(ctx, msg.Topic, eventID, h.ttl)
	if err != nil {
		if h.policy == FailClosed {
			return err
		}
		h.log.Warn("⚠️ Almacén de idempotencia no disponible, procesando sin claim (posible duplicado)",
			append(fields, zap.Error(err))...)
		return h.next.Handle(ctx, msg)
	}
	if !claimed {
		h.log.Info("♻️ Evento duplicado, se ignora", fields...)
		return nil
	}

	if err := h.next.Handle(ctx, msg); err != nil {
		// En shutdown el ctx ya está cancelado: sin claim liberado, la reentrega se daría por duplicada.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := h.guard.Release(relCtx, msg.Topic, eventID); relErr != nil {
			h.log.Warn("⚠️ No se pudo liberar el claim de idempotencia", append(fields, zap.Error(relErr))...)
		}
		return err
	}
	return nil
}

// EventIDOf toma el eventId de la cabecera event_id o, si falta, del cuerpo JSON.
func EventIDOf(msg domain.Message) (string, error) {
	if id, ok := msg.Header(outboxDomain.HeaderEventID); ok && id != "" {
		return id, nil
	}

	var envelope struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrMalformedMessage, msg, err)
	}
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		return "", fmt.Errorf("%w: %s: eventId %q", domain.ErrMalformedMessage, msg, envelope.EventID)
	}
	return envelope.EventID, nil
}
