package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/delivery/domain"
)

// Consumer lee de un Source, entrega con el ErrorHandler y hace commit manual.
// Procesa en serie: el orden por partición se conserva.
type Consumer struct {
	name    string
	source  domain.Source
	handler *ErrorHandler
	log     *zap.Logger
}

func NewConsumer(name string, source domain.Source, handler *ErrorHandler, log *zap.Logger) *Consumer {
	return &Consumer{name: name, source: source, handler: handler, log: log}
}

// Run bloquea hasta que ctx se cancela o el Source se cierra.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("🎧 Consumidor iniciado", zap.String("consumer", c.name))
	defer c.log.Info("🛑 Consumidor detenido", zap.String("consumer", c.name))

	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrSourceClosed) {
				return nil
			}
			c.log.Error("Error al leer mensaje", zap.String("consumer", c.name), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.ProcessOne(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// ProcessOne entrega un mensaje y solo hace commit si quedó Acked o DeadLettered.
func (c *Consumer) ProcessOne(ctx context.Context, msg domain.Message) error {
	state, err := c.handler.Deliver(ctx, msg)
	if !state.Committable() {
		c.log.Warn("⏸️ Mensaje sin confirmar, se volverá a entregar",
			zap.String("consumer", c.name),
			zap.Stringer("message", msg),
			zap.Stringer("state", state),
			zap.Error(err),
		)
		return err
	}

	if err := c.source.Commit(ctx, msg); err != nil {
		// Sin commit el mensaje se reentrega; el guard de idempotencia lo absorbe.
		c.log.Error("❌ Error haciendo commit del offset", zap.Stringer("message", msg), zap.Error(err))
		return nil
	}
	c.log.Debug("Offset confirmado", zap.Stringer("message", msg), zap.Stringer("state", state))
	return nil
}
