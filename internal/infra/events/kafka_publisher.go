package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// messageWriter es lo que usamos de *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter crea un writer sin topic fijo: cada mensaje lleva el suyo.
// Murmur2 reparte igual que los clientes Java, así una misma resourceId cae
// siempre en la misma partición.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Murmur2Balancer{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher publica de forma síncrona con kafka-go.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

func NewKafkaPublisher(writer messageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg domain.BrokerMessage) error {
	km := kafka.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for _, h := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		p.log.Debug("Error publishing to Kafka", zap.String("topic", msg.Topic), zap.Error(err))
		return err
	}

	p.log.Debug("Event published successfully", zap.String("topic", msg.Topic), zap.ByteString("key", msg.Key))
	return nil
}

// Verificación estática
var _ domain.BrokerPublisher = (*KafkaPublisher)(nil)
