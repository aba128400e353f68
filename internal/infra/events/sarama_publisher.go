package events

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// NewSaramaConfig es la configuración de fiabilidad del productor alternativo.
// Ojo: el particionado hash de sarama (FNV-1a) no coincide con Murmur2, así que
// no conviene mezclar este driver y kafka-go sobre los mismos topics.
func NewSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Version = sarama.V2_8_0_0

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Productor idempotente: evita duplicados por reintentos internos del cliente.
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// SaramaPublisher publica con un sarama.SyncProducer (espera el ack de todas las réplicas).
type SaramaPublisher struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

func NewSaramaPublisher(brokers []string, clientID string, log *zap.Logger) (*SaramaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewSaramaPublisherWithProducer(producer, log), nil
}

func NewSaramaPublisherWithProducer(producer sarama.SyncProducer, log *zap.Logger) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, log: log}
}

// Publish no puede cancelarse por ctx: SendMessage es bloqueante y se acota con
// los timeouts de red del config.
func (p *SaramaPublisher) Publish(ctx context.Context, msg domain.BrokerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.ByteEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Value),
	}
	for _, h := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}

	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		return err
	}
	p.log.Debug("Event published successfully",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}

var _ domain.BrokerPublisher = (*SaramaPublisher)(nil)
