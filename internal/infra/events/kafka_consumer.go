package events

import (
	"context"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"

	"github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// fetchCommitter es lo que usamos de *kafka.Reader.
type fetchCommitter interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaReader crea un reader de consumer group con commit síncrono
// (CommitInterval = 0): el offset solo avanza cuando llamamos a Commit.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// KafkaSource adapta un kafka.Reader a domain.Source.
type KafkaSource struct {
	reader fetchCommitter
}

func NewKafkaSource(reader fetchCommitter) *KafkaSource {
	return &KafkaSource{reader: reader}
}

// Fetch no confirma nada: a diferencia de ReadMessage, el offset queda pendiente.
func (s *KafkaSource) Fetch(ctx context.Context) (domain.Message, error) {
	km, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Message{}, domain.ErrSourceClosed
		}
		return domain.Message{}, err
	}

	msg := domain.Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Time:      km.Time,
	}
	for _, h := range km.Headers {
		msg.Headers = append(msg.Headers, outboxDomain.Header{Key: h.Key, Value: h.Value})
	}
	return msg, nil
}

func (s *KafkaSource) Commit(ctx context.Context, msg domain.Message) error {
	return s.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

var _ domain.Source = (*KafkaSource)(nil)
