package events

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	saramaMocks "github.com/IBM/sarama/mocks"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func sampleMessage() domain.BrokerMessage {
	return domain.BrokerMessage{
		Topic: "user",
		Key:   []byte("r-1"),
		Value: []byte(`{"eventId":"e-1"}`),
		Headers: []domain.Header{
			{Key: domain.HeaderEventID, Value: []byte("e-1")},
			{Key: domain.HeaderEventType, Value: []byte("user.registered")},
		},
	}
}

func TestKafkaPublisher_MapsMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), sampleMessage()))
	require.Len(t, w.written, 1)

	km := w.written[0]
	assert.Equal(t, "user", km.Topic)
	assert.Equal(t, []byte("r-1"), km.Key)
	assert.Equal(t, []byte(`{"eventId":"e-1"}`), km.Value)
	assert.Equal(t, []kafka.Header{
		{Key: "event_id", Value: []byte("e-1")},
		{Key: "event_type", Value: []byte("user.registered")},
	}, km.Headers)
}

func TestKafkaPublisher_PropagatesError(t *testing.T) {
	w := &fakeWriter{err: kafka.LeaderNotAvailable}
	err := NewKafkaPublisher(w, zap.NewNop()).Publish(context.Background(), sampleMessage())
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
}

func TestSaramaPublisher_SendsWithHeaders(t *testing.T) {
	producer := saramaMocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
		if pm.Topic != "user" {
			return errors.New("unexpected topic " + pm.Topic)
		}
		if len(pm.Headers) != 2 || string(pm.Headers[0].Key) != domain.HeaderEventID {
			return errors.New("missing event_id header")
		}
		return nil
	})

	p := NewSaramaPublisherWithProducer(producer, zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), sampleMessage()))
	require.NoError(t, p.Close())
}

func TestSaramaPublisher_Failure(t *testing.T) {
	producer := saramaMocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	p := NewSaramaPublisherWithProducer(producer, zap.NewNop())
	err := p.Publish(context.Background(), sampleMessage())
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)
	assert.False(t, PermanentErrors.IsPermanent(err))
	require.NoError(t, p.Close())
}

func TestSaramaPublisher_CancelledContextSkipsSend(t *testing.T) {
	producer := saramaMocks.NewSyncProducer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewSaramaPublisherWithProducer(producer, zap.NewNop())
	assert.ErrorIs(t, p.Publish(ctx, sampleMessage()), context.Canceled)
	require.NoError(t, p.Close())
}

func TestPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"kafka-go size", kafka.MessageSizeTooLarge, true},
		{"kafka-go leader", kafka.LeaderNotAvailable, false},
		{"kafka-go write errors", kafka.WriteErrors{nil, kafka.InvalidTopic}, true},
		{"kafka-go write errors transient", kafka.WriteErrors{kafka.RequestTimedOut}, false},
		{"sarama auth", sarama.ErrTopicAuthorizationFailed, true},
		{"sarama replicas", sarama.ErrNotEnoughReplicas, false},
		{"sarama record list too large", sarama.ErrMessageSetSizeTooLarge, true},
		{"kafka-go record list too large", kafka.RecordListTooLarge, true},
		{"sarama config", sarama.ConfigurationError("message too big"), true},
		{"wrapped", errors.Join(errors.New("ctx"), kafka.InvalidRecord), true},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PermanentErrors.IsPermanent(tt.err))
		})
	}
}
