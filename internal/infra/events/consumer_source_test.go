package events

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deliveryDomain "github.com/davicafu/outboxlab/internal/delivery/domain"
	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func TestKafkaSource_FetchAndCommit(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{
		Topic:     "user",
		Partition: 3,
		Offset:    17,
		Key:       []byte("r-1"),
		Value:     []byte(`{}`),
		Headers:   []kafka.Header{{Key: "event_id", Value: []byte("e-1")}},
	}}}
	src := NewKafkaSource(r)

	msg, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, msg.Partition)
	assert.Equal(t, int64(17), msg.Offset)
	id, ok := msg.Header(domain.HeaderEventID)
	assert.True(t, ok)
	assert.Equal(t, "e-1", id)

	require.NoError(t, src.Commit(context.Background(), msg))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(17), r.committed[0].Offset)
	assert.Equal(t, 3, r.committed[0].Partition)

	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, deliveryDomain.ErrSourceClosed)
}

func TestInMemoryBus_FanOutAndCommit(t *testing.T) {
	bus := NewInMemoryBus()
	a := bus.Subscribe("user", 4)
	b := bus.Subscribe("user", 4)
	other := bus.Subscribe("task", 4)

	require.NoError(t, bus.Publish(context.Background(), sampleMessage()))
	require.NoError(t, bus.Publish(context.Background(), sampleMessage()))

	for _, src := range []*InMemorySource{a, b} {
		m1, err := src.Fetch(context.Background())
		require.NoError(t, err)
		m2, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(0), m1.Offset)
		assert.Equal(t, int64(1), m2.Offset)
		id, _ := m1.Header(domain.HeaderEventID)
		assert.Equal(t, "e-1", id)
	}

	require.NoError(t, a.Commit(context.Background(), deliveryDomain.Message{Offset: 1}))
	assert.Equal(t, int64(1), a.Committed())
	assert.Equal(t, int64(-1), b.Committed())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := other.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryBus_FullBufferBlocksUntilContextDone(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Subscribe("user", 1)
	require.NoError(t, bus.Publish(context.Background(), sampleMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, sampleMessage()), context.DeadlineExceeded)
}

func TestInMemoryBus_Close(t *testing.T) {
	bus := NewInMemoryBus()
	src := bus.Subscribe("user", 1)
	require.NoError(t, bus.Publish(context.Background(), sampleMessage()))
	bus.Close()
	bus.Close()

	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, deliveryDomain.ErrSourceClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), sampleMessage()), deliveryDomain.ErrSourceClosed)
}
