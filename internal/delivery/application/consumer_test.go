package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	"github.com/davicafu/outboxlab/internal/infra/idempotency"
	"github.com/davicafu/outboxlab/tests/mocks"
)

// sliceSource entrega una lista fija de mensajes y registra los commits.
type sliceSource struct {
	mu        sync.Mutex
	msgs      []domain.Message
	committed []int64
}

func (s *sliceSource) Fetch(ctx context.Context) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return domain.Message{}, domain.ErrSourceClosed
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func (s *sliceSource) Commit(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, msg.Offset)
	s.mu.Unlock()
	return nil
}

func msgWithOffset(offset int64, eventID string) domain.Message {
	m := testMessage()
	m.Offset = offset
	m.Headers = []outboxDomain.Header{{Key: outboxDomain.HeaderEventID, Value: []byte(eventID)}}
	return m
}

func TestConsumer_CommitsAfterAckAndDeadLetter(t *testing.T) {
	src := &sliceSource{msgs: []domain.Message{
		msgWithOffset(1, uuid.NewString()),
		msgWithOffset(2, uuid.NewString()),
	}}
	dlq := new(mocks.MockBrokerPublisher)
	dlq.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	handler := domain.HandlerFunc(func(_ context.Context, m domain.Message) error {
		if m.Offset == 2 {
			return errors.New("boom")
		}
		return nil
	})

	c := NewConsumer("user", src, NewErrorHandler(handler, dlq, fastBackoff, zap.NewNop()), zap.NewNop())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int64{1, 2}, src.committed)
	dlq.AssertNumberOfCalls(t, "Publish", 1)
}

func TestConsumer_NoCommitWhileDLQUnavailable(t *testing.T) {
	src := &sliceSource{}
	dlq := new(mocks.MockBrokerPublisher)
	dlq.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	handler := domain.HandlerFunc(func(context.Context, domain.Message) error { return errors.New("boom") })

	c := NewConsumer("user", src, NewErrorHandler(handler, dlq, fastBackoff, zap.NewNop()), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	assert.Error(t, c.ProcessOne(ctx, msgWithOffset(7, uuid.NewString())))
	assert.Empty(t, src.committed)
}

func TestConsumer_RedeliveryIsAbsorbedByGuard(t *testing.T) {
	id := uuid.NewString()
	src := &sliceSource{msgs: []domain.Message{msgWithOffset(1, id), msgWithOffset(2, id)}}
	dlq := new(mocks.MockBrokerPublisher)

	var processed int
	handler := ConsumeOnce(idempotency.NewMemoryGuard(), domain.HandlerFunc(func(context.Context, domain.Message) error {
		processed++
		return nil
	}), time.Hour, FailClosed, zap.NewNop())

	c := NewConsumer("user", src, NewErrorHandler(handler, dlq, fastBackoff, zap.NewNop()), zap.NewNop())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 1, processed)
	assert.Equal(t, []int64{1, 2}, src.committed)
}
