package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// MockOutboxRepository simula el Record Store.
type MockOutboxRepository struct {
	mock.Mock
}

var _ domain.OutboxRepository = (*MockOutboxRepository)(nil)

func (m *MockOutboxRepository) Insert(ctx context.Context, rec *domain.OutboxRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*domain.OutboxRecord, error) {
	args := m.Called(ctx, owner, limit, lease, now)
	recs, _ := args.Get(0).([]*domain.OutboxRecord)
	return recs, args.Error(1)
}

func (m *MockOutboxRepository) SaveDispatchState(ctx context.Context, rec *domain.OutboxRecord, owner string) error {
	args := m.Called(ctx, rec, owner)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[domain.Status]int64)
	return counts, args.Error(1)
}

func (m *MockOutboxRepository) GetByEventID(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	args := m.Called(ctx, eventID)
	rec, _ := args.Get(0).(*domain.OutboxRecord)
	return rec, args.Error(1)
}

// MockBrokerPublisher simula el productor del broker.
type MockBrokerPublisher struct {
	mock.Mock
}

var _ domain.BrokerPublisher = (*MockBrokerPublisher)(nil)

func (m *MockBrokerPublisher) Publish(ctx context.Context, msg domain.BrokerMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockIdempotencyGuard simula el guard de idempotencia.
type MockIdempotencyGuard struct {
	mock.Mock
}

var _ domain.IdempotencyGuard = (*MockIdempotencyGuard)(nil)

func (m *MockIdempotencyGuard) TryClaim(ctx context.Context, topic, eventID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, topic, eventID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyGuard) Release(ctx context.Context, topic, eventID string) error {
	args := m.Called(ctx, topic, eventID)
	return args.Error(0)
}
