package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	userDomain "github.com/davicafu/outboxlab/internal/user/domain"
)

// InMemoryUserRepo simula UserRepository.
type InMemoryUserRepo struct {
	Users map[uuid.UUID]*userDomain.User
	mu    sync.Mutex
}

var _ userDomain.UserRepository = (*InMemoryUserRepo)(nil)

func NewInMemoryUserRepo() *InMemoryUserRepo {
	return &InMemoryUserRepo{Users: make(map[uuid.UUID]*userDomain.User)}
}

func (r *InMemoryUserRepo) Create(ctx context.Context, u *userDomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Users[u.ID]; ok {
		return userDomain.ErrUserAlreadyExists
	}
	for _, existing := range r.Users {
		if existing.Email == u.Email {
			return userDomain.ErrUserAlreadyExists
		}
	}
	r.Users[u.ID] = u
	return nil
}

func (r *InMemoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*userDomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[id]
	if !ok {
		return nil, userDomain.ErrUserNotFound
	}
	return u, nil
}

// DummyPublisher guarda los eventos encolados; Err simula un fallo del outbox.
type DummyPublisher struct {
	mu     sync.Mutex
	Events []outboxDomain.Event
	Topics []string
	Err    error
}

func (p *DummyPublisher) Publish(ctx context.Context, topic string, evt outboxDomain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Topics = append(p.Topics, topic)
	p.Events = append(p.Events, evt)
	return nil
}

// InlineTxRunner ejecuta fn sin base de datos y cuenta commits y rollbacks.
type InlineTxRunner struct {
	Commits   int
	Rollbacks int
}

var _ outboxDomain.TransactionRunner = (*InlineTxRunner)(nil)

func (r *InlineTxRunner) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		r.Rollbacks++
		return err
	}
	r.Commits++
	return nil
}
