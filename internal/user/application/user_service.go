package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	sharedCache "github.com/davicafu/outboxlab/internal/shared/infra/platform/cache"
	"github.com/davicafu/outboxlab/internal/user/domain"
)

const (
	cacheTTL       = time.Minute
	readRetries    = 2
	readRetryDelay = 100 * time.Millisecond
)

// UserService define los casos de uso relacionados con User.
type UserService struct {
	repo   domain.UserRepository
	tx     outboxDomain.TransactionRunner
	events domain.EventPublisher
	cache  sharedCache.Cache
	now    func() time.Time
	log    *zap.Logger
}

func NewUserService(
	repo domain.UserRepository,
	tx outboxDomain.TransactionRunner,
	events domain.EventPublisher,
	cache sharedCache.Cache,
	log *zap.Logger,
) *UserService {
	return &UserService{
		repo:   repo,
		tx:     tx,
		events: events,
		cache:  cache,
		now:    time.Now,
		log:    log,
	}
}

// Register guarda el usuario y encola UserRegistered en la misma transacción:
// o se confirman los dos o ninguno.
func (s *UserService) Register(ctx context.Context, email, nombre string) (*domain.User, error) {
	user, err := domain.NewUser(email, nombre, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return err
		}
		return s.events.Publish(txCtx, domain.UserTopic, domain.NewUserRegisteredEvent(user))
	})
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.log.Info("👤 Usuario registrado", zap.String("user_id", user.ID.String()))
	return user, nil
}

// GetUser obtiene un usuario (primero intenta desde cache).
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if s.cache != nil {
		var u domain.User
		if ok, err := s.cache.Get(ctx, domain.CacheKeyByID(id), &u); ok {
			return &u, nil
		} else if err != nil {
			s.log.Debug("Cache read failed", zap.String("user_id", id.String()), zap.Error(err))
		}
	}

	var user *domain.User
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(readRetryDelay), readRetries), ctx)
	err := backoff.Retry(func() error {
		var err error
		user, err = s.repo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrUserNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		return nil, err
	}

	sharedCache.AsyncCacheSet(s.cache, domain.CacheKeyByID(user.ID), user, cacheTTL, s.log)
	return user, nil
}
