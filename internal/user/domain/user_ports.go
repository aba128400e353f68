package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// ---------- Errores de dominio ----------
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrInvalidUser       = errors.New("invalid user")
)

// ---------- Interfaces (Ports) ----------

// UserRepository se une a la transacción del contexto cuando la hay.
type UserRepository interface {
	// Debe devolver ErrUserAlreadyExists si el ID o el email ya existen.
	Create(ctx context.Context, u *User) error

	// Debe devolver ErrUserNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// EventPublisher es el lado de escritura del outbox visto desde este módulo.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, evt outboxDomain.Event) error
}

// CacheKeyByID forma una key consistente para cache usando ID.
func CacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("user:id:%s", id.String())
}
