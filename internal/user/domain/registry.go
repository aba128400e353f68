package domain

import (
	"fmt"

	"github.com/google/uuid"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// Las constantes de los tipos de evento se definen aquí, como valores string.
const (
	UserRegistered = "user.registered"
)

const UserTopic = "user"

// UserRegisteredEvent es el evento de integración que viaja por el outbox.
type UserRegisteredEvent struct {
	outboxDomain.BaseEvent
	Email  string `json:"email"`
	Nombre string `json:"nombre"`
}

func NewUserRegisteredEvent(u *User) *UserRegisteredEvent {
	return &UserRegisteredEvent{
		BaseEvent: outboxDomain.NewBaseEvent(UserRegistered, u.PartitionKey()),
		Email:     u.Email,
		Nombre:    u.Nombre,
	}
}

// ToUser reconstruye la proyección del usuario a partir del evento.
func (e *UserRegisteredEvent) ToUser() (*User, error) {
	id, err := uuid.Parse(e.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: resourceId %q", ErrInvalidUser, e.ResourceID)
	}
	return &User{
		ID:        id,
		Email:     e.Email,
		Nombre:    e.Nombre,
		CreatedAt: e.OccurredAt,
	}, nil
}
