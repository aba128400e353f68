package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User representa un usuario del sistema.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Nombre    string    `json:"nombre"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser valida los datos de entrada y genera el ID.
func NewUser(email, nombre string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidUser, email)
	}
	nombre = strings.TrimSpace(nombre)
	if nombre == "" {
		return nil, fmt.Errorf("%w: nombre is required", ErrInvalidUser)
	}
	return &User{
		ID:        uuid.New(),
		Email:     email,
		Nombre:    nombre,
		CreatedAt: now.UTC(),
	}, nil
}

func (u *User) PartitionKey() string {
	return u.ID.String()
}
