package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		nombre  string
		wantErr bool
	}{
		{name: "válido", email: " Ana@Example.com ", nombre: "Ana"},
		{name: "email inválido", email: "no-es-email", nombre: "Ana", wantErr: true},
		{name: "sin nombre", email: "ana@example.com", nombre: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUser(tt.email, tt.nombre, time.Now())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidUser)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ana@example.com", u.Email)
			assert.Equal(t, time.UTC, u.CreatedAt.Location())
		})
	}
}

func TestUserRegisteredEvent_RoundTrip(t *testing.T) {
	u, err := NewUser("ana@example.com", "Ana", time.Now())
	require.NoError(t, err)

	evt := NewUserRegisteredEvent(u)
	assert.Equal(t, UserRegistered, evt.EventType)
	assert.Equal(t, u.ID.String(), evt.ResourceID)

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded UserRegisteredEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	projected, err := decoded.ToUser()
	require.NoError(t, err)
	assert.Equal(t, u.ID, projected.ID)
	assert.Equal(t, "Ana", projected.Nombre)
}
