package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultEventVersion = "1.0"

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// BaseEvent son los campos comunes del formato de cable.
// Los eventos concretos lo embeben para que el JSON resultante sea plano:
//
//	type UserRegistered struct {
//		domain.BaseEvent
//		Email string `json:"email"`
//	}
type BaseEvent struct {
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	EventVersion string    `json:"eventVersion"`
	ResourceID   string    `json:"resourceId"`
	OccurredAt   time.Time `json:"occurredAt"`
	UserID       string    `json:"userId,omitempty"`
	Metadata     string    `json:"metadata,omitempty"`
}

// Event es lo que acepta el Publisher.
type Event interface {
	Base() *BaseEvent
}

func (b *BaseEvent) Base() *BaseEvent {
	return b
}

// NewBaseEvent genera un envelope con un eventId nuevo.
func NewBaseEvent(eventType, resourceID string) BaseEvent {
	return BaseEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: DefaultEventVersion,
		ResourceID:   resourceID,
		OccurredAt:   time.Now().UTC(),
	}
}

// Normalize completa los valores por defecto y valida los campos obligatorios.
func (b *BaseEvent) Normalize(now time.Time) error {
	if _, err := uuid.Parse(b.EventID); err != nil {
		return fmt.Errorf("%w: eventId %q is not a UUID", ErrInvalidEvent, b.EventID)
	}
	b.EventType = strings.TrimSpace(b.EventType)
	if b.EventType == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalidEvent)
	}
	b.ResourceID = strings.TrimSpace(b.ResourceID)
	if b.ResourceID == "" {
		return fmt.Errorf("%w: resourceId is required", ErrInvalidEvent)
	}
	if b.EventVersion == "" {
		b.EventVersion = DefaultEventVersion
	}
	if !versionPattern.MatchString(b.EventVersion) {
		return fmt.Errorf("%w: eventVersion %q must be major.minor", ErrInvalidEvent, b.EventVersion)
	}
	if b.OccurredAt.IsZero() {
		b.OccurredAt = now
	}
	b.OccurredAt = b.OccurredAt.UTC()
	return nil
}
