package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status es el estado de un registro de outbox.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

const DefaultMaxRetry = 3

// ParseStatus valida un estado leído del almacenamiento.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusPublished, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// CanTransitionTo solo permite PENDING -> PUBLISHED y PENDING -> FAILED.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next == StatusPublished || next == StatusFailed
}

// IsTerminal indica que el registro ya no será tocado por el dispatcher.
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// OutboxRecord es una fila por evento de dominio emitido.
type OutboxRecord struct {
	EventID      string     `json:"event_id"`
	EventType    string     `json:"event_type"`
	Topic        string     `json:"topic"`
	PartitionKey string     `json:"partition_key"`
	Payload      []byte     `json:"payload"`
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetry     int        `json:"max_retry"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`

	// Lease del dispatcher que tiene reclamado el registro.
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}

// NewOutboxRecord crea un registro PENDING listo para insertarse.
func NewOutboxRecord(eventID, eventType, topic, partitionKey string, payload []byte, maxRetry int, now time.Time) (*OutboxRecord, error) {
	switch {
	case strings.TrimSpace(eventID) == "":
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	case strings.TrimSpace(eventType) == "":
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	case strings.TrimSpace(topic) == "":
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidEvent)
	case len(payload) == 0:
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidEvent)
	}
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}

	return &OutboxRecord{
		EventID:      eventID,
		EventType:    eventType,
		Topic:        topic,
		PartitionKey: partitionKey,
		Payload:      payload,
		Status:       StatusPending,
		MaxRetry:     maxRetry,
		CreatedAt:    now.UTC(),
	}, nil
}

// MarkPublished aplica PENDING -> PUBLISHED.
func (r *OutboxRecord) MarkPublished(at time.Time) error {
	if err := r.transition(StatusPublished); err != nil {
		return err
	}
	at = at.UTC()
	r.PublishedAt = &at
	r.ErrorMessage = nil
	return nil
}

// RegisterFailure aplica la política de reintentos del dispatcher.
// Mientras quede presupuesto incrementa RetryCount y el registro sigue PENDING;
// el fallo que agota el presupuesto lo pasa a FAILED con RetryCount == MaxRetry.
func (r *OutboxRecord) RegisterFailure(reason string, at time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s cannot register failures", ErrInvalidTransition, r.Status)
	}
	at = at.UTC()
	r.ErrorMessage = &reason
	r.LastRetryAt = &at

	if r.RetryCount+1 >= r.MaxRetry {
		r.RetryCount = r.MaxRetry
		return r.transition(StatusFailed)
	}
	r.RetryCount++
	return nil
}

// MarkFailed pasa el registro a FAILED sin consumir reintentos (error no reintentable).
func (r *OutboxRecord) MarkFailed(reason string, at time.Time) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	at = at.UTC()
	r.ErrorMessage = &reason
	r.LastRetryAt = &at
	return nil
}

// ClaimExpired indica si el lease ya no protege al registro.
func (r *OutboxRecord) ClaimExpired(now time.Time) bool {
	return r.ClaimedUntil == nil || !r.ClaimedUntil.After(now)
}

func (r *OutboxRecord) transition(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}
