package domain

import (
	"context"
	"time"
)

// ---------- Interfaces (Ports) ----------

// OutboxRepository es el Record Store.
type OutboxRepository interface {
	// Insert debe unirse a la transacción del contexto; sin ella devuelve ErrNoActiveTransaction.
	// Devuelve ErrDuplicateEvent si el eventId ya existe.
	Insert(ctx context.Context, rec *OutboxRecord) error

	// ClaimPending reclama hasta limit registros PENDING sin lease vigente, por createdAt ascendente.
	ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*OutboxRecord, error)

	// SaveDispatchState persiste estado, reintentos, error y timestamps del registro.
	// Solo escribe si el registro sigue PENDING y reclamado por owner; si no, ErrClaimLost.
	SaveDispatchState(ctx context.Context, rec *OutboxRecord, owner string) error

	// DeletePublishedBefore borra registros PUBLISHED con publishedAt < cutoff.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByStatus devuelve el número de registros por estado (todos los estados presentes).
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	GetByEventID(ctx context.Context, eventID string) (*OutboxRecord, error)
}

// TransactionRunner abre una transacción y la deja en el contexto que recibe fn.
// Hace commit si fn devuelve nil y rollback en cualquier otro caso.
type TransactionRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cabeceras que el dispatcher añade a cada mensaje.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// Header es una cabecera de mensaje del broker.
type Header struct {
	Key   string
	Value []byte
}

// BrokerMessage es un mensaje con clave de partición.
type BrokerMessage struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}

// BrokerPublisher publica de forma síncrona: solo devuelve nil tras el ack del broker.
type BrokerPublisher interface {
	Publish(ctx context.Context, msg BrokerMessage) error
}

// IdempotencyGuard es el check-and-set atómico de los consumidores.
type IdempotencyGuard interface {
	// TryClaim devuelve true exactamente una vez por (topic, eventID) dentro del TTL.
	// Si el almacén no responde devuelve ErrIdempotencyStoreUnavailable.
	TryClaim(ctx context.Context, topic, eventID string, ttl time.Duration) (bool, error)
	// Release libera un claim cuyo procesamiento falló.
	Release(ctx context.Context, topic, eventID string) error
}

// IdempotencyKey forma la clave kafka:idempotency:{topic}:{eventId}.
func IdempotencyKey(topic, eventID string) string {
	return "kafka:idempotency:" + topic + ":" + eventID
}

// DeadLetterTopic deriva el destino {topic}.DLQ.
func DeadLetterTopic(topic string) string {
	return topic + ".DLQ"
}
