package domain

import "errors"

// ---------- Errores de integridad transaccional ----------
// Se devuelven al llamador y deben abortar su transacción.
var (
	ErrNoActiveTransaction = errors.New("outbox: no active transaction in context")
	ErrSerialization       = errors.New("outbox: event serialization failed")
	ErrInvalidEvent        = errors.New("outbox: invalid event")
	ErrDuplicateEvent      = errors.New("outbox: event id already exists")
)

// ---------- Errores del ciclo de vida del registro ----------
var (
	ErrInvalidStatus     = errors.New("outbox: invalid status")
	ErrInvalidTransition = errors.New("outbox: invalid status transition")
	ErrRecordNotFound    = errors.New("outbox: record not found")
	// ErrClaimLost indica que otra instancia reclamó el registro o que el lease expiró.
	ErrClaimLost = errors.New("outbox: record claim lost")
)

// ErrPublishDeferred lo devuelve un publisher que ni siquiera intentó el envío
// (por ejemplo con el circuito abierto). El registro no consume reintento.
var ErrPublishDeferred = errors.New("outbox: publish deferred")

// ErrIdempotencyStoreUnavailable no es lo mismo que un evento duplicado:
// el llamador decide si procesa igualmente (fail-open) o no (fail-closed).
var ErrIdempotencyStoreUnavailable = errors.New("idempotency: store unavailable")
