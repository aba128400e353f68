package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// Message es un mensaje recibido del broker, tal cual llegó.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []outboxDomain.Header
	Time      time.Time
}

// Header devuelve el valor de la primera cabecera con esa clave.
func (m Message) Header(key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%d]@%d", m.Topic, m.Partition, m.Offset)
}

// State es el ciclo de vida de una entrega en el consumidor.
type State int

const (
	Delivered State = iota
	Processing
	Acked
	RetryScheduled
	DeadLettered
)

func (s State) String() string {
	switch s {
	case Delivered:
		return "DELIVERED"
	case Processing:
		return "PROCESSING"
	case Acked:
		return "ACKED"
	case RetryScheduled:
		return "RETRY_SCHEDULED"
	case DeadLettered:
		return "DEAD_LETTERED"
	}
	return "UNKNOWN"
}

// Committable: solo tras Acked o DeadLettered se puede avanzar el offset.
func (s State) Committable() bool {
	return s == Acked || s == DeadLettered
}

// MessageHandler procesa un mensaje; un error provoca reintento con backoff.
type MessageHandler interface {
	Handle(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Source entrega mensajes y confirma offsets manualmente.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
}

// ---------- Errores ----------

var (
	// ErrMalformedMessage: el mensaje no se puede interpretar; reintentar no sirve.
	ErrMalformedMessage = errors.New("delivery: malformed message")
	// ErrSourceClosed lo devuelve un Source que ya no entregará más mensajes.
	ErrSourceClosed = errors.New("delivery: source closed")
)

// permanentError marca un fallo que debe ir directo a la DLQ.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent envuelve err para saltarse los reintentos.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
