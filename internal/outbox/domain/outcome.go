package domain

// PublishOutcome es el resultado de un intento de publicación del dispatcher.
type PublishOutcome int

const (
	// Published: el broker confirmó el mensaje.
	Published PublishOutcome = iota
	// RetryableFailure: fallo transitorio, consume un reintento.
	RetryableFailure
	// PermanentFailure: el broker rechazó el mensaje y reintentar no sirve.
	PermanentFailure
	// Deferred: no se llegó a intentar (circuito abierto); el registro no cambia.
	Deferred
)

func (o PublishOutcome) String() string {
	switch o {
	case Published:
		return "published"
	case RetryableFailure:
		return "retryable_failure"
	case PermanentFailure:
		return "permanent_failure"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// PublishResult acompaña el outcome con la causa del fallo.
type PublishResult struct {
	Outcome PublishOutcome
	Err     error
}

// RetryClassifier decide qué errores del broker no merecen reintento.
type RetryClassifier interface {
	IsPermanent(err error) bool
}

// RetryClassifierFunc adapta una función a RetryClassifier.
type RetryClassifierFunc func(err error) bool

func (fn RetryClassifierFunc) IsPermanent(err error) bool {
	if fn == nil {
		return false
	}
	return fn(err)
}
