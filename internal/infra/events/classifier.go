package events

import (
	"errors"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// Errores del broker para los que reintentar no cambia nada.
var (
	permanentKafkaErrors = []kafka.Error{
		kafka.MessageSizeTooLarge,
		kafka.InvalidTopic,
		kafka.RecordListTooLarge,
		kafka.TopicAuthorizationFailed,
		kafka.InvalidRecord,
		kafka.UnsupportedForMessageFormat,
	}
	permanentSaramaErrors = []sarama.KError{
		sarama.ErrMessageSizeTooLarge,
		sarama.ErrInvalidTopic,
		sarama.ErrMessageSetSizeTooLarge,
		sarama.ErrTopicAuthorizationFailed,
		sarama.ErrInvalidRecord,
		sarama.ErrUnsupportedForMessageFormat,
	}
)

// PermanentErrors clasifica los errores de kafka-go y sarama.
var PermanentErrors domain.RetryClassifier = domain.RetryClassifierFunc(isPermanent)

func isPermanent(err error) bool {
	if err == nil {
		return false
	}

	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil && isPermanent(e) {
				return true
			}
		}
		return false
	}

	for _, k := range permanentKafkaErrors {
		if errors.Is(err, k) {
			return true
		}
	}
	for _, k := range permanentSaramaErrors {
		if errors.Is(err, k) {
			return true
		}
	}
	// sarama rechaza en local los mensajes que violan su config (p. ej. MaxMessageBytes).
	var cfgErr sarama.ConfigurationError
	return errors.As(err, &cfgErr)
}
