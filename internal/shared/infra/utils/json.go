package utils

import (
	"encoding/json"
	"fmt"

	deliveryDomain "github.com/davicafu/outboxlab/internal/delivery/domain"
)

// DecodeEvent deserializa el cuerpo de un mensaje. Un cuerpo ilegible no se
// arregla reintentando, así que el error sale ya marcado como permanente.
func DecodeEvent[T any](data []byte) (T, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, deliveryDomain.Permanent(fmt.Errorf("%w: %v", deliveryDomain.ErrMalformedMessage, err))
	}
	return evt, nil
}
