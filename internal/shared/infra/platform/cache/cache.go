package cache

import (
	"context"
	"time"
)

// Cache es una caché clave-valor que serializa los valores a JSON.
type Cache interface {
	// Get rellena dest (puntero). Devuelve (false, nil) en un miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set guarda el valor; ttl <= 0 usa el TTL por defecto de la implementación.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}
