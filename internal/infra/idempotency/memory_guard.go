package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// MemoryGuard es el guard para ejecución local sin Redis (bus en memoria, tests).
// Solo deduplica dentro del proceso.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{entries: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) TryClaim(_ context.Context, topic, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := domain.IdempotencyKey(topic, eventID)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if exp, ok := g.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.entries[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, topic, eventID string) error {
	g.mu.Lock()
	delete(g.entries, domain.IdempotencyKey(topic, eventID))
	g.mu.Unlock()
	return nil
}

// Purge elimina las marcas expiradas.
func (g *MemoryGuard) Purge() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for k, exp := range g.entries {
		if !now.Before(exp) {
			delete(g.entries, k)
			n++
		}
	}
	return n
}

var _ domain.IdempotencyGuard = (*MemoryGuard)(nil)
