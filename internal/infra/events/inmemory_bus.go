package events

import (
	"context"
	"sync"
	"time"

	"github.com/davicafu/outboxlab/internal/delivery/domain"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

// InMemoryBus es el broker para despliegue local: publish síncrono hacia los
// suscriptores de cada topic. Sin persistencia: lo no consumido se pierde al parar.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*InMemorySource
	offsets     map[string]int64
	closed      bool
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ outboxDomain.BrokerPublisher = (*InMemoryBus)(nil)

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string][]*InMemorySource),
		offsets:     make(map[string]int64),
	}
}

// Publish entrega a todos los suscriptores del topic. Bloquea si algún buffer
// está lleno (no descarta) hasta que ctx venza.
func (b *InMemoryBus) Publish(ctx context.Context, msg outboxDomain.BrokerMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrSourceClosed
	}
	offset := b.offsets[msg.Topic]
	b.offsets[msg.Topic] = offset + 1
	subs := append([]*InMemorySource(nil), b.subscribers[msg.Topic]...)
	b.mu.Unlock()

	delivered := domain.Message{
		Topic:   msg.Topic,
		Offset:  offset,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: msg.Headers,
		Time:    time.Now().UTC(),
	}
	for _, sub := range subs {
		select {
		case sub.ch <- delivered:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe suscribe un nuevo oyente al topic.
func (b *InMemoryBus) Subscribe(topic string, bufferSize int) *InMemorySource {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := &InMemorySource{ch: make(chan domain.Message, bufferSize), committed: -1}
	b.subscribers[topic] = append(b.subscribers[topic], src)
	return src
}

// Close cierra todos los suscriptores; Fetch devuelve ErrSourceClosed tras vaciar el buffer.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, s := range subs {
			close(s.ch)
		}
	}
}

// InMemorySource es la suscripción de un consumidor al bus.
type InMemorySource struct {
	ch        chan domain.Message
	mu        sync.Mutex
	committed int64
}

func (s *InMemorySource) Fetch(ctx context.Context) (domain.Message, error) {
	select {
	case m, ok := <-s.ch:
		if !ok {
			return domain.Message{}, domain.ErrSourceClosed
		}
		return m, nil
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

func (s *InMemorySource) Commit(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	if msg.Offset > s.committed {
		s.committed = msg.Offset
	}
	s.mu.Unlock()
	return nil
}

// Committed devuelve el último offset confirmado (-1 si ninguno).
func (s *InMemorySource) Committed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

var _ domain.Source = (*InMemorySource)(nil)
