// Package pubsub carries catalog events from mutations to subscription
// transports. Two implementations share one contract: a NATS-backed bus
// for multi-process deployments and an in-process bus for single-node
// runs and tests.
//
// Delivery guarantee: events for one subscriber arrive in publish order.
// A subscriber that cannot keep up loses events rather than stalling the
// publisher, matching core NATS slow-consumer semantics.
package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/libraria/libraria/store"
)

// subscriberBuffer is the per-subscriber event queue depth. Events beyond
// it are dropped for that subscriber only.
const subscriberBuffer = 64

// Bus publishes and subscribes catalog events.
type Bus interface {
	// PublishBookAdded announces a newly added book.
	PublishBookAdded(ctx context.Context, book store.Book) error

	// SubscribeBookAdded returns a channel of added books. The channel is
	// closed when ctx is cancelled or the bus closes; no events are
	// delivered after close.
	SubscribeBookAdded(ctx context.Context) (<-chan store.Book, error)

	// Close releases the bus. All subscriber channels are closed.
	Close() error
}

// Memory is an in-process Bus.
type Memory struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan store.Book
	closed bool
	logger *slog.Logger
}

// NewMemory creates an in-process bus.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subs:   make(map[int]chan store.Book),
		logger: logger,
	}
}

// PublishBookAdded fans the event out to every live subscriber.
func (m *Memory) PublishBookAdded(_ context.Context, book store.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	for id, ch := range m.subs {
		select {
		case ch <- book:
		default:
			m.logger.Warn("dropping event for slow subscriber",
				"subscriber", id, "book", book.Title)
		}
	}
	return nil
}

// SubscribeBookAdded registers a subscriber detached on ctx cancellation.
func (m *Memory) SubscribeBookAdded(ctx context.Context) (<-chan store.Book, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ch := make(chan store.Book)
		close(ch)
		return ch, nil
	}
	id := m.nextID
	m.nextID++
	ch := make(chan store.Book, subscriberBuffer)
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(id)
	}()
	return ch, nil
}

func (m *Memory) remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

// Close closes every subscriber channel.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

// compile-time interface check
var _ Bus = (*Memory)(nil)
