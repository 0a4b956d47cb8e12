package memory

import (
	"context"
	"sync"

	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

// InMemoryEventBus implements EventBus with in-process handlers. Suitable
// for tests and single-process deployments.
type InMemoryEventBus struct {
	subscribers map[string]map[uint64]ports.EventHandler
	nextID      uint64
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[uint64]ports.EventHandler),
	}
}

// Publish delivers an event to all subscribers of a topic. Delivery is
// asynchronous; handler errors are dropped.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	handlers := make([]ports.EventHandler, 0, len(e.subscribers[topic]))
	for _, handler := range e.subscribers[topic] {
		handlers = append(handlers, handler)
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		go func(h ports.EventHandler) {
			_ = h(ctx, event)
		}(handler)
	}

	return nil
}

// Subscribe registers a handler for a topic until ctx is cancelled.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]ports.EventHandler)
	}
	e.subscribers[topic][id] = handler
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Close clears all subscriptions.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string]map[uint64]ports.EventHandler)
	return nil
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers[topic], id)
}
