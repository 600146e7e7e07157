package events

import (
	"context"
	"sync"
)

// EventHandler consumes a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher fans account events out to subscribed handlers.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// bus is the synchronous in-process dispatcher. Publication happens on the
// caller's goroutine; handlers are expected to be fast or hand off.
type bus struct {
	mu   sync.RWMutex
	subs map[EventType][]EventHandler
}

// NewInMemoryDispatcher returns a synchronous in-process Dispatcher.
func NewInMemoryDispatcher() Dispatcher {
	return &bus{subs: make(map[EventType][]EventHandler)}
}

// Publish invokes every handler subscribed to the event's type. A failing
// handler does not stop the remaining ones, and Publish itself never
// reports handler errors back to the publisher.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.subs[event.Type]))
	copy(handlers, b.subs[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		_ = handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (b *bus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], handler)
}
