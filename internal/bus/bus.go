package bus

import (
	"log/slog"
	"sync"
)

// Bus is an in-process EventPublisher. Handlers run synchronously on the
// broadcasting goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func New() *Bus {
	return &Bus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous one.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Broadcast delivers event to every subscriber. A panicking handler is
// logged and skipped.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make(map[string]EventHandler, len(b.handlers))
	for id, h := range b.handlers {
		handlers[id] = h
	}
	b.mu.RUnlock()

	for id, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "subscriber", id, "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
