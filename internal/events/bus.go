package events

import (
	"context"
	"sync"

	"contentflow/pkg/logging"
)

// Handler consumes one dispatched event. Handlers run after the state
// change that raised the event has committed; a failing handler is logged
// and never propagates back to the command that raised the event.
type Handler func(ctx context.Context, event Event)

// Bus is a purpose-built in-process dispatcher: an ordered handler list per
// event name with per-handler failure isolation.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logging.Logger
}

// NewBus creates an empty bus
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe appends a handler for the named event. Handlers run in
// subscription order.
func (b *Bus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish dispatches the event to every subscribed handler synchronously.
// Each handler is isolated: a panic is recovered and logged so one failing
// handler cannot block the others or the caller.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.EventName()]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, event, handler)
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logging.Fields{
				"event": event.EventName(),
				"panic": r,
			}).Error("Event handler panicked")
		}
	}()
	handler(ctx, event)
}
