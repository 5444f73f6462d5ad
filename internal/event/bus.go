package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Bus fans events out to subscribers keyed by Event.Kind.
// Publish is synchronous (handlers run in the caller's goroutine).
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // kind -> handlers
	allSubs  []handlerEntry            // handlers subscribed to all kinds
	nextID   uint64
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	kindHandlers := make([]handlerEntry, len(b.handlers[event.Kind]))
	copy(kindHandlers, b.handlers[event.Kind])
	allHandlers := make([]handlerEntry, len(b.allSubs))
	copy(allHandlers, b.allSubs)
	b.mu.RUnlock()

	for _, h := range kindHandlers {
		b.safeCall(ctx, h.handler, event)
	}
	for _, h := range allHandlers {
		b.safeCall(ctx, h.handler, event)
	}
}

// Subscribe registers a handler for a specific kind. Returns an unsubscribe function.
func (b *Bus) Subscribe(kind string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[kind]
		for i, e := range entries {
			if e.id == id {
				b.handlers[kind] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for all kinds. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.allSubs {
			if e.id == id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", event.Kind),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}

// Pump publishes every event received on ch until ch is closed or ctx is
// done. It is the single consumer of a producer's channel.
func (b *Bus) Pump(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.Publish(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}
