// Package bus implements the in-process publish/subscribe and request/response
// dispatcher that connects the control-core components.
//
// The bus is the only coupling mechanism between components: no component holds
// a direct reference to another, with the single exception of the navigator's
// read-only handle to the pose-estimate provider.
//
// Publish delivers synchronously to every currently-subscribed handler in
// subscription order, on the caller's goroutine. Handlers must therefore be
// short; anything slow belongs in the subscriber's own loop.
package bus

import (
	"fmt"
	"sync"
)

// Handler consumes a published payload.
type Handler func(payload interface{})

// RequestHandler answers a request/response-style query.
type RequestHandler func(payload interface{}) (interface{}, error)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process topic dispatcher. The zero value is not usable; call New.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	subs     map[string][]subscription
	handlers map[string]RequestHandler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[string][]subscription),
		handlers: make(map[string]RequestHandler),
	}
}

// Subscribe registers a handler for topic and returns an unsubscribe function.
// Handlers for a topic are invoked in subscription order.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers payload to every subscriber of topic, synchronously and in
// subscription order. Publishing with no subscribers is a no-op.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	list := b.subs[topic]
	// Copy so handlers that subscribe/unsubscribe do not mutate the slice
	// we are iterating.
	handlers := make([]Handler, len(list))
	for i, s := range list {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// RegisterRequestHandler installs the single responder for topic. Registering
// a second responder for the same topic is an error.
func (b *Bus) RegisterRequestHandler(topic string, h RequestHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[topic]; ok {
		return fmt.Errorf("request handler already registered for %q", topic)
	}
	b.handlers[topic] = h
	return nil
}

// Request invokes the responder registered for topic. It fails if no responder
// is registered.
func (b *Bus) Request(topic string, payload interface{}) (interface{}, error) {
	b.mu.RLock()
	h, ok := b.handlers[topic]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no request handler for %q", topic)
	}
	return h(payload)
}
