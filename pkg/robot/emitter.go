// Copyright 2024-2026 Aiku AI

package robot

import "sync"

// Handler receives the payload of a named event.
type Handler func(payload any)

// Emitter dispatches named events to subscribed handlers. Handlers run
// synchronously on the emitting goroutine in subscription order, so events
// emitted from a single source are delivered FIFO.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewEmitter creates an emitter with no subscriptions.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]Handler)}
}

// On subscribes a handler to the named event.
func (e *Emitter) On(name string, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[string][]Handler)
	}
	e.handlers[name] = append(e.handlers[name], h)
}

// Emit delivers payload to every handler subscribed to name and returns the
// number of handlers called.
func (e *Emitter) Emit(name string, payload any) int {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers[name]))
	copy(handlers, e.handlers[name])
	e.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return len(handlers)
}

// ListenerCount returns the number of handlers subscribed to name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[name])
}
