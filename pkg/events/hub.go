// Package events provides a small named-event registry with one handler per name.
package events

import "sync"

// Handler receives the payload of an emitted event
type Handler func(payload any)

// Hub maps event names to at most one handler. Registering a second handler
// under the same name replaces the first.
type Hub struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{handlers: make(map[string]Handler)}
}

// On registers handler under name, replacing any previous handler
func (h *Hub) On(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.handlers == nil {
		h.handlers = make(map[string]Handler)
	}
	h.handlers[name] = handler
}

// Emit invokes the handler registered under name with payload.
// It is a no-op when nothing is registered. The handler runs synchronously
// on the caller's goroutine, outside the hub lock, so it may re-register itself.
func (h *Hub) Emit(name string, payload any) {
	h.mu.RLock()
	handler, ok := h.handlers[name]
	h.mu.RUnlock()

	if !ok || handler == nil {
		return
	}
	handler(payload)
}

// Off removes the handler registered under name
func (h *Hub) Off(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, name)
}

// Clear removes every handler
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = make(map[string]Handler)
}

// Has reports whether a handler is registered under name
func (h *Hub) Has(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.handlers[name]
	return ok
}
