package events

import (
	"context"
	"sync"
)

// Handler processes one claimed raw event.
//
// Error contract: return an error only for genuinely unexpected faults
// (storage connectivity loss and the like); it aborts the rest of the
// batch and the event is retried next cycle, so handlers must be idempotent.
// Malformed-but-harmless input (unknown fields, bad direction, ordering
// anomalies) is logged inside the handler and reported as success.
type Handler interface {
	Handle(ctx context.Context, evt RawEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt RawEvent) error

func (f HandlerFunc) Handle(ctx context.Context, evt RawEvent) error { return f(ctx, evt) }

// Registry maps event-type strings to handlers. New handlers are pluggable
// at wiring time without touching the processor.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an event type. Re-registering replaces the
// previous handler; last writer wins.
func (r *Registry) Register(eventType string, h Handler) {
	if eventType == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// Lookup resolves the handler for an event type.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// Types returns the registered event types, for startup logging.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
