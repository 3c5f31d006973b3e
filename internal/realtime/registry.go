package realtime

import (
	"log/slog"
	"sync"
)

// registry maps event types to handler sets, plus the wildcard class.
type registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers h under eventType (or Wildcard) and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (r *registry) Subscribe(eventType string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[eventType]
	if !ok {
		set = make(map[int]Handler)
		r.handlers[eventType] = set
	}

	id := r.nextID
	r.nextID++
	set[id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		set, ok := r.handlers[eventType]
		if !ok {
			return
		}
		delete(set, id)
		if len(set) == 0 {
			delete(r.handlers, eventType)
		}
	}
}

// Dispatch delivers msg to type subscribers, then wildcard subscribers.
// Iteration runs over a snapshot taken at dispatch start, so handlers may
// subscribe or unsubscribe reentrantly. A panicking handler never prevents
// delivery to the others.
func (r *registry) Dispatch(msg Message) {
	typed := r.snapshot(msg.Type)
	wild := r.snapshot(Wildcard)

	for _, h := range typed {
		r.call(msg.Type, h, msg)
	}
	for _, h := range wild {
		r.call(Wildcard, h, msg)
	}
}

// snapshot copies the handler set for eventType in registration order.
func (r *registry) snapshot(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.handlers[eventType]
	if !ok {
		return nil
	}

	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	// Insertion order via monotonically assigned IDs.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}

	out := make([]Handler, len(ids))
	for i, id := range ids {
		out[i] = set[id]
	}
	return out
}

func (r *registry) call(eventType string, h Handler, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("subscriber panic suppressed",
				"event_type", eventType,
				"panic", rec,
			)
		}
	}()
	h(msg)
}

// Empty reports whether no handlers are registered at all.
func (r *registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers) == 0
}
