package notify

import "sync"

// Hub is a typed event fan-out point. Components own a Hub per event
// kind and external code subscribes explicitly; there is no shared
// notifier base type.
//
// Handlers are invoked in subscription order, outside the Hub's lock.
// Publish does not block on slow subscribers beyond the handler call
// itself; handlers must not assume they run synchronously with the
// event source.
type Hub[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	order   []uint64
	handler map[uint64]func(T)
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		handler: make(map[uint64]func(T)),
	}
}

// Subscribe registers a handler and returns a removal function.
// Calling the removal function more than once is a no-op.
func (h *Hub[T]) Subscribe(fn func(T)) (remove func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.order = append(h.order, id)
	h.handler[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.unsubscribe(id)
		})
	}
}

// Publish delivers an event to all current subscribers in
// subscription order.
func (h *Hub[T]) Publish(ev T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.order))
	for _, id := range h.order {
		if fn, ok := h.handler[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handler)
}

// Clear removes all subscribers.
func (h *Hub[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = nil
	h.handler = make(map[uint64]func(T))
}

func (h *Hub[T]) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.handler, id)
	for i, oid := range h.order {
		if oid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}
