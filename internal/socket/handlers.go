package socket

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler receives an event. Handlers run on the connection's read loop in
// arrival order and must not block.
type Handler func(Event)

// Subscription removes a handler. Off is idempotent.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Off unregisters the handler.
func (s *Subscription) Off() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Hub is a per-event handler registry. Conn dispatches through one; it is
// exported so other event sources can offer the same contract.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	byEvent map[string][]handlerEntry
	logger  *zap.Logger
}

// NewHub creates an empty hub. logger may be nil.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{byEvent: make(map[string][]handlerEntry), logger: logger}
}

// On registers fn for event.
func (r *Hub) On(event string, fn Handler) *Subscription {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.byEvent[event] = append(r.byEvent[event], handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return &Subscription{remove: func() { r.off(event, id) }}
}

func (r *Hub) off(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byEvent[event]
	for i, e := range entries {
		if e.id == id {
			r.byEvent[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.byEvent[event]) == 0 {
		delete(r.byEvent, event)
	}
}

// Count returns the number of handlers registered for event.
func (r *Hub) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[event])
}

// Dispatch calls every handler for ev in registration order. A panicking
// handler is logged and the remaining handlers still run.
func (r *Hub) Dispatch(ev Event) {
	r.mu.RLock()
	entries := append([]handlerEntry(nil), r.byEvent[ev.Name]...)
	r.mu.RUnlock()

	for _, e := range entries {
		r.call(ev, e.fn)
	}
}

func (r *Hub) call(ev Event, fn Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("socket handler panicked",
				zap.String("event", ev.Name),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	fn(ev)
}
