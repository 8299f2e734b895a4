package realtime

import (
	"log"
	"sync"
)

// Handler consumes one routed event. Handlers run on the caller's goroutine
// in registration order; a panic in one handler is recovered and logged so
// the remaining handlers still run.
type Handler func(Event)

type registration struct {
	h Handler
}

// Router dispatches parsed control-channel events to typed and wildcard
// subscribers. It is safe for concurrent registration and routing.
type Router struct {
	mu       sync.RWMutex
	typed    map[EventType][]*registration
	wildcard []*registration
	debug    bool
	logf     func(format string, args ...any)
}

type RouterOption func(*Router)

// WithDebug logs every event reaching the router before it is
// dispatched, including events with no subscriber.
func WithDebug(enabled bool) RouterOption {
	return func(r *Router) { r.debug = enabled }
}

// WithLogf overrides the router's log sink (tests, custom prefixes).
func WithLogf(logf func(format string, args ...any)) RouterOption {
	return func(r *Router) {
		if logf != nil {
			r.logf = logf
		}
	}
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		typed: make(map[EventType][]*registration),
		logf:  log.Printf,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On subscribes h to one event type and returns its removal func. Removal
// is idempotent.
func (r *Router) On(t EventType, h Handler) func() {
	if h == nil {
		return func() {}
	}
	reg := &registration{h: h}
	r.mu.Lock()
	r.typed[t] = append(r.typed[t], reg)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.typed[t] = remove(r.typed[t], reg)
			r.mu.Unlock()
		})
	}
}

// OnAny subscribes h to every event. Wildcard handlers run after the typed
// handlers for each event.
func (r *Router) OnAny(h Handler) func() {
	if h == nil {
		return func() {}
	}
	reg := &registration{h: h}
	r.mu.Lock()
	r.wildcard = append(r.wildcard, reg)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.wildcard = remove(r.wildcard, reg)
			r.mu.Unlock()
		})
	}
}

// Route dispatches ev to its subscribers. Routing an event nobody
// listens to is a no-op.
func (r *Router) Route(ev Event) {
	if ev == nil {
		return
	}
	r.mu.RLock()
	typed := append([]*registration(nil), r.typed[ev.Kind()]...)
	wildcard := append([]*registration(nil), r.wildcard...)
	debug := r.debug
	r.mu.RUnlock()

	if debug {
		r.logf("[realtime] route %q to %d handlers", ev.Kind(), len(typed)+len(wildcard))
	}
	for _, reg := range typed {
		r.invoke(reg, ev)
	}
	for _, reg := range wildcard {
		r.invoke(reg, ev)
	}
}

func (r *Router) invoke(reg *registration, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logf("[realtime] handler panic on %q: %v", ev.Kind(), rec)
		}
	}()
	reg.h(ev)
}

func remove(regs []*registration, target *registration) []*registration {
	for i, reg := range regs {
		if reg == target {
			return append(regs[:i:i], regs[i+1:]...)
		}
	}
	return regs
}
