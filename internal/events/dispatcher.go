package events

import (
	"sync"
	"sync/atomic"
)

// Handler receives dispatched events. Handlers run on the emitting
// goroutine and may be called concurrently from multiple workers.
type Handler func(Event)

// Filter restricts which events a subscription receives. A nil or empty
// filter receives everything.
type Filter map[Kind]bool

// Matches reports whether the filter admits the given kind.
func (f Filter) Matches(k Kind) bool {
	if len(f) == 0 {
		return true
	}
	return f[k]
}

type subscription struct {
	id      uint64
	handler Handler
	filter  Filter
}

// Dispatcher fans events out to subscribers. Safe for concurrent Emit and
// Subscribe/Unsubscribe.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID atomic.Uint64
	subs   []subscription
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (d *Dispatcher) Subscribe(handler Handler, filter Filter) func() {
	id := d.nextID.Add(1)
	d.mu.Lock()
	d.subs = append(d.subs, subscription{id: id, handler: handler, filter: filter})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, sub := range d.subs {
			if sub.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every matching subscriber.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter.Matches(ev.EventKind()) {
			sub.handler(ev)
		}
	}
}
