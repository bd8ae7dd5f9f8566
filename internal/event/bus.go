// Package event provides the in-process publish/subscribe bus that carries
// domain events from mutation handlers and the synchronizer to the mediator
// and other listeners.
package event

import "sync"

// Handler receives published events.
type Handler func(Event)

type subscriber struct {
	id uint64
	fn Handler
}

// Bus delivers events synchronously to its subscribers.
//
// Publish calls every subscriber registered at the time of the call, in
// registration order, on the publisher's goroutine. Subscribers added later
// never see earlier events. Handlers may publish, subscribe or unsubscribe
// from inside a delivery; those changes apply to later publishes.
//
// A Bus is an explicit value owned by the session that creates it.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// Copy on write: in-flight deliveries keep iterating their snapshot.
			next := make([]subscriber, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to the current subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	snapshot := b.subs
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(ev)
	}
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber. Later publishes and subscribes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
