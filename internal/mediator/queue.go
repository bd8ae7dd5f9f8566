package mediator

import (
	"sync"

	"github.com/roach88/replica/internal/event"
)

// eventQueue is a thread-safe FIFO of events awaiting an invalidation pass.
//
// The queue is unbounded so that publishers never block on a slow pass.
type eventQueue struct {
	mu     sync.Mutex
	events []event.Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event.Event, 0, 64),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
func (q *eventQueue) Enqueue(e event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// DrainAll removes and returns every queued event in arrival order.
// Events enqueued after DrainAll returns belong to the next drain.
func (q *eventQueue) DrainAll() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	drained := q.events
	// Fresh backing array: the drained slice is read outside the lock.
	q.events = make([]event.Event, 0, cap(drained))
	return drained
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Reset discards every queued event.
func (q *eventQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.events)
	q.events = q.events[:0]
}
