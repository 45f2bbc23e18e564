package gift

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close
var ErrQueueClosed = errors.New("gift queue closed")

// Queue is an unbounded FIFO of events between the dispatcher (single
// producer) and the export worker (single consumer).
// Pop blocks on a condition variable instead of polling.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Event
	closed bool
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. It fails once the queue is closed.
func (q *Queue) Push(e *Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, e)
	q.cond.Signal()
	return nil
}

// Pop removes the oldest event, blocking while the queue is empty and open.
// It returns false only when the queue is closed and fully drained.
func (q *Queue) Pop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

// Close stops accepting events and wakes the consumer.
// Events already queued are still returned by Pop.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
