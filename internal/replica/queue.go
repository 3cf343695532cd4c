package replica

import (
	"sync"

	"github.com/roach88/boardreplica/internal/block"
)

// eventType distinguishes queued work.
type eventType int

const (
	// eventDeltas carries a pushed delta batch.
	eventDeltas eventType = iota + 1
	// eventResync asks for a full resync, typically after a reconnect.
	eventResync
)

// event is one unit of work for the Run loop.
type event struct {
	typ    eventType
	blocks []block.Block
}

// eventQueue is an unbounded FIFO of events.
//
// Producers (push channel readers) enqueue from their own goroutines; the
// Run loop dequeues. The signal channel lets Run wait with a context.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends e. It reports false once the queue is closed.
func (q *eventQueue) enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front event without blocking.
func (q *eventQueue) tryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Clear the slot so the batch can be collected.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// wait returns a channel that fires when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// close stops further enqueues and wakes the Run loop.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
