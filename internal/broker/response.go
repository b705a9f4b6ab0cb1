package broker

import (
	"sync"
	"time"
)

// ResponseQueue is an unbounded FIFO feeding one connection's sender
// loop. Push never blocks; Pop waits up to a timeout. A closed queue
// rejects pushes so workers learn the connection is gone.
type ResponseQueue struct {
	mu     sync.Mutex
	items  []ResponseItem
	closed bool
	notify chan struct{}
}

func NewResponseQueue() *ResponseQueue {
	return &ResponseQueue{notify: make(chan struct{}, 1)}
}

// Push appends item, reporting false when the queue is closed.
func (q *ResponseQueue) Push(item ResponseItem) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Close rejects further pushes. Queued items stay drainable.
func (q *ResponseQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Pop returns the oldest item, waiting up to timeout for one to arrive.
// The second return is false on timeout.
func (q *ResponseQueue) Pop(timeout time.Duration) (ResponseItem, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return nil, false
		}
	}
}

// Drain removes and returns everything currently queued.
func (q *ResponseQueue) Drain() []ResponseItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
