package broker

import (
	"container/heap"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when the request queue is at capacity.
	ErrQueueFull = errors.New("请求队列已满")
	// ErrQueueClosed is returned on publish after shutdown.
	ErrQueueClosed = errors.New("请求队列已关闭")
)

// Envelope wraps a request with its queue ordering keys. Lower priority
// values dequeue first; equal priorities dequeue in publish order.
type Envelope struct {
	Priority int
	Sequence uint64
	Request  ChatRequest
}

type envelopeHeap []Envelope

func (h envelopeHeap) Len() int { return len(h) }
func (h envelopeHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}
func (h envelopeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *envelopeHeap) Push(x any) { *h = append(*h, x.(Envelope)) }
func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// requestQueue is a bounded, blocking priority queue.
type requestQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   envelopeHeap
	maxSize int
	seq     uint64
	closed  bool
}

func newRequestQueue(maxSize int) *requestQueue {
	q := &requestQueue{maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// publish enqueues without blocking and returns the assigned sequence.
// A full queue is an error so the caller can tell the player to retry
// instead of stalling the socket.
func (q *requestQueue) publish(priority int, req ChatRequest) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return 0, ErrQueueFull
	}

	q.seq++
	heap.Push(&q.items, Envelope{Priority: priority, Sequence: q.seq, Request: req})
	q.cond.Signal()
	return q.seq, nil
}

// consume blocks until an envelope is available or the queue closes.
// The second return is false once the queue is closed and drained.
func (q *requestQueue) consume() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Envelope{}, false
	}
	return heap.Pop(&q.items).(Envelope), true
}

func (q *requestQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close wakes all blocked consumers. Queued envelopes remain
// consumable until drained.
func (q *requestQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
