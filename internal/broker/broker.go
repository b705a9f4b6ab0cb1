// Package broker decouples WebSocket connections from the LLM worker
// pool. It owns the shared request queue plus the per-connection
// response queues, admission order, and conversation histories.
package broker

import (
	"log/slog"
	"sync"

	"github.com/nevindra/mcbridge/internal/llm"
)

// Priority levels for the request queue. Lower dequeues first.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 9
)

// connState exists exactly while the connection is registered; every
// per-connection structure hangs off it so unregistration drops them
// all at once.
type connState struct {
	queue   *ResponseQueue
	history []llm.ModelMessage

	// pending holds queued request sequences in arrival order; running
	// marks an admitted request still in flight. Together they admit
	// workers first-come first-served per connection.
	pending []uint64
	running bool
}

type Broker struct {
	logger   *slog.Logger
	requests *requestQueue

	mu    sync.Mutex
	admit *sync.Cond
	conns map[string]*connState
}

func New(maxQueueSize int, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		logger:   logger,
		requests: newRequestQueue(maxQueueSize),
		conns:    make(map[string]*connState),
	}
	b.admit = sync.NewCond(&b.mu)
	return b
}

// Register creates the connection's state and returns its response
// queue. Registering an already-known connection keeps the existing
// state.
func (b *Broker) Register(connectionID string) *ResponseQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.conns[connectionID]; ok {
		return state.queue
	}
	state := &connState{queue: NewResponseQueue()}
	b.conns[connectionID] = state
	return state.queue
}

// Publish enqueues a chat request for the worker pool. The sequence is
// recorded against the connection so workers are admitted in arrival
// order regardless of which worker dequeues first.
func (b *Broker) Publish(priority int, req ChatRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq, err := b.requests.publish(priority, req)
	if err != nil {
		return err
	}
	if state, ok := b.conns[req.ConnectionID]; ok {
		state.pending = append(state.pending, seq)
	}
	b.logger.Debug("request queued",
		"connection_id", req.ConnectionID, "priority", priority, "depth", b.requests.depth())
	return nil
}

// Consume blocks until a request is available. Returns false after
// Close once the queue is drained; workers use that to exit.
func (b *Broker) Consume() (Envelope, bool) {
	return b.requests.consume()
}

// QueueDepth reports the number of requests waiting for a worker.
func (b *Broker) QueueDepth() int {
	return b.requests.depth()
}

// Responses returns the connection's response queue, or nil when the
// connection is not registered.
func (b *Broker) Responses(connectionID string) *ResponseQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.conns[connectionID]
	if !ok {
		return nil
	}
	return state.queue
}

// Acquire blocks until the request identified by seq is the
// connection's oldest outstanding one and no other run is in flight.
// Returns false when the connection is gone; the caller drops the
// request.
func (b *Broker) Acquire(connectionID string, seq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		state, ok := b.conns[connectionID]
		if !ok {
			return false
		}
		if !state.running && len(state.pending) > 0 && state.pending[0] == seq {
			state.pending = state.pending[1:]
			state.running = true
			return true
		}
		b.admit.Wait()
	}
}

// Release ends the connection's in-flight run and wakes waiting
// workers.
func (b *Broker) Release(connectionID string) {
	b.mu.Lock()
	if state, ok := b.conns[connectionID]; ok {
		state.running = false
	}
	b.admit.Broadcast()
	b.mu.Unlock()
}

// History returns a copy of the connection's conversation history.
// Mutating the returned slice does not affect the stored history.
func (b *Broker) History(connectionID string) []llm.ModelMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.conns[connectionID]
	if !ok {
		return nil
	}
	out := make([]llm.ModelMessage, len(state.history))
	copy(out, state.history)
	return out
}

// SetHistory replaces the connection's history with a copy of msgs.
// Unknown connections are ignored so a worker finishing a run after
// disconnect cannot resurrect state.
func (b *Broker) SetHistory(connectionID string, msgs []llm.ModelMessage) {
	stored := make([]llm.ModelMessage, len(msgs))
	copy(stored, msgs)

	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.conns[connectionID]; ok {
		state.history = stored
	}
}

// ClearHistory drops the connection's history.
func (b *Broker) ClearHistory(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.conns[connectionID]; ok {
		state.history = nil
	}
}

// RemoveConnection drops all per-connection state and returns the
// closed response queue (nil when never registered) so the caller can
// resolve any futures still inside it. Late pushes fail, and workers
// blocked in Acquire are released.
func (b *Broker) RemoveConnection(connectionID string) *ResponseQueue {
	b.mu.Lock()
	state, ok := b.conns[connectionID]
	delete(b.conns, connectionID)
	b.admit.Broadcast()
	b.mu.Unlock()

	if !ok {
		return nil
	}
	state.queue.Close()
	return state.queue
}

// Close wakes all blocked consumers so workers can exit.
func (b *Broker) Close() {
	b.requests.close()
}
