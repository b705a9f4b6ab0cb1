package broker

import (
	"sync"
	"time"
)

// CommandFuture carries the result of an in-game command back to the
// tool that requested it. Resolve is one-shot; later calls are no-ops.
type CommandFuture struct {
	once sync.Once
	done chan struct{}
	val  string
}

func NewCommandFuture() *CommandFuture {
	return &CommandFuture{done: make(chan struct{})}
}

// Resolve sets the result and wakes every waiter. Only the first call
// takes effect.
func (f *CommandFuture) Resolve(result string) {
	f.once.Do(func() {
		f.val = result
		close(f.done)
	})
}

// Await blocks until the future resolves or the timeout passes.
// The second return is false on timeout.
func (f *CommandFuture) Await(timeout time.Duration) (string, bool) {
	select {
	case <-f.done:
		return f.val, true
	case <-time.After(timeout):
		return "", false
	}
}

// Resolved reports whether Resolve has been called.
func (f *CommandFuture) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
