// Package async provides a small future primitive for asynchronous command
// submission. A Future resolves exactly once with a result and an error.
package async

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by AwaitWithTimeout when the future has not
	// resolved within the given duration.
	ErrTimeout = errors.New("await timed out")
)

// Future represents the pending result of an asynchronous computation.
type Future struct {
	result any
	err    error
	done   chan struct{}
}

// NewFuture creates an unresolved future. The producer resolves it with
// Resolve; consumers block on Await.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve completes the future. Resolving twice panics: a future is a
// single-assignment cell.
func (f *Future) Resolve(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Await blocks until the future resolves and returns its result and error.
func (f *Future) Await() (any, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout waits for resolution up to timeout.
func (f *Future) AwaitWithTimeout(timeout time.Duration) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// IsComplete reports whether the future has resolved, without blocking.
func (f *Future) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
