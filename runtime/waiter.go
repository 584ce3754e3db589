package runtime

import (
	"context"
	"sync"
)

// Waiter is a single-owner allocate/wait/wake primitive: the blocking-façade
// building block spec.md describes as "allocate a waiter, issue the async
// call, wait, read out result". Grounded in the teacher's
// registry.NewPromise/promise.Resolve single-assignment discipline
// (eventloop/registry.go, promisify.go), simplified to one channel since
// each Waiter has exactly one owner and is never scavenged or reused.
type Waiter[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewWaiter allocates a waiter. Call Wake exactly once from the completion
// callback, then Wait from the blocking caller.
func NewWaiter[T any]() *Waiter[T] {
	return &Waiter[T]{done: make(chan struct{})}
}

// Wake resolves the waiter. Only the first call has any effect.
func (w *Waiter[T]) Wake(val T, err error) {
	w.once.Do(func() {
		w.val = val
		w.err = err
		close(w.done)
	})
}

// Wait blocks until Wake is called or ctx is done, whichever comes first.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-w.done:
		return w.val, w.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
