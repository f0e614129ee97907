// Package pool provides a bounded blocking pool of reusable handles.
//
// The pool is populated once at construction; handles are never created or
// destroyed between Acquire and Release, so at most N callers hold a handle
// at any moment and everyone else waits.
package pool

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("pool is closed")

// Pool holds a fixed set of reusable handles of type T.
type Pool[T any] struct {
	handles chan T
	size    int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New creates a pool pre-populated with the given handles.
func New[T any](handles []T) *Pool[T] {
	p := &Pool[T]{
		handles: make(chan T, len(handles)),
		size:    len(handles),
		done:    make(chan struct{}),
	}
	for _, h := range handles {
		p.handles <- h
	}
	return p
}

// Size returns the fixed number of handles the pool was built with.
func (p *Pool[T]) Size() int {
	return p.size
}

// Acquire blocks until a handle is available, removes it from the pool and
// returns it. The caller must Release the handle when done. Returns
// ErrClosed once the pool has been closed, or the context error if the
// context is cancelled first.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	select {
	case h := <-p.handles:
		return h, nil
	case <-p.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a handle to the pool and wakes one waiter.
// Releasing into a closed pool is a no-op beyond dropping the handle.
func (p *Pool[T]) Release(h T) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.handles <- h:
	default:
		// More releases than acquires means a caller violated the
		// exclusive-checkout contract.
		panic("pool: release without matching acquire")
	}
}

// Close marks the pool closed and runs closeFn over every idle handle.
// It assumes no handles are checked out; outstanding handles are the
// caller's responsibility.
func (p *Pool[T]) Close(closeFn func(T) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case h := <-p.handles:
			if closeFn != nil {
				if err := closeFn(h); err != nil {
					errs = append(errs, err)
				}
			}
		default:
			return errors.Join(errs...)
		}
	}
}
