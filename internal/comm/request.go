package comm

import (
	"context"
	"sync"
)

// Request is the handle of one in-flight point-to-point transfer.
//
// A nil *Request is the null request: waiting on it returns immediately.
// A non-nil request may be waited on exactly once.
type Request struct {
	done chan struct{}
	err  error

	mu       sync.Mutex
	consumed bool
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

func completedRequest(err error) *Request {
	r := newRequest()
	r.complete(err)
	return r
}

// NewPendingRequest returns an incomplete request and the function that
// completes it. Transports outside this package build handles with it.
func NewPendingRequest() (*Request, func(error)) {
	r := newRequest()
	return r, r.complete
}

func (r *Request) complete(err error) {
	r.err = err
	close(r.done)
}

// Wait blocks until the transfer completes or ctx is done, and consumes
// the handle.
func (r *Request) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.consumed {
		r.mu.Unlock()
		return ErrRequestConsumed
	}
	r.consumed = true
	r.mu.Unlock()

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Future is the handle of an in-flight collective that yields a value.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error

	mu       sync.Mutex
	consumed bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(v T, err error) {
	f.val = v
	f.err = err
	close(f.done)
}

// Wait blocks until the collective's result is available and consumes
// the handle.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	f.mu.Lock()
	if f.consumed {
		f.mu.Unlock()
		return zero, ErrRequestConsumed
	}
	f.consumed = true
	f.mu.Unlock()

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	}
}
