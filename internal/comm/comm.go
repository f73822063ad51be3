package comm

import (
	"context"
	"errors"
	"fmt"
)

// TagReserved is the first tag used by collectives. Point-to-point callers
// must use tags below it.
const TagReserved = 1 << 20

const (
	tagReduce = TagReserved + iota
	tagBroadcast
	tagGather
)

var (
	// ErrRequestConsumed is returned when a handle is waited on twice.
	ErrRequestConsumed = errors.New("comm: request already waited on")
	// ErrSizeMismatch reports a received payload whose length differs
	// from the posted receive buffer.
	ErrSizeMismatch = errors.New("comm: message size does not match receive buffer")
	// ErrThreadSupport reports a substrate that cannot serve concurrent
	// calls from several goroutines of one rank.
	ErrThreadSupport = errors.New("comm: insufficient thread support")
	// ErrAborted is the cause attached to contexts of an aborted run when
	// Abort was called with a nil error.
	ErrAborted = errors.New("comm: run aborted")
)

// ThreadLevel mirrors the classic message-passing thread support levels.
type ThreadLevel int

const (
	ThreadSingle ThreadLevel = iota
	ThreadFunneled
	ThreadSerialized
	ThreadMultiple
)

func (l ThreadLevel) String() string {
	switch l {
	case ThreadSingle:
		return "single"
	case ThreadFunneled:
		return "funneled"
	case ThreadSerialized:
		return "serialized"
	case ThreadMultiple:
		return "multiple"
	}
	return fmt.Sprintf("ThreadLevel(%d)", int(l))
}

// Communicator is one rank's view of the run.
type Communicator interface {
	// Rank returns this rank, 0 <= Rank() < Size().
	Rank() int
	// Size returns the number of ranks.
	Size() int
	// ThreadLevel reports how many goroutines may call the communicator
	// at once.
	ThreadLevel() ThreadLevel
	// Isend launches a send of data to dst. The payload is copied before
	// Isend returns.
	Isend(ctx context.Context, data []float64, dst, tag int) *Request
	// Irecv launches a receive from src into buf. buf must not be read
	// until the returned request has been waited on.
	Irecv(ctx context.Context, buf []float64, src, tag int) *Request
	// Abort tears down every rank of the run. It does not return an
	// error; callers should stop work after calling it.
	Abort(err error)
}

// RequireThreadLevel returns ErrThreadSupport when c offers less than want.
func RequireThreadLevel(c Communicator, want ThreadLevel) error {
	if got := c.ThreadLevel(); got < want {
		return fmt.Errorf("%w: need %s, substrate provides %s", ErrThreadSupport, want, got)
	}
	return nil
}
