package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// World runs every rank of a job as a goroutine in the current process.
// Ranks exchange messages through per-rank inboxes and still share no
// grid memory.
type World struct {
	size        int
	threadLevel ThreadLevel
	inboxes     []*Inbox

	mu       sync.Mutex
	cancel   context.CancelCauseFunc
	abortErr error
}

// WorldOption configures a World.
type WorldOption func(*World)

// WithThreadLevel overrides the advertised thread support level.
func WithThreadLevel(l ThreadLevel) WorldOption {
	return func(w *World) { w.threadLevel = l }
}

// NewWorld creates an in-process world of size ranks.
func NewWorld(size int, opts ...WorldOption) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("world size must be positive, got %d", size)
	}
	w := &World{
		size:        size,
		threadLevel: ThreadMultiple,
		inboxes:     make([]*Inbox, size),
	}
	for i := range w.inboxes {
		w.inboxes[i] = NewInbox()
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Run starts fn once per rank and waits for all of them. A rank that
// returns an error cancels the others. If any rank called Abort, Run
// returns the abort error.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Communicator) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w.mu.Lock()
	w.cancel = cancel
	w.abortErr = nil
	w.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < w.size; rank++ {
		c := &localComm{world: w, rank: rank, seq: NewSequencer()}
		g.Go(func() error {
			return fn(gctx, c)
		})
	}
	err := g.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abortErr != nil {
		return w.abortErr
	}
	return err
}

func (w *World) abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abortErr != nil {
		return
	}
	w.abortErr = err
	if w.cancel != nil {
		w.cancel(err)
	}
}

type localComm struct {
	world *World
	rank  int
	seq   *Sequencer
}

func (c *localComm) Rank() int                { return c.rank }
func (c *localComm) Size() int                { return c.world.size }
func (c *localComm) ThreadLevel() ThreadLevel { return c.world.threadLevel }
func (c *localComm) Abort(err error)          { c.world.abort(err) }

func (c *localComm) Isend(ctx context.Context, data []float64, dst, tag int) *Request {
	if err := c.checkPeer(dst); err != nil {
		return completedRequest(err)
	}
	if err := ctx.Err(); err != nil {
		return completedRequest(context.Cause(ctx))
	}
	payload := make([]float64, len(data))
	copy(payload, data)
	c.world.inboxes[dst].Deliver(c.rank, tag, c.seq.Next(dst, tag), payload)
	return completedRequest(nil)
}

func (c *localComm) Irecv(ctx context.Context, buf []float64, src, tag int) *Request {
	if err := c.checkPeer(src); err != nil {
		return completedRequest(err)
	}
	return c.world.inboxes[c.rank].Irecv(ctx, buf, src, tag)
}

var errBadPeer = errors.New("comm: peer rank out of range")

func (c *localComm) checkPeer(peer int) error {
	if peer < 0 || peer >= c.world.size {
		return fmt.Errorf("%w: %d not in [0,%d)", errBadPeer, peer, c.world.size)
	}
	return nil
}
