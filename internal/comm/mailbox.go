package comm

import (
	"context"
	"fmt"
	"sync"
)

type channelKey struct {
	peer int
	tag  int
}

// Inbox holds the messages addressed to one rank, keyed by source and
// tag. Transports call Deliver as messages arrive (possibly out of
// order) and Irecv to post receives.
type Inbox struct {
	mu     sync.Mutex
	queues map[channelKey]*channelQueue
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{queues: make(map[channelKey]*channelQueue)}
}

func (b *Inbox) queue(src, tag int) *channelQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := channelKey{peer: src, tag: tag}
	q, ok := b.queues[k]
	if !ok {
		q = &channelQueue{held: make(map[uint64][]float64)}
		b.queues[k] = q
	}
	return q
}

// Deliver hands a message from src with the given tag and per-channel
// sequence number to the inbox. data is owned by the inbox afterwards.
func (b *Inbox) Deliver(src, tag int, seq uint64, data []float64) {
	b.queue(src, tag).deliver(seq, data)
}

// Irecv posts a receive for the next message from src on tag and copies
// it into buf when it arrives.
func (b *Inbox) Irecv(ctx context.Context, buf []float64, src, tag int) *Request {
	req := newRequest()
	ch := b.queue(src, tag).receive()
	go func() {
		select {
		case data := <-ch:
			if len(data) != len(buf) {
				req.complete(fmt.Errorf("%w: got %d values from rank %d tag %d, buffer holds %d",
					ErrSizeMismatch, len(data), src, tag, len(buf)))
				return
			}
			copy(buf, data)
			req.complete(nil)
		case <-ctx.Done():
			req.complete(context.Cause(ctx))
		}
	}()
	return req
}

// channelQueue restores send order on one (source, tag) channel and
// matches arrivals to receives in posting order.
type channelQueue struct {
	mu      sync.Mutex
	next    uint64
	held    map[uint64][]float64
	ready   [][]float64
	waiters []chan []float64
}

func (q *channelQueue) deliver(seq uint64, data []float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.held[seq] = data
	for {
		d, ok := q.held[q.next]
		if !ok {
			return
		}
		delete(q.held, q.next)
		q.next++
		if len(q.waiters) > 0 {
			w := q.waiters[0]
			q.waiters = q.waiters[1:]
			w <- d
			continue
		}
		q.ready = append(q.ready, d)
	}
}

func (q *channelQueue) receive() <-chan []float64 {
	ch := make(chan []float64, 1)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) > 0 {
		ch <- q.ready[0]
		q.ready = q.ready[1:]
		return ch
	}
	q.waiters = append(q.waiters, ch)
	return ch
}

// Sequencer hands out per-(destination, tag) sequence numbers to a
// sending rank.
type Sequencer struct {
	mu   sync.Mutex
	next map[channelKey]uint64
}

// NewSequencer returns a Sequencer starting every channel at zero.
func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[channelKey]uint64)}
}

// Next returns the sequence number for the next message to dst on tag.
func (s *Sequencer) Next(dst, tag int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := channelKey{peer: dst, tag: tag}
	n := s.next[k]
	s.next[k] = n + 1
	return n
}
