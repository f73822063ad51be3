// Package halo swaps boundary rows between vertically adjacent ranks
// with non-blocking sends and receives.
//
// Receives land in the halo rows of Previous, which the stencil reads
// next iteration. Sends carry the first and last owned rows of Current.
package halo

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/heatgrid/internal/comm"
	"github.com/banshee-data/heatgrid/internal/grid"
)

// Tags identify the direction a row travels. The sender and the receiver
// of one row always use the same tag.
const (
	// TagDownward marks a row flowing from rank r to rank r+1.
	TagDownward = 0
	// TagUpward marks a row flowing from rank r to rank r-1.
	TagUpward = 1
)

// ErrExchangeInFlight is returned by Launch while a previous exchange
// still has outstanding requests.
var ErrExchangeInFlight = errors.New("halo: previous exchange has not been waited on")

// Requests are the four slots of one exchange. A nil slot means no
// transfer is outstanding on it.
type Requests struct {
	UpperSend *comm.Request
	UpperRecv *comm.Request
	LowerSend *comm.Request
	LowerRecv *comm.Request
}

func (r Requests) outstanding() bool {
	return r.UpperSend != nil || r.UpperRecv != nil || r.LowerSend != nil || r.LowerRecv != nil
}

// Exchanger owns the halo requests of one rank.
type Exchanger struct {
	c    comm.Communicator
	g    *grid.LocalGrid
	n    grid.NeighborSet
	reqs Requests
}

// New returns an Exchanger with no exchange in flight.
func New(c comm.Communicator, g *grid.LocalGrid, n grid.NeighborSet) *Exchanger {
	return &Exchanger{c: c, g: g, n: n}
}

// Launch posts the receives into Previous's halo rows and the sends of
// Current's first and last owned rows, for whichever neighbours exist.
// It does not block.
func (e *Exchanger) Launch(ctx context.Context) error {
	if e.reqs.outstanding() {
		return ErrExchangeInFlight
	}
	last := e.g.LocalRows()
	if e.n.HasUpper {
		e.reqs.UpperRecv = e.c.Irecv(ctx, grid.Span(e.g.Previous, 0), e.n.Upper, TagDownward)
		e.reqs.UpperSend = e.c.Isend(ctx, grid.Span(e.g.Current, 1), e.n.Upper, TagUpward)
	}
	if e.n.HasLower {
		e.reqs.LowerSend = e.c.Isend(ctx, grid.Span(e.g.Current, last), e.n.Lower, TagDownward)
		e.reqs.LowerRecv = e.c.Irecv(ctx, grid.Span(e.g.Previous, last+1), e.n.Lower, TagUpward)
	}
	return nil
}

// WaitUpper completes the exchange with the upper neighbour: the send
// first, so row 1 may be overwritten, then the receive, so the upper halo
// may be read.
func (e *Exchanger) WaitUpper(ctx context.Context) error {
	if err := wait(ctx, &e.reqs.UpperSend); err != nil {
		return fmt.Errorf("upper send to rank %d: %w", e.n.Upper, err)
	}
	if err := wait(ctx, &e.reqs.UpperRecv); err != nil {
		return fmt.Errorf("upper receive from rank %d: %w", e.n.Upper, err)
	}
	return nil
}

// WaitLower is WaitUpper for the lower neighbour.
func (e *Exchanger) WaitLower(ctx context.Context) error {
	if err := wait(ctx, &e.reqs.LowerSend); err != nil {
		return fmt.Errorf("lower send to rank %d: %w", e.n.Lower, err)
	}
	if err := wait(ctx, &e.reqs.LowerRecv); err != nil {
		return fmt.Errorf("lower receive from rank %d: %w", e.n.Lower, err)
	}
	return nil
}

// WaitAll drains every outstanding slot.
func (e *Exchanger) WaitAll(ctx context.Context) error {
	if err := e.WaitUpper(ctx); err != nil {
		return err
	}
	return e.WaitLower(ctx)
}

// Pending returns a snapshot of the outstanding slots.
func (e *Exchanger) Pending() Requests { return e.reqs }

// wait consumes the request in slot and clears the slot, so a completed
// handle is never waited on twice.
func wait(ctx context.Context, slot **comm.Request) error {
	r := *slot
	if r == nil {
		return nil
	}
	*slot = nil
	return r.Wait(ctx)
}
