// Package compute applies the five-point Jacobi stencil to a rank's band,
// overlapping the halo-dependent boundary rows with the interior.
package compute

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/heatgrid/internal/grid"
)

// BoundaryWaiter blocks until the halo on one side may be read and the
// owned row on that side may be overwritten.
type BoundaryWaiter interface {
	WaitUpper(ctx context.Context) error
	WaitLower(ctx context.Context) error
}

// Engine updates Current from Previous.
type Engine struct {
	// Workers is the goroutine budget of one rank. One goroutine serves
	// the boundary rows; the interior gets the rest, at least one.
	Workers int

	// interiorDone, if set, runs after the interior rows are written.
	interiorDone func()
}

// InteriorWorkers returns the fan-out used by UpdateInterior.
func (e Engine) InteriorWorkers() int {
	return max(1, e.Workers-1)
}

// UpdateRow applies the stencil to columns 1..cols of local row i.
func UpdateRow(g *grid.LocalGrid, i int) {
	cur := g.Current.RawRowView(i)
	above := g.Previous.RawRowView(i - 1)
	prev := g.Previous.RawRowView(i)
	below := g.Previous.RawRowView(i + 1)
	cols := g.Cols()
	for j := 1; j <= cols; j++ {
		cur[j] = 0.25 * (below[j] + above[j] + prev[j+1] + prev[j-1])
	}
}

// UpdateBoundary computes the first and last owned rows once their halos
// have arrived. When the band is a single row both halos are awaited
// before it is computed.
func (e Engine) UpdateBoundary(ctx context.Context, g *grid.LocalGrid, waits BoundaryWaiter) error {
	last := g.LocalRows()
	if last == 1 {
		if err := waits.WaitUpper(ctx); err != nil {
			return err
		}
		if err := waits.WaitLower(ctx); err != nil {
			return err
		}
		UpdateRow(g, 1)
		return nil
	}

	if err := waits.WaitUpper(ctx); err != nil {
		return err
	}
	UpdateRow(g, 1)
	if err := waits.WaitLower(ctx); err != nil {
		return err
	}
	UpdateRow(g, last)
	return nil
}

// UpdateInterior computes rows 2..LocalRows-1, which read no halo.
func (e Engine) UpdateInterior(g *grid.LocalGrid) {
	ParallelRows(2, g.LocalRows(), e.InteriorWorkers(), func(lo, hi, _ int) {
		for i := lo; i < hi; i++ {
			UpdateRow(g, i)
		}
	})
}

// Step runs the boundary and interior updates concurrently and returns
// once both are done.
func (e Engine) Step(ctx context.Context, g *grid.LocalGrid, waits BoundaryWaiter) error {
	var eg errgroup.Group
	eg.Go(func() error {
		if err := e.UpdateBoundary(ctx, g, waits); err != nil {
			return fmt.Errorf("boundary rows: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		e.UpdateInterior(g)
		if e.interiorDone != nil {
			e.interiorDone()
		}
		return nil
	})
	return eg.Wait()
}
