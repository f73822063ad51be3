// Package reduce computes the convergence measure: the largest change of
// any cell in one iteration, first per rank and then across all ranks.
package reduce

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/heatgrid/internal/comm"
	"github.com/banshee-data/heatgrid/internal/compute"
	"github.com/banshee-data/heatgrid/internal/grid"
)

// LocalDelta returns max |Current-Previous| over the owned cells and, in
// the same pass, copies Current into Previous. Afterwards the two
// generations agree on every owned cell; halos and boundary columns are
// not touched.
func LocalDelta(g *grid.LocalGrid, workers int) float64 {
	rows := g.LocalRows()
	cols := g.Cols()
	workers = max(1, workers)
	partial := make([]float64, workers)

	compute.ParallelRows(1, rows+1, workers, func(lo, hi, chunk int) {
		var dt float64
		for i := lo; i < hi; i++ {
			cur := g.Current.RawRowView(i)
			prev := g.Previous.RawRowView(i)
			for j := 1; j <= cols; j++ {
				dt = math.Max(math.Abs(cur[j]-prev[j]), dt)
				prev[j] = cur[j]
			}
		}
		partial[chunk] = dt
	})

	var dt float64
	for _, v := range partial {
		dt = math.Max(dt, v)
	}
	return dt
}

// Reducer launches the global maximum of each rank's local delta.
type Reducer struct {
	c comm.Communicator
}

// New returns a Reducer over c.
func New(c comm.Communicator) *Reducer {
	return &Reducer{c: c}
}

// Handle is one in-flight global reduction.
type Handle struct {
	f *comm.Future[float64]
}

// Launch starts the reduction of delta without blocking.
func (r *Reducer) Launch(ctx context.Context, delta float64) *Handle {
	return &Handle{f: comm.IallreduceMax(ctx, r.c, delta)}
}

// Resolve blocks until the global maximum is known. A handle resolves
// once.
func (h *Handle) Resolve(ctx context.Context) (float64, error) {
	v, err := h.f.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("global delta: %w", err)
	}
	return v, nil
}
