// Package solver drives the Jacobi relaxation loop on one rank: it owns
// the grid, sequences the halo exchange, the stencil and the convergence
// reduction each iteration, and applies the stopping policy.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/heatgrid/internal/comm"
	"github.com/banshee-data/heatgrid/internal/compute"
	"github.com/banshee-data/heatgrid/internal/grid"
	"github.com/banshee-data/heatgrid/internal/halo"
	"github.com/banshee-data/heatgrid/internal/monitoring"
	"github.com/banshee-data/heatgrid/internal/reduce"
	"github.com/banshee-data/heatgrid/internal/timeutil"
)

// Controller runs the relaxation on one rank.
type Controller struct {
	Comm        comm.Communicator
	Settings    Settings
	Initialiser grid.Initialiser
	// Reporter receives progress, summary and verification output. It may
	// be nil.
	Reporter Reporter
	// Observer, if set, sees every iteration on this rank.
	Observer Observer
	// Clock times the run; nil uses the wall clock.
	Clock timeutil.Clock
}

// Result is what one rank knows when Run returns.
type Result struct {
	State       State
	Iterations  int
	GlobalDelta float64
	// Elapsed is measured from just before the first iteration to the
	// barrier after the last.
	Elapsed time.Duration
	Grid    *grid.LocalGrid
}

// Run partitions the grid, iterates to a terminal state, drains the
// in-flight halo exchange and emits the summary and verification cell.
// Any error, fatal configuration included, aborts every rank of the run.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	rank, size := c.Comm.Rank(), c.Comm.Size()
	logf := monitoring.ForRank(rank)

	p, err := c.setup(size)
	if err != nil {
		logf("[solver] %v", err)
		c.Comm.Abort(err)
		return Result{}, err
	}
	if rank == 0 {
		logf("[solver] %dx%d grid, %d rows per rank, %d workers",
			p.GlobalRows, p.Columns, p.LocalRows, c.Settings.Workers)
		if c.Reporter != nil {
			c.Reporter.Banner(size)
		}
	}

	g := grid.NewLocalGrid(p)
	if c.Initialiser != nil {
		c.Initialiser.Initialise(g)
	}
	ex := halo.New(c.Comm, g, p.Neighbors())
	engine := compute.Engine{Workers: c.Settings.Workers}
	reducer := reduce.New(c.Comm)

	st := IterationState{GlobalDelta: c.Settings.InitialDelta, State: Running}
	sw := timeutil.StartStopwatch(c.Clock)
	for st.State == Running {
		st.Iteration++

		if err := engine.Step(ctx, g, ex); err != nil {
			return c.fail(st, fmt.Errorf("iteration %d: %w", st.Iteration, err))
		}
		st.LocalDelta = reduce.LocalDelta(g, c.Settings.Workers)

		// Current already equals Previous on the owned rows, so the rows
		// sent now are exactly what the neighbours' next stencil needs.
		if err := ex.Launch(ctx); err != nil {
			return c.fail(st, fmt.Errorf("iteration %d: %w", st.Iteration, err))
		}
		h := reducer.Launch(ctx, st.LocalDelta)

		if st.Iteration%c.Settings.PrintFrequency == 0 && rank == size-1 && c.Reporter != nil {
			c.Reporter.ReportProgress(st.Iteration, g)
		}

		st.GlobalDelta, err = h.Resolve(ctx)
		if err != nil {
			return c.fail(st, fmt.Errorf("iteration %d: %w", st.Iteration, err))
		}
		st.State = st.next(c.Settings.Threshold, c.Settings.MaxIterations)
		if c.Observer != nil {
			c.Observer.ObserveIteration(st)
		}
	}

	if err := ex.WaitAll(ctx); err != nil {
		return c.fail(st, fmt.Errorf("draining halo exchange: %w", err))
	}
	if err := comm.Barrier(ctx, c.Comm); err != nil {
		return c.fail(st, err)
	}
	res := Result{
		State:       st.State,
		Iterations:  st.Iteration,
		GlobalDelta: st.GlobalDelta,
		Elapsed:     sw.Elapsed(),
		Grid:        g,
	}
	if rank == 0 {
		logf("[solver] %s after %d iterations, global delta %g", st.State, st.Iteration, st.GlobalDelta)
		if c.Reporter != nil {
			c.Reporter.Summarize(Summary{
				Ranks:       size,
				Iterations:  res.Iterations,
				GlobalDelta: res.GlobalDelta,
				Elapsed:     res.Elapsed,
				State:       res.State,
			})
		}
	}

	if err := comm.Barrier(ctx, c.Comm); err != nil {
		return c.fail(st, err)
	}
	if rank == size-2 && c.Reporter != nil {
		c.Reporter.Verification(Verify(g))
	}
	return res, nil
}

// setup checks the substrate and the settings against the world size and
// partitions the grid.
func (c *Controller) setup(size int) (grid.Partition, error) {
	if err := comm.RequireThreadLevel(c.Comm, comm.ThreadMultiple); err != nil {
		return grid.Partition{}, err
	}
	if err := c.Settings.validate(size); err != nil {
		return grid.Partition{}, err
	}
	return grid.NewPartition(c.Settings.GlobalRows, c.Settings.Columns, c.Comm.Rank(), size)
}

// fail aborts the whole run so peers blocked on this rank return too.
func (c *Controller) fail(st IterationState, err error) (Result, error) {
	monitoring.ForRank(c.Comm.Rank())("[solver] stopping at iteration %d: %v", st.Iteration, err)
	c.Comm.Abort(err)
	return Result{State: st.State, Iterations: st.Iteration, GlobalDelta: st.GlobalDelta}, err
}

// Verify reads the owned cell that sits against the lower halo in the
// last column.
func Verify(g *grid.LocalGrid) VerificationCell {
	p := g.Partition
	return VerificationCell{
		Rank:   p.Rank,
		Row:    p.GlobalRows - p.LocalRows - 1,
		Column: p.Columns - 1,
		Value:  g.Cell(p.LocalRows, p.Columns),
	}
}
