package solver

import (
	"fmt"
	"time"

	"github.com/banshee-data/heatgrid/internal/grid"
)

// State is the controller's position in its run.
type State int

const (
	Running State = iota
	Converged
	ExceededIterationLimit
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case ExceededIterationLimit:
		return "exceeded_iteration_limit"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IterationState is the loop's bookkeeping after one iteration.
type IterationState struct {
	Iteration   int
	LocalDelta  float64
	GlobalDelta float64
	State       State
}

// next applies the stopping policy to a state whose GlobalDelta has just
// been resolved.
func (s IterationState) next(threshold float64, maxIterations int) State {
	switch {
	case s.GlobalDelta <= threshold:
		return Converged
	case s.Iteration > maxIterations:
		return ExceededIterationLimit
	}
	return Running
}

// Summary is the single end-of-run report.
type Summary struct {
	Ranks       int
	Iterations  int
	GlobalDelta float64
	Elapsed     time.Duration
	State       State
}

// VerificationCell is the owned cell next to the lower halo of the
// second-to-last rank. Row and Column carry the label the reference
// program prints for it.
type VerificationCell struct {
	Rank   int
	Row    int
	Column int
	Value  float64
}

// Reporter receives the run's observable output. Implementations must
// not mutate the grid.
type Reporter interface {
	// Banner is called once on rank 0 after the run's configuration has
	// been accepted and before the first iteration.
	Banner(ranks int)
	// ReportProgress is called every PrintFrequency iterations on the
	// last rank.
	ReportProgress(iteration int, g *grid.LocalGrid)
	// Summarize is called once on rank 0 after the loop.
	Summarize(s Summary)
	// Verification is called once on rank Size-2.
	Verification(v VerificationCell)
}

// Observer sees every iteration's state on the rank it is attached to.
type Observer interface {
	ObserveIteration(s IterationState)
}
