// Package report renders solver output as plain text.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/heatgrid/internal/grid"
	"github.com/banshee-data/heatgrid/internal/solver"
)

// progressRows is how many diagonal cells a progress line shows.
const progressRows = 6

// Text writes progress, summary and verification lines to W.
type Text struct {
	mu sync.Mutex
	W  io.Writer
}

var _ solver.Reporter = (*Text)(nil)

// NewText returns a Text reporter writing to w.
func NewText(w io.Writer) *Text {
	return &Text{W: w}
}

// ReportProgress prints the diagonal cells of the last owned rows.
func (t *Text) ReportProgress(iteration int, g *grid.LocalGrid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := g.Partition
	fmt.Fprintf(t.W, "---------- Iteration number: %d ------------\n", iteration)
	for i := max(1, p.LocalRows-progressRows+1); i <= p.LocalRows; i++ {
		gi := p.GlobalRow(i)
		j := min(gi, p.Columns)
		fmt.Fprintf(t.W, "[%d,%d]: %5.2f  ", gi, j, g.Cell(i, j))
	}
	fmt.Fprintln(t.W)
}

// Summarize prints the final delta and wall time.
func (t *Text) Summarize(s solver.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.W, "\nMax error at iteration %d was %f\n", s.Iterations, s.GlobalDelta)
	fmt.Fprintf(t.W, "Total time was %f seconds.\n", s.Elapsed.Seconds())
}

// Verification prints the halo swap verification cell.
func (t *Text) Verification(v solver.VerificationCell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.W, "Value of halo swap verification cell [%d][%d] is %.18f\n", v.Row, v.Column, v.Value)
}

// Banner prints the startup line shown by rank 0.
func (t *Text) Banner(ranks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.W, "Running on %d ranks\n\n", ranks)
}
