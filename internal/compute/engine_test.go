package compute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heatgrid/internal/grid"
)

// recordingWaiter notes the order of waits and what row 1 and the last
// row held when each wait returned.
type recordingWaiter struct {
	g      *grid.LocalGrid
	events []string
	err    error
}

func (w *recordingWaiter) WaitUpper(context.Context) error {
	w.events = append(w.events, "upper")
	return w.err
}

func (w *recordingWaiter) WaitLower(context.Context) error {
	w.events = append(w.events, "lower")
	if w.g.Current.At(1, 1) != 0 {
		w.events = append(w.events, "row1-done")
	}
	return w.err
}

func newGrid(t *testing.T, rows, cols int, f grid.Field) *grid.LocalGrid {
	t.Helper()
	p, err := grid.NewPartition(rows, cols, 0, 1)
	require.NoError(t, err)
	g := grid.NewLocalGrid(p)
	grid.FieldInitialiser{Field: f}.Initialise(g)
	return g
}

func TestUpdateRowStencil(t *testing.T) {
	g := newGrid(t, 3, 3, grid.Func(func(i, j, _, _ int) float64 { return float64(i*10 + j) }))
	UpdateRow(g, 2)

	// Linear fields are fixed points of the stencil.
	got := grid.Span(g.Current, 2)
	assert.Equal(t, []float64{21, 22, 23}, got)

	g.Previous.Set(1, 2, 0)
	UpdateRow(g, 2)
	assert.Equal(t, 0.25*(32+0+23+21), g.Current.At(2, 2))
	// Boundary columns are never written.
	assert.Equal(t, 20.0, g.Current.At(2, 0))
	assert.Equal(t, 24.0, g.Current.At(2, 4))
}

func TestUpdateBoundaryOrder(t *testing.T) {
	g := newGrid(t, 4, 3, grid.Constant{Top: 100})
	// Zero Current so "row1-done" only fires once row 1 has been computed.
	g.Current.Zero()
	w := &recordingWaiter{g: g}

	require.NoError(t, Engine{Workers: 2}.UpdateBoundary(context.Background(), g, w))
	assert.Equal(t, []string{"upper", "lower", "row1-done"}, w.events)
	assert.Equal(t, 25.0, g.Current.At(1, 2))
	assert.Equal(t, 0.0, g.Current.At(2, 2), "interior untouched")
	assert.Equal(t, 0.0, g.Current.At(4, 2))
}

func TestUpdateBoundarySingleRowWaitsBoth(t *testing.T) {
	g := newGrid(t, 1, 3, grid.Constant{Top: 100, Bottom: 100})
	g.Current.Zero()
	w := &recordingWaiter{g: g}

	require.NoError(t, Engine{Workers: 4}.UpdateBoundary(context.Background(), g, w))
	// The lower wait sees row 1 still zero: both waits precede the update.
	assert.Equal(t, []string{"upper", "lower"}, w.events)
	assert.Equal(t, 50.0, g.Current.At(1, 2))
}

func TestUpdateBoundaryPropagatesError(t *testing.T) {
	g := newGrid(t, 4, 3, grid.Constant{})
	boom := errors.New("boom")
	err := Engine{Workers: 2}.Step(context.Background(), g, &recordingWaiter{g: g, err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestUpdateInteriorSkipsBoundaryRows(t *testing.T) {
	g := newGrid(t, 6, 4, grid.Constant{Left: 40, Interior: 8})
	g.Current.Zero()

	Engine{Workers: 3}.UpdateInterior(g)

	for j := 1; j <= 4; j++ {
		assert.Equal(t, 0.0, g.Current.At(1, j), "row 1 col %d", j)
		assert.Equal(t, 0.0, g.Current.At(6, j), "row 6 col %d", j)
	}
	assert.Equal(t, 0.25*(8+8+8+40), g.Current.At(3, 1))
	assert.Equal(t, 8.0, g.Current.At(4, 3))
}

func TestStepMatchesSerialSweep(t *testing.T) {
	field := grid.Func(func(i, j, _, _ int) float64 { return float64((i*7+j*3)%11) + 0.5 })
	for _, workers := range []int{1, 2, 3, 8} {
		g := newGrid(t, 9, 5, field)
		want := newGrid(t, 9, 5, field)
		for i := 1; i <= want.LocalRows(); i++ {
			UpdateRow(want, i)
		}

		require.NoError(t, Engine{Workers: workers}.Step(context.Background(), g, &recordingWaiter{g: g}))
		if diff := cmp.Diff(want.Current.RawMatrix().Data, g.Current.RawMatrix().Data); diff != "" {
			t.Errorf("workers=%d: Step mismatch (-want +got):\n%s", workers, diff)
		}
	}
}

// gatedWaiter holds the upper halo until the interior has been written.
type gatedWaiter struct {
	interior <-chan struct{}
}

func (w gatedWaiter) WaitUpper(ctx context.Context) error {
	select {
	case <-w.interior:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w gatedWaiter) WaitLower(context.Context) error { return nil }

func TestStepOverlapsInteriorWithHaloWait(t *testing.T) {
	field := grid.Func(func(i, j, _, _ int) float64 { return float64(i*j%5) + 1 })
	g := newGrid(t, 8, 6, field)
	want := newGrid(t, 8, 6, field)
	for i := 1; i <= want.LocalRows(); i++ {
		UpdateRow(want, i)
	}

	interior := make(chan struct{})
	e := Engine{Workers: 2, interiorDone: func() { close(interior) }}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e.Step(ctx, g, gatedWaiter{interior: interior}))
	if diff := cmp.Diff(want.Current.RawMatrix().Data, g.Current.RawMatrix().Data); diff != "" {
		t.Errorf("Step mismatch (-want +got):\n%s", diff)
	}
}

func TestInteriorWorkers(t *testing.T) {
	assert.Equal(t, 1, Engine{Workers: 0}.InteriorWorkers())
	assert.Equal(t, 1, Engine{Workers: 2}.InteriorWorkers())
	assert.Equal(t, 7, Engine{Workers: 8}.InteriorWorkers())
}

func TestParallelRowsCoversRangeOnce(t *testing.T) {
	tests := []struct {
		start, end, workers int
	}{
		{0, 0, 4},
		{2, 3, 4},
		{2, 10, 1},
		{2, 10, 3},
		{0, 100, 7},
		{5, 8, 16},
	}
	for _, tt := range tests {
		var mu sync.Mutex
		seen := make(map[int]int)
		chunks := make(map[int]bool)
		ParallelRows(tt.start, tt.end, tt.workers, func(lo, hi, chunk int) {
			mu.Lock()
			defer mu.Unlock()
			chunks[chunk] = true
			for i := lo; i < hi; i++ {
				seen[i]++
			}
		})
		assert.Len(t, seen, max(0, tt.end-tt.start))
		for i, n := range seen {
			assert.Equal(t, 1, n, "row %d", i)
			assert.True(t, i >= tt.start && i < tt.end)
		}
		assert.LessOrEqual(t, len(chunks), max(1, tt.workers))
	}
}
