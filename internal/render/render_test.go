package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/heatgrid/internal/solver"
)

func rampGrid(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, float64(i*j))
		}
	}
	return m
}

func requireNonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveConvergence(t *testing.T) {
	tests := []struct {
		name    string
		samples []solver.Sample
	}{
		{"positive deltas", []solver.Sample{{Iteration: 1, GlobalDelta: 25}, {Iteration: 10, GlobalDelta: 1.5}, {Iteration: 20, GlobalDelta: 0.009}}},
		{"zero delta", []solver.Sample{{Iteration: 1, GlobalDelta: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.png")
			require.NoError(t, SaveConvergence(tt.samples, path))
			requireNonEmpty(t, path)
		})
	}
}

func TestSaveConvergenceEmpty(t *testing.T) {
	assert.Error(t, SaveConvergence(nil, filepath.Join(t.TempDir(), "c.png")))
}

func TestSaveHeatMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.png")
	require.NoError(t, SaveHeatMap(rampGrid(10, 12), path))
	requireNonEmpty(t, path)
}

func TestSaveHeatMapRejectsBadGrid(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, SaveHeatMap(nil, filepath.Join(dir, "a.png")))
	assert.Error(t, SaveHeatMap(mat.NewDense(1, 4, nil), filepath.Join(dir, "b.png")))
}

func TestGridXYZFlipsRows(t *testing.T) {
	g := gridXYZ{m: rampGrid(3, 4)}
	c, r := g.Dims()
	assert.Equal(t, 4, c)
	assert.Equal(t, 3, r)
	// r=0 is the bottom row of the matrix.
	assert.Equal(t, 2.0*3, g.Z(3, 0))
	assert.Equal(t, 0.0, g.Z(3, 2))
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	files, err := WriteAll(dir, []solver.Sample{{Iteration: 1, GlobalDelta: 3}}, rampGrid(6, 6))
	require.NoError(t, err)
	requireNonEmpty(t, files.Convergence)
	requireNonEmpty(t, files.HeatMap)
}
