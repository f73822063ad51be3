package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heatgrid/internal/grid"
	"github.com/banshee-data/heatgrid/internal/solver"
)

func TestReportProgress(t *testing.T) {
	p, err := grid.NewPartition(16, 20, 1, 2)
	require.NoError(t, err)
	g := grid.NewLocalGrid(p)
	grid.FieldInitialiser{Field: grid.Func(func(i, j, _, _ int) float64 { return float64(i) + float64(j)/100 })}.Initialise(g)

	var buf bytes.Buffer
	NewText(&buf).ReportProgress(300, g)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "---------- Iteration number: 300 ------------", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[11,11]: 11.11  "), lines[1])
	assert.Contains(t, lines[1], "[16,16]: 16.16")
	assert.Equal(t, 6, strings.Count(lines[1], "["))
}

func TestReportProgressShortBand(t *testing.T) {
	p, err := grid.NewPartition(4, 2, 0, 2)
	require.NoError(t, err)
	g := grid.NewLocalGrid(p)

	var buf bytes.Buffer
	NewText(&buf).ReportProgress(1, g)
	assert.Contains(t, buf.String(), "[1,1]:  0.00  [2,2]:  0.00")
}

func TestSummarizeAndVerification(t *testing.T) {
	var buf bytes.Buffer
	r := NewText(&buf)
	r.Banner(2)
	r.Summarize(solver.Summary{Ranks: 2, Iterations: 3372, GlobalDelta: 0.0099, Elapsed: 1500 * time.Millisecond})
	r.Verification(solver.VerificationCell{Rank: 0, Row: 499, Column: 999, Value: 0.5})

	assert.Equal(t, "Running on 2 ranks\n\n"+
		"\nMax error at iteration 3372 was 0.009900\n"+
		"Total time was 1.500000 seconds.\n"+
		"Value of halo swap verification cell [499][999] is 0.500000000000000000\n", buf.String())
}
