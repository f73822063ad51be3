// Package grid owns the row-band decomposition of the global temperature
// grid and the per-rank storage that the solver relaxes.
package grid

import (
	"fmt"

	"github.com/banshee-data/heatgrid/internal/config"
)

// Partition is one rank's share of the global grid.
//
// Global rows are numbered 0..GlobalRows+1: rows 0 and GlobalRows+1 are
// the fixed top and bottom boundaries. Local row i of this rank maps to
// global row RowOffset+i, so local rows 0 and LocalRows+1 are halos (or
// the fixed boundary on the first and last rank).
type Partition struct {
	GlobalRows int
	Columns    int
	Rank       int
	Size       int
	LocalRows  int
	RowOffset  int
}

// NewPartition splits globalRows evenly over size ranks. An uneven split
// is a fatal configuration error.
func NewPartition(globalRows, cols, rank, size int) (Partition, error) {
	if size < 1 {
		return Partition{}, fmt.Errorf("rank count must be positive, got %d", size)
	}
	if rank < 0 || rank >= size {
		return Partition{}, fmt.Errorf("rank %d out of range [0,%d)", rank, size)
	}
	if cols < 1 {
		return Partition{}, fmt.Errorf("columns must be positive, got %d", cols)
	}
	if globalRows < size {
		return Partition{}, config.Fatalf(config.ErrUnevenRows,
			"%d global rows cannot give each of %d ranks a row", globalRows, size)
	}
	if globalRows%size != 0 {
		return Partition{}, config.Fatalf(config.ErrUnevenRows,
			"%d global rows do not divide evenly over %d ranks", globalRows, size)
	}
	local := globalRows / size
	return Partition{
		GlobalRows: globalRows,
		Columns:    cols,
		Rank:       rank,
		Size:       size,
		LocalRows:  local,
		RowOffset:  rank * local,
	}, nil
}

// GlobalRow maps a local row index to its global row index.
func (p Partition) GlobalRow(local int) int { return p.RowOffset + local }

// NeighborSet names the ranks adjacent to one partition.
type NeighborSet struct {
	HasUpper bool
	HasLower bool
	Upper    int
	Lower    int
}

// Neighbors returns the ranks directly above and below p. Upper or
// Lower are only meaningful when the matching Has flag is set.
func (p Partition) Neighbors() NeighborSet {
	return NeighborSet{
		HasUpper: p.Rank != 0,
		HasLower: p.Rank != p.Size-1,
		Upper:    p.Rank - 1,
		Lower:    p.Rank + 1,
	}
}
