package solver

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/heatgrid/internal/comm"
	"github.com/banshee-data/heatgrid/internal/grid"
)

// Gather assembles the full (GlobalRows+2) x (Columns+2) grid, fixed
// boundary included, on rank 0 from every rank's Previous generation.
// Every rank must call it; ranks other than 0 get a nil matrix.
func Gather(ctx context.Context, c comm.Communicator, g *grid.LocalGrid) (*mat.Dense, error) {
	p := g.Partition
	width := p.Columns + 2
	counts := make([]int, p.Size)
	for r := range counts {
		counts[r] = p.LocalRows * width
		if r == 0 {
			counts[r] += width
		}
		if r == p.Size-1 {
			counts[r] += width
		}
	}

	first, last := 1, p.LocalRows
	if p.Rank == 0 {
		first = 0
	}
	if p.Rank == p.Size-1 {
		last = p.LocalRows + 1
	}
	send := grid.CopyRows(g.Previous, first, last)

	parts, err := comm.Gatherv(ctx, c, 0, send, counts).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("gathering grid: %w", err)
	}
	if parts == nil {
		return nil, nil
	}
	data := make([]float64, 0, (p.GlobalRows+2)*width)
	for _, part := range parts {
		data = append(data, part...)
	}
	return mat.NewDense(p.GlobalRows+2, width, data), nil
}

// GatherVerification moves the verification cell of rank Size-2 to rank
// 0. Every rank must call it. Rank 0 gets the cell, other ranks and
// single-rank runs get nil.
func GatherVerification(ctx context.Context, c comm.Communicator, g *grid.LocalGrid) (*VerificationCell, error) {
	size := c.Size()
	if size < 2 {
		return nil, nil
	}
	owner := size - 2
	counts := make([]int, size)
	counts[owner] = 4
	var send []float64
	if c.Rank() == owner {
		v := Verify(g)
		send = []float64{float64(v.Rank), float64(v.Row), float64(v.Column), v.Value}
	}

	parts, err := comm.Gatherv(ctx, c, 0, send, counts).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("gathering verification cell: %w", err)
	}
	if parts == nil {
		return nil, nil
	}
	cell := parts[owner]
	return &VerificationCell{
		Rank:   int(cell[0]),
		Row:    int(cell[1]),
		Column: int(cell[2]),
		Value:  cell[3],
	}, nil
}
