package grid

import (
	"gonum.org/v1/gonum/mat"
)

// LocalGrid holds the two generations of one rank's band. Both matrices
// have LocalRows+2 rows and Columns+2 columns; the outer ring is halo or
// fixed boundary.
type LocalGrid struct {
	Partition Partition
	// Current receives the values computed this iteration.
	Current *mat.Dense
	// Previous holds last iteration's values, which the stencil reads.
	Previous *mat.Dense
}

// NewLocalGrid allocates zeroed storage for p.
func NewLocalGrid(p Partition) *LocalGrid {
	r, c := p.LocalRows+2, p.Columns+2
	return &LocalGrid{
		Partition: p,
		Current:   mat.NewDense(r, c, nil),
		Previous:  mat.NewDense(r, c, nil),
	}
}

// LocalRows returns the number of rows this rank updates.
func (g *LocalGrid) LocalRows() int { return g.Partition.LocalRows }

// Cols returns the number of updated columns.
func (g *LocalGrid) Cols() int { return g.Partition.Columns }

// Row returns row i of m including both boundary columns. The slice
// aliases m.
func Row(m *mat.Dense, i int) []float64 {
	return m.RawRowView(i)
}

// Span returns columns 1..cols of row i of m, the part of a row that
// travels in a halo message. The slice aliases m.
func Span(m *mat.Dense, i int) []float64 {
	row := m.RawRowView(i)
	return row[1 : len(row)-1]
}

// Cell returns Current[i][j] in local coordinates.
func (g *LocalGrid) Cell(i, j int) float64 {
	return g.Current.At(i, j)
}

// CopyRows copies rows first..last of m (all columns) into a flat slice,
// the layout used when gathering the global grid.
func CopyRows(m *mat.Dense, first, last int) []float64 {
	_, c := m.Dims()
	out := make([]float64, 0, max(0, last-first+1)*c)
	for i := first; i <= last; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// Initialiser fills a freshly allocated grid before the first iteration.
type Initialiser interface {
	Initialise(g *LocalGrid)
}

// FieldInitialiser evaluates a global Field at every cell of both
// generations, halo rows included, so neighbouring bands start
// consistent with each other.
type FieldInitialiser struct {
	Field Field
}

// Initialise implements Initialiser.
func (fi FieldInitialiser) Initialise(g *LocalGrid) {
	p := g.Partition
	for i := 0; i <= p.LocalRows+1; i++ {
		gi := p.GlobalRow(i)
		cur := g.Current.RawRowView(i)
		prev := g.Previous.RawRowView(i)
		for j := range cur {
			v := fi.Field.At(gi, j, p.GlobalRows, p.Columns)
			cur[j] = v
			prev[j] = v
		}
	}
}
