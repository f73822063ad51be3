package grid

// Field gives the initial temperature at global cell (i, j) of a grid
// with globalRows updated rows and cols updated columns. Row 0, row
// globalRows+1, column 0 and column cols+1 are the fixed boundary.
type Field interface {
	At(i, j, globalRows, cols int) float64
}

// Constant holds each edge at a fixed temperature and seeds the interior
// with a single value. The top and bottom rows own the corners.
type Constant struct {
	Top, Bottom, Left, Right float64
	Interior                 float64
}

func (c Constant) At(i, j, globalRows, cols int) float64 {
	switch {
	case i == 0:
		return c.Top
	case i == globalRows+1:
		return c.Bottom
	case j == 0:
		return c.Left
	case j == cols+1:
		return c.Right
	}
	return c.Interior
}

// Ramp is the classic plate: top and left edges at zero, the right
// column and bottom row rising linearly from zero to Max, interior zero.
type Ramp struct {
	Max float64
}

func (r Ramp) At(i, j, globalRows, cols int) float64 {
	switch {
	case i == globalRows+1:
		return r.Max * float64(j) / float64(cols+1)
	case j == cols+1:
		return r.Max * float64(i) / float64(globalRows+1)
	}
	return 0
}

// Func adapts a plain function to Field.
type Func func(i, j, globalRows, cols int) float64

func (f Func) At(i, j, globalRows, cols int) float64 { return f(i, j, globalRows, cols) }
