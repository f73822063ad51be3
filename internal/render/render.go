// Package render draws PNG plots of a finished run: the convergence curve
// and a heat map of the gathered temperature grid.
package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/heatgrid/internal/solver"
)

const (
	convergenceFile = "convergence.png"
	heatMapFile     = "temperature.png"
)

// Files lists the paths written by WriteAll.
type Files struct {
	Convergence string
	HeatMap     string
}

// WriteAll renders both plots into dir, creating it if needed.
func WriteAll(dir string, samples []solver.Sample, global *mat.Dense) (Files, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Files{}, fmt.Errorf("failed to create plot dir: %w", err)
	}
	files := Files{
		Convergence: filepath.Join(dir, convergenceFile),
		HeatMap:     filepath.Join(dir, heatMapFile),
	}
	if err := SaveConvergence(samples, files.Convergence); err != nil {
		return Files{}, err
	}
	if err := SaveHeatMap(global, files.HeatMap); err != nil {
		return Files{}, err
	}
	return files, nil
}

// SaveConvergence plots global delta against iteration. The y axis is
// logarithmic when every sample is positive.
func SaveConvergence(samples []solver.Sample, path string) error {
	if len(samples) == 0 {
		return fmt.Errorf("no convergence samples to plot")
	}

	p := plot.New()
	p.Title.Text = "Convergence"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Global max |Δ|"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(samples))
	positive := true
	for _, s := range samples {
		pts = append(pts, plotter.XY{X: float64(s.Iteration), Y: s.GlobalDelta})
		if s.GlobalDelta <= 0 {
			positive = false
		}
	}
	if positive {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create convergence line: %w", err)
	}
	line.Color = color.RGBA{R: 200, G: 60, B: 40, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save convergence plot: %w", err)
	}
	return nil
}

// gridXYZ adapts a temperature matrix to plotter.GridXYZ with row 0 at
// the top of the image.
type gridXYZ struct {
	m *mat.Dense
}

func (g gridXYZ) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g gridXYZ) Z(c, r int) float64 {
	rows, _ := g.m.Dims()
	return g.m.At(rows-1-r, c)
}

func (g gridXYZ) X(c int) float64 { return float64(c) }
func (g gridXYZ) Y(r int) float64 { return float64(r) }

// SaveHeatMap renders the full grid, boundary included.
func SaveHeatMap(m *mat.Dense, path string) error {
	if m == nil {
		return fmt.Errorf("no grid to plot")
	}
	rows, cols := m.Dims()
	if rows < 2 || cols < 2 {
		return fmt.Errorf("grid %dx%d too small for a heat map", rows, cols)
	}

	pal := moreland.SmoothBlueRed().Palette(255)
	hm := plotter.NewHeatMap(gridXYZ{m: m}, pal)
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Temperature (%dx%d)", rows-2, cols-2)
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row (from bottom)"
	p.Add(hm)

	side := vg.Length(8) * vg.Inch
	if err := p.Save(side, side*vg.Length(rows)/vg.Length(cols), path); err != nil {
		return fmt.Errorf("failed to save heat map: %w", err)
	}
	return nil
}
