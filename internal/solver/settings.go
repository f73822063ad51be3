package solver

import (
	"fmt"

	"github.com/banshee-data/heatgrid/internal/config"
	"github.com/banshee-data/heatgrid/internal/grid"
)

// Settings are the immutable inputs of one run.
type Settings struct {
	GlobalRows     int
	Columns        int
	Threshold      float64
	MaxIterations  int
	PrintFrequency int
	Workers        int
	// InitialDelta seeds the global delta; it must exceed Threshold so the
	// loop body runs at least once.
	InitialDelta float64
	// Profile, when set, pins the rank count the run must use.
	Profile string
}

// SettingsFromConfig resolves a SolverConfig into Settings.
func SettingsFromConfig(cfg *config.SolverConfig) Settings {
	return Settings{
		GlobalRows:     cfg.GetGlobalRows(),
		Columns:        cfg.GetColumns(),
		Threshold:      cfg.GetThreshold(),
		MaxIterations:  cfg.GetMaxIterations(),
		PrintFrequency: cfg.GetPrintFrequency(),
		Workers:        cfg.GetWorkers(),
		InitialDelta:   config.InitialGlobalDelta,
		Profile:        cfg.GetProfile(),
	}
}

func (s Settings) validate(size int) error {
	if s.Profile != "" {
		p, ok := config.LookupProfile(s.Profile)
		if !ok {
			return fmt.Errorf("unknown profile %q", s.Profile)
		}
		if p.Ranks != size {
			return config.Fatalf(config.ErrProfileMismatch,
				"the %s version is meant to be run with %d ranks, not %d", p.Name, p.Ranks, size)
		}
	}
	if s.InitialDelta <= s.Threshold {
		return fmt.Errorf("initial delta %g must exceed threshold %g", s.InitialDelta, s.Threshold)
	}
	if s.PrintFrequency <= 0 {
		return fmt.Errorf("print frequency must be positive, got %d", s.PrintFrequency)
	}
	if s.MaxIterations < 0 {
		return fmt.Errorf("max iterations must be non-negative, got %d", s.MaxIterations)
	}
	return nil
}

// InitialiserFromConfig builds the grid initialiser named by cfg.
func InitialiserFromConfig(cfg *config.SolverConfig) grid.Initialiser {
	if cfg.GetBoundary() == config.BoundaryConstant {
		return grid.FieldInitialiser{Field: grid.Constant{
			Top:      cfg.GetBoundaryTop(),
			Bottom:   cfg.GetBoundaryBottom(),
			Left:     cfg.GetBoundaryLeft(),
			Right:    cfg.GetBoundaryRight(),
			Interior: cfg.GetInteriorSeed(),
		}}
	}
	return grid.FieldInitialiser{Field: grid.Ramp{Max: 100}}
}
