// Package config loads and validates the solver configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the canonical solver defaults file.
const DefaultConfigPath = "config/solver.defaults.json"

// InitialGlobalDelta seeds the global delta before the first iteration.
// It must exceed any sensible threshold so the loop body runs at least once.
const InitialGlobalDelta = 100.0

// Boundary kinds accepted by the "boundary" key.
const (
	BoundaryRamp     = "ramp"
	BoundaryConstant = "constant"
)

// SolverConfig represents the root configuration for a relaxation run.
// Every field is optional; the Get* accessors supply defaults, so partial
// files are safe.
type SolverConfig struct {
	// Deployment
	Profile      *string `json:"profile,omitempty"`
	ProcessCount *int    `json:"process_count,omitempty"`
	Workers      *int    `json:"workers,omitempty"`

	// Grid shape
	GlobalRows *int `json:"global_rows,omitempty"`
	Columns    *int `json:"columns,omitempty"`

	// Stopping policy
	Threshold     *float64 `json:"threshold,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`

	// Reporting
	PrintFrequency *int `json:"print_frequency,omitempty"`
	HistoryEvery   *int `json:"history_every,omitempty"` // sample interval for the run store

	// Boundary conditions
	Boundary       *string  `json:"boundary,omitempty"` // "ramp" or "constant"
	BoundaryTop    *float64 `json:"boundary_top,omitempty"`
	BoundaryBottom *float64 `json:"boundary_bottom,omitempty"`
	BoundaryLeft   *float64 `json:"boundary_left,omitempty"`
	BoundaryRight  *float64 `json:"boundary_right,omitempty"`
	InteriorSeed   *float64 `json:"interior_seed,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// PtrInt, PtrFloat64 and PtrString let callers outside the package build
// overrides (for example from command-line flags).
func PtrInt(v int) *int             { return ptrInt(v) }
func PtrFloat64(v float64) *float64 { return ptrFloat64(v) }
func PtrString(v string) *string    { return ptrString(v) }

// EmptySolverConfig returns a SolverConfig with all fields set to nil.
func EmptySolverConfig() *SolverConfig {
	return &SolverConfig{}
}

// LoadSolverConfig loads a SolverConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadSolverConfig(path string) (*SolverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySolverConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SolverConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/comm/grpcnet/
	}
	for _, path := range candidates {
		if cfg, err := LoadSolverConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Merge copies every non-nil field of o over c.
func (c *SolverConfig) Merge(o *SolverConfig) {
	if o == nil {
		return
	}
	if o.Profile != nil {
		c.Profile = o.Profile
	}
	if o.ProcessCount != nil {
		c.ProcessCount = o.ProcessCount
	}
	if o.Workers != nil {
		c.Workers = o.Workers
	}
	if o.GlobalRows != nil {
		c.GlobalRows = o.GlobalRows
	}
	if o.Columns != nil {
		c.Columns = o.Columns
	}
	if o.Threshold != nil {
		c.Threshold = o.Threshold
	}
	if o.MaxIterations != nil {
		c.MaxIterations = o.MaxIterations
	}
	if o.PrintFrequency != nil {
		c.PrintFrequency = o.PrintFrequency
	}
	if o.HistoryEvery != nil {
		c.HistoryEvery = o.HistoryEvery
	}
	if o.Boundary != nil {
		c.Boundary = o.Boundary
	}
	if o.BoundaryTop != nil {
		c.BoundaryTop = o.BoundaryTop
	}
	if o.BoundaryBottom != nil {
		c.BoundaryBottom = o.BoundaryBottom
	}
	if o.BoundaryLeft != nil {
		c.BoundaryLeft = o.BoundaryLeft
	}
	if o.BoundaryRight != nil {
		c.BoundaryRight = o.BoundaryRight
	}
	if o.InteriorSeed != nil {
		c.InteriorSeed = o.InteriorSeed
	}
}

// Validate checks that the configuration values are valid on their own.
// Checks that depend on the actual rank count live in ValidateWorld.
func (c *SolverConfig) Validate() error {
	if c.Profile != nil && *c.Profile != "" {
		if _, ok := LookupProfile(*c.Profile); !ok {
			return fmt.Errorf("unknown profile %q (known: %v)", *c.Profile, ProfileNames())
		}
	}
	if c.GlobalRows != nil && *c.GlobalRows < 1 {
		return fmt.Errorf("global_rows must be positive, got %d", *c.GlobalRows)
	}
	if c.Columns != nil && *c.Columns < 1 {
		return fmt.Errorf("columns must be positive, got %d", *c.Columns)
	}
	if c.ProcessCount != nil && *c.ProcessCount < 1 {
		return fmt.Errorf("process_count must be positive, got %d", *c.ProcessCount)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", *c.Workers)
	}
	if c.Threshold != nil && *c.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative, got %g", *c.Threshold)
	}
	if c.Threshold != nil && *c.Threshold >= InitialGlobalDelta {
		return fmt.Errorf("threshold must be below the initial delta %g, got %g", InitialGlobalDelta, *c.Threshold)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative, got %d", *c.MaxIterations)
	}
	if c.PrintFrequency != nil && *c.PrintFrequency < 1 {
		return fmt.Errorf("print_frequency must be positive, got %d", *c.PrintFrequency)
	}
	if c.HistoryEvery != nil && *c.HistoryEvery < 1 {
		return fmt.Errorf("history_every must be positive, got %d", *c.HistoryEvery)
	}
	if c.Boundary != nil {
		switch *c.Boundary {
		case "", BoundaryRamp, BoundaryConstant:
		default:
			return fmt.Errorf("boundary must be %q or %q, got %q", BoundaryRamp, BoundaryConstant, *c.Boundary)
		}
	}
	if c.ProcessCount != nil && c.GetGlobalRows()%*c.ProcessCount != 0 {
		return Fatalf(ErrUnevenRows, "%d global rows cannot be split evenly across %d ranks",
			c.GetGlobalRows(), *c.ProcessCount)
	}
	return nil
}

// ValidateWorld checks the configuration against the rank count the run
// actually started with. Every failure is a *FatalError.
func (c *SolverConfig) ValidateWorld(size int) error {
	if p, ok := c.profile(); ok && size != p.Ranks {
		return Fatalf(ErrProfileMismatch, "the %s version is meant to be run with %d ranks, not %d",
			p.Name, p.Ranks, size)
	}
	if c.ProcessCount != nil && *c.ProcessCount != size {
		return Fatalf(ErrProfileMismatch, "configuration was sized for %d ranks, not %d",
			*c.ProcessCount, size)
	}
	if size < 1 || c.GetGlobalRows()%size != 0 {
		return Fatalf(ErrUnevenRows, "%d global rows cannot be split evenly across %d ranks",
			c.GetGlobalRows(), size)
	}
	return nil
}

func (c *SolverConfig) profile() (Profile, bool) {
	if c.Profile == nil || *c.Profile == "" {
		return Profile{}, false
	}
	return LookupProfile(*c.Profile)
}

// GetProfile returns the profile name or "" when none is set.
func (c *SolverConfig) GetProfile() string {
	if c.Profile == nil {
		return ""
	}
	return *c.Profile
}

// GetGlobalRows returns global_rows, the profile's row count, or the default.
func (c *SolverConfig) GetGlobalRows() int {
	if c.GlobalRows != nil {
		return *c.GlobalRows
	}
	if p, ok := c.profile(); ok {
		return p.GlobalRows
	}
	return 1000
}

// GetColumns returns columns, the profile's column count, or the default.
func (c *SolverConfig) GetColumns() int {
	if c.Columns != nil {
		return *c.Columns
	}
	if p, ok := c.profile(); ok {
		return p.Columns
	}
	return 1000
}

// GetProcessCount returns process_count, the profile's rank count, or 1.
func (c *SolverConfig) GetProcessCount() int {
	if c.ProcessCount != nil {
		return *c.ProcessCount
	}
	if p, ok := c.profile(); ok {
		return p.Ranks
	}
	return 1
}

// GetWorkers returns the per-rank goroutine budget. Two is the floor: one
// for the boundary task and at least one for the interior.
func (c *SolverConfig) GetWorkers() int {
	w := runtime.NumCPU()
	if c.Workers != nil {
		w = *c.Workers
	}
	if w < 2 {
		return 2
	}
	return w
}

// GetThreshold returns the convergence threshold or the default.
func (c *SolverConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return 0.01
	}
	return *c.Threshold
}

// GetMaxIterations returns the iteration cap or the default.
func (c *SolverConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 4000
	}
	return *c.MaxIterations
}

// GetPrintFrequency returns the progress interval or the default.
func (c *SolverConfig) GetPrintFrequency() int {
	if c.PrintFrequency == nil {
		return 100
	}
	return *c.PrintFrequency
}

// GetHistoryEvery returns the delta sampling interval or the default.
func (c *SolverConfig) GetHistoryEvery() int {
	if c.HistoryEvery == nil {
		return 10
	}
	return *c.HistoryEvery
}

// GetBoundary returns the boundary kind or the default ramp.
func (c *SolverConfig) GetBoundary() string {
	if c.Boundary == nil || *c.Boundary == "" {
		return BoundaryRamp
	}
	return *c.Boundary
}

// GetBoundaryTop returns the top edge temperature or the default.
func (c *SolverConfig) GetBoundaryTop() float64 {
	if c.BoundaryTop == nil {
		return 0
	}
	return *c.BoundaryTop
}

// GetBoundaryBottom returns the bottom edge temperature or the default.
func (c *SolverConfig) GetBoundaryBottom() float64 {
	if c.BoundaryBottom == nil {
		return 100
	}
	return *c.BoundaryBottom
}

// GetBoundaryLeft returns the left edge temperature or the default.
func (c *SolverConfig) GetBoundaryLeft() float64 {
	if c.BoundaryLeft == nil {
		return 0
	}
	return *c.BoundaryLeft
}

// GetBoundaryRight returns the right edge temperature or the default.
func (c *SolverConfig) GetBoundaryRight() float64 {
	if c.BoundaryRight == nil {
		return 100
	}
	return *c.BoundaryRight
}

// GetInteriorSeed returns the starting interior temperature or the default.
func (c *SolverConfig) GetInteriorSeed() float64 {
	if c.InteriorSeed == nil {
		return 0
	}
	return *c.InteriorSeed
}
