package solver

import "sync"

// Sample is one recorded point of the convergence curve.
type Sample struct {
	Iteration   int
	GlobalDelta float64
}

// History is an Observer that keeps every Every-th iteration's global
// delta plus the final one.
type History struct {
	Every int

	mu      sync.Mutex
	samples []Sample
}

// NewHistory returns a History sampling every n iterations (n < 1 keeps
// every iteration).
func NewHistory(n int) *History {
	return &History{Every: max(1, n)}
}

// ObserveIteration implements Observer.
func (h *History) ObserveIteration(s IterationState) {
	every := max(1, h.Every)
	if s.Iteration%every != 0 && s.State == Running {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, Sample{Iteration: s.Iteration, GlobalDelta: s.GlobalDelta})
}

// Samples returns a copy of the recorded points in iteration order.
func (h *History) Samples() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}
