package escalation

import "time"

// Weights are the priority formula's coefficients. They must sum to 1.
type Weights struct {
	Attempts float64 `json:"attempts"`
	Cost     float64 `json:"cost"`
	Critical float64 `json:"critical"`
	Age      float64 `json:"age"`
}

// DefaultWeights returns the reference weights.
func DefaultWeights() Weights {
	return Weights{
		Attempts: 0.3,
		Cost:     0.2,
		Critical: 0.3,
		Age:      0.2,
	}
}

// PriorityInput carries the inputs to the priority formula.
type PriorityInput struct {
	Attempts    int
	MaxAttempts int
	CostSpent   float64
	CostCap     float64
	Critical    bool
	TimeInQueue time.Duration
	Window      time.Duration
}

// Priority computes the weighted priority score in [0,1]. Each term is
// clamped to [0,1] before weighting, so the score is monotonically
// non-decreasing in attempts, cost spent, and time in queue.
func Priority(w Weights, in PriorityInput) float64 {
	attempts := 0.0
	if in.MaxAttempts > 0 {
		attempts = clamp01(float64(in.Attempts) / float64(in.MaxAttempts))
	}

	cost := 0.0
	if in.CostCap > 0 {
		cost = clamp01(in.CostSpent / in.CostCap)
	}

	critical := 0.0
	if in.Critical {
		critical = 1.0
	}

	age := 0.0
	if in.Window > 0 {
		age = clamp01(in.TimeInQueue.Seconds() / in.Window.Seconds())
	}

	return w.Attempts*attempts + w.Cost*cost + w.Critical*critical + w.Age*age
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
