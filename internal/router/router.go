// Package router picks a generation tier and a per-task spending cap
// from the complexity score and the current budget ledger snapshot.
//
// Routing is a pure decision: the router reads the ledger but never
// mutates it, and it never fails. When the relevant limit is already
// exhausted it returns a BudgetExceeded decision and the caller must
// treat the task as terminal without incurring further cost.
package router

import (
	"github.com/shopspring/decimal"

	"github.com/fernworks/mendd/internal/budget"
	"github.com/fernworks/mendd/internal/task"
)

// DecisionKind is the closed set of routing outcomes.
type DecisionKind string

const (
	// DecisionRoute assigns a tier and cap.
	DecisionRoute DecisionKind = "route"

	// DecisionBudgetExceeded means the session, daily, or per-feature
	// limit is exhausted and the task must fail without spending.
	DecisionBudgetExceeded DecisionKind = "budget_exceeded"
)

// Decision is the router's output for one task.
type Decision struct {
	Kind DecisionKind    `json:"kind"`
	Tier task.Tier       `json:"tier,omitempty"`
	Cap  decimal.Decimal `json:"cap"`

	// Score is the complexity score the decision was made on, after any
	// manual override.
	Score int `json:"score"`
}

// Config configures routing thresholds and caps.
type Config struct {
	// HardThreshold is the score at or above which the capable tier is
	// chosen.
	HardThreshold int

	// DefaultCap is the per-task spending cap for ordinary features.
	DefaultCap decimal.Decimal

	// CriticalCap is the higher per-task cap for critical-path features.
	CriticalCap decimal.Decimal
}

// DefaultConfig returns the default routing configuration.
func DefaultConfig() *Config {
	return &Config{
		HardThreshold: 5,
		DefaultCap:    decimal.NewFromFloat(0.50),
		CriticalCap:   decimal.NewFromFloat(1.00),
	}
}

// Router decides tier and cap for tasks.
type Router struct {
	config *Config
}

// New creates a router.
func New(cfg *Config) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Router{config: cfg}
}

// Request carries the inputs for one routing decision.
type Request struct {
	// Score is the complexity estimator's output.
	Score int

	// Override, when non-nil, bypasses the estimator with a manual
	// complexity value.
	Override *int

	// Feature is the feature identifier, matched against the ledger's
	// critical set for cap selection.
	Feature string
}

// Route makes a routing decision from the request and ledger snapshot.
func (r *Router) Route(req Request, snap budget.Snapshot) Decision {
	score := req.Score
	if req.Override != nil {
		score = *req.Override
	}

	if snap.Exhausted(req.Feature) {
		return Decision{
			Kind:  DecisionBudgetExceeded,
			Cap:   decimal.Zero,
			Score: score,
		}
	}

	var tier task.Tier
	switch {
	case score >= r.config.HardThreshold:
		tier = task.TierCapable
	default:
		tier = task.TierCheap
	}

	cap := r.config.DefaultCap
	if snap.IsCritical(req.Feature) {
		cap = r.config.CriticalCap
	}

	return Decision{
		Kind:  DecisionRoute,
		Tier:  tier,
		Cap:   cap,
		Score: score,
	}
}
