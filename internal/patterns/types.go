package patterns

import "time"

// RootCause is the closed set of root-cause categories a reviewer can
// assign when resolving an escalation.
type RootCause string

const (
	RootCauseSelectorDrift  RootCause = "selector_drift"
	RootCauseTimingFlake    RootCause = "timing_flake"
	RootCauseDataDependency RootCause = "data_dependency"
	RootCauseEnvironment    RootCause = "environment"
	RootCauseLogicError     RootCause = "logic_error"
	RootCauseOther          RootCause = "other"
)

// Valid reports whether the root cause is a known category.
func (r RootCause) Valid() bool {
	switch r {
	case RootCauseSelectorDrift, RootCauseTimingFlake, RootCauseDataDependency,
		RootCauseEnvironment, RootCauseLogicError, RootCauseOther:
		return true
	}
	return false
}

// FixStrategy is the closed set of fix strategies.
type FixStrategy string

const (
	FixWaitForElement  FixStrategy = "wait_for_element"
	FixUpdateSelector  FixStrategy = "update_selector"
	FixUpdateAssertion FixStrategy = "update_assertion"
	FixAddRetry        FixStrategy = "add_retry"
	FixRegenerate      FixStrategy = "regenerate"
	FixManualPatch     FixStrategy = "manual_patch"
	FixOther           FixStrategy = "other"
)

// Valid reports whether the strategy is a known category.
func (f FixStrategy) Valid() bool {
	switch f {
	case FixWaitForElement, FixUpdateSelector, FixUpdateAssertion,
		FixAddRetry, FixRegenerate, FixManualPatch, FixOther:
		return true
	}
	return false
}

// Outcome classifies what happened to a repair attempt.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeEscalated  Outcome = "escalated"
)

// Attempt is one repair attempt's record, written on every attempt
// regardless of outcome.
type Attempt struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	ErrorSignature string    `json:"error_signature"`
	FixStrategy    string    `json:"fix_strategy"`
	Patch          string    `json:"patch,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// Annotation is a human reviewer's resolution record. Written once per
// resolution and never mutated afterwards.
type Annotation struct {
	RootCause   RootCause   `json:"root_cause"`
	FixStrategy FixStrategy `json:"fix_strategy"`
	Severity    string      `json:"severity"`
	Notes       string      `json:"notes,omitempty"`
	Patch       string      `json:"patch,omitempty"`
}

// SimilarFix is a historical fix returned by semantic search.
type SimilarFix struct {
	ID             string  `json:"id"`
	ErrorSignature string  `json:"error_signature"`
	FixStrategy    string  `json:"fix_strategy"`
	Patch          string  `json:"patch,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Score          float64 `json:"score"`
}
