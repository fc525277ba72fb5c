package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is the generation-capability class selected by the router.
type Tier string

const (
	// TierCheap routes generation to the inexpensive model tier.
	TierCheap Tier = "cheap"

	// TierCapable routes generation to the capable model tier.
	TierCapable Tier = "capable"
)

// Status represents a task's position in its lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusGated      Status = "gated"
	StatusExecuting  Status = "executing"
	StatusValidating Status = "validating"
	StatusRepairing  Status = "repairing"
	StatusResolved   Status = "resolved"
	StatusEscalated  Status = "escalated"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status ends the task's lifecycle.
// A terminal task is read-only from then on.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusEscalated, StatusFailed:
		return true
	}
	return false
}

// Reason classifies why a task left the automated path.
type Reason string

const (
	ReasonLowConfidence      Reason = "low_confidence"
	ReasonRegressionDetected Reason = "regression_detected"
	ReasonMaxRetriesExceeded Reason = "max_retries_exceeded"
	ReasonBudgetExceeded     Reason = "budget_exceeded"
	ReasonCancelled          Reason = "cancelled"
)

// Task is a single unit of work driven by the orchestrator, from intake
// through generation, execution, validation, repair, and escalation.
// The orchestrator owns the struct exclusively while the task is active.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`

	// Description is the free-text statement of what to author or fix.
	Description string `json:"description"`

	// Feature identifies the product feature this task belongs to.
	// Used for per-feature budgeting and critical-path routing.
	Feature string `json:"feature"`

	// ComplexityScore is the estimator's score for Description.
	ComplexityScore int `json:"complexity_score"`

	// Tier is the generation tier assigned by the router.
	Tier Tier `json:"tier"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Reason is set when the task reaches Failed or Escalated.
	Reason Reason `json:"reason,omitempty"`

	// Attempts counts generation and repair retries. It never exceeds the
	// configured maximum before the task succeeds or escalates.
	Attempts int `json:"attempts"`

	// Cost is the accumulated spend for this task in currency units.
	Cost decimal.Decimal `json:"cost"`

	// Cap is the per-task spending cap assigned by the router.
	Cap decimal.Decimal `json:"cap"`

	// Artifact holds the current candidate artifact, if any.
	Artifact *Artifact `json:"artifact,omitempty"`

	// LogRefs are references to logs produced while driving the task.
	LogRefs []string `json:"log_refs,omitempty"`

	// ScreenshotRefs are references to screenshots from the most recent
	// execution or validation run.
	ScreenshotRefs []string `json:"screenshot_refs,omitempty"`

	// HITLRef is the escalation entry reference, set when Status is Escalated.
	HITLRef string `json:"hitl_ref,omitempty"`

	// Baseline is the regression baseline: the set of test IDs already
	// failing before the first repair attempt. Captured at most once per
	// task and never recaptured afterwards.
	Baseline []string `json:"baseline,omitempty"`

	// BaselineCaptured records whether Baseline has been taken. A captured
	// empty baseline is distinct from an uncaptured one.
	BaselineCaptured bool `json:"baseline_captured"`

	// CreatedAt is when the task was accepted.
	CreatedAt time.Time `json:"created_at"`
}

// New creates a queued task for the given description and feature.
func New(description, feature string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Feature:     feature,
		Status:      StatusQueued,
		Cost:        decimal.Zero,
		CreatedAt:   time.Now(),
	}
}

// AddCost accumulates spend onto the task. Costs only grow.
func (t *Task) AddCost(amount decimal.Decimal) {
	if amount.Sign() > 0 {
		t.Cost = t.Cost.Add(amount)
	}
}

// CaptureBaseline records the regression baseline exactly once.
// Subsequent calls are ignored so a flaky suite cannot shift the
// reference point mid-task.
func (t *Task) CaptureBaseline(failing []string) {
	if t.BaselineCaptured {
		return
	}
	t.Baseline = append([]string(nil), failing...)
	t.BaselineCaptured = true
}

// Clone returns a deep copy safe to hand across goroutines while the
// original is still being driven.
func (t *Task) Clone() *Task {
	out := *t
	out.LogRefs = append([]string(nil), t.LogRefs...)
	out.ScreenshotRefs = append([]string(nil), t.ScreenshotRefs...)
	out.Baseline = append([]string(nil), t.Baseline...)
	if t.Artifact != nil {
		a := *t.Artifact
		out.Artifact = &a
	}
	return &out
}

// TransitionRecord is the immutable lifecycle record emitted on every
// state transition. Consumers must not mutate it.
type TransitionRecord struct {
	TaskID   string    `json:"task_id"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Reason   Reason    `json:"reason,omitempty"`
	Note     string    `json:"note,omitempty"`
	Attempts int       `json:"attempts"`
	Cost     string    `json:"cost"`
	At       time.Time `json:"at"`
}
