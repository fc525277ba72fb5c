package escalation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fernworks/mendd/internal/patterns"
	"github.com/fernworks/mendd/internal/task"
)

// Severity indicates how urgently a reviewer should look at an entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is one escalated task awaiting (or holding) a human resolution.
// Readers never observe a partially-built entry; the queue only publishes
// entries after they are fully constructed.
type Entry struct {
	// TaskID references the originating task.
	TaskID string `json:"task_id"`

	// Priority is the reviewer-facing score in [0,1], computed at
	// enqueue time.
	Priority float64 `json:"priority"`

	// Severity is derived from the feature's criticality and the
	// escalation reason.
	Severity Severity `json:"severity"`

	// Reason is why automated repair gave up. Always non-empty.
	Reason task.Reason `json:"reason"`

	// Diagnosis is the engine's summary of the failure.
	Diagnosis string `json:"diagnosis"`

	// Confidence is the generator's confidence on the last attempt.
	Confidence float64 `json:"confidence"`

	// Attempts and MaxAttempts record the retry history.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// CostSpent and CostCap record the task's spend against its cap.
	CostSpent decimal.Decimal `json:"cost_spent"`
	CostCap   decimal.Decimal `json:"cost_cap"`

	// Feature and Critical describe the originating feature.
	Feature  string `json:"feature"`
	Critical bool   `json:"critical"`

	// ArtifactRef, LogRefs, and ScreenshotRefs point at the evidence.
	ArtifactRef    string   `json:"artifact_ref,omitempty"`
	LogRefs        []string `json:"log_refs,omitempty"`
	ScreenshotRefs []string `json:"screenshot_refs,omitempty"`

	// AttemptRef is the pattern-store ID of the last fix attempt, used
	// to reinforce the pattern when the entry is resolved.
	AttemptRef string `json:"attempt_ref,omitempty"`

	// Resolved marks the entry as handled; ResolvedAt records when.
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Annotation is the reviewer's resolution, once supplied.
	Annotation *patterns.Annotation `json:"annotation,omitempty"`

	// EnqueuedAt is when the entry entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// clone returns a deep-enough copy for handing to readers.
func (e *Entry) clone() *Entry {
	out := *e
	out.LogRefs = append([]string(nil), e.LogRefs...)
	out.ScreenshotRefs = append([]string(nil), e.ScreenshotRefs...)
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		out.ResolvedAt = &t
	}
	if e.Annotation != nil {
		a := *e.Annotation
		out.Annotation = &a
	}
	return &out
}

// Filter narrows List results.
type Filter struct {
	// Resolved, when non-nil, keeps only entries with a matching
	// resolved flag.
	Resolved *bool

	// Recompute applies priority aging at read time instead of
	// returning the enqueue-time score.
	Recompute bool
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// Stats are the aggregate queue statistics.
type Stats struct {
	Total           int     `json:"total"`
	Unresolved      int     `json:"unresolved"`
	Resolved        int     `json:"resolved"`
	AveragePriority float64 `json:"average_priority"`
	HighPriority    int     `json:"high_priority"`
}
