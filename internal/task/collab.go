package task

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Artifact is a generated work product, typically an automated test script.
type Artifact struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Patch is a candidate fix produced by the generator's repair call,
// expressed as unified-diff style patch text.
type Patch struct {
	Diff string `json:"diff"`
}

// ErrorContext carries the failure evidence handed to the repair loop.
type ErrorContext struct {
	ErrorText string   `json:"error_text"`
	Logs      []string `json:"logs,omitempty"`
}

// Signature is the searchable form of the failure, used to retrieve
// similar historical fixes from the pattern store.
func (e ErrorContext) Signature() string {
	return e.ErrorText
}

// ExecResult is the executor's report for a single artifact run.
type ExecResult struct {
	Passed         bool            `json:"passed"`
	ErrorText      string          `json:"error_text,omitempty"`
	ExecutionTime  time.Duration   `json:"execution_time"`
	ScreenshotRefs []string        `json:"screenshot_refs,omitempty"`
	Cost           decimal.Decimal `json:"cost"`
}

// Rubric is the validator's structured pass/fail report.
type Rubric struct {
	BrowserLaunched bool `json:"browser_launched"`
	Executed        bool `json:"executed"`
	Passed          bool `json:"passed"`
	ScreenshotCount int  `json:"screenshot_count"`
	ExecutionTimeMS int  `json:"execution_time_ms"`

	// ScreenshotRefs point at the screenshots behind ScreenshotCount.
	ScreenshotRefs []string `json:"screenshot_refs,omitempty"`

	// ConsoleErrors and NetworkFailures are advisory only and never
	// block a pass.
	ConsoleErrors   []string `json:"console_errors,omitempty"`
	NetworkFailures []string `json:"network_failures,omitempty"`
}

// Passes reports whether the rubric meets the blocking criteria:
// browser launched, executed, passed, at least one screenshot, and
// execution time at or under the ceiling.
func (r Rubric) Passes(ceilingMS int) bool {
	return r.BrowserLaunched &&
		r.Executed &&
		r.Passed &&
		r.ScreenshotCount >= 1 &&
		r.ExecutionTimeMS <= ceilingMS
}

// GenerateResult is the generator's answer to a generation request.
type GenerateResult struct {
	Artifact Artifact
	Cost     decimal.Decimal
}

// RepairResult is the generator's answer to a repair request.
type RepairResult struct {
	Patch      Patch
	Confidence float64
	Cost       decimal.Decimal
}

// Generator produces artifacts and candidate fixes. Backed by an LLM
// service; may fail with a transient error (network, timeout) or a
// structural error (malformed output).
type Generator interface {
	Generate(ctx context.Context, description string, contextPatterns []string) (GenerateResult, error)
	Repair(ctx context.Context, artifact Artifact, errCtx ErrorContext, similarFixes []string) (RepairResult, error)
}

// Executor runs a generated artifact and reports pass/fail.
type Executor interface {
	Run(ctx context.Context, artifact Artifact) (ExecResult, error)
}

// Validator replays an artifact in a real execution environment and
// returns the structured rubric.
type Validator interface {
	Validate(ctx context.Context, artifact Artifact) (Rubric, error)
}

// GateResult is the static gate's verdict on a candidate artifact.
type GateResult struct {
	Accepted bool   `json:"accepted"`
	Feedback string `json:"feedback,omitempty"`
}

// Gate is the cheap static check applied to candidate artifacts before
// execution. Rejections carry feedback for the next generation attempt.
type Gate interface {
	Inspect(ctx context.Context, artifact Artifact) (GateResult, error)
}

// RegressionSuite runs the full regression set and reports the IDs of
// failing tests, used to capture the baseline and to detect new failures
// introduced by a candidate fix.
type RegressionSuite interface {
	FailingTests(ctx context.Context, artifact Artifact) ([]string, decimal.Decimal, error)
}
