package task

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tk := New("verify the login page", "auth")

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "verify the login page", tk.Description)
	assert.Equal(t, "auth", tk.Feature)
	assert.Equal(t, StatusQueued, tk.Status)
	assert.True(t, tk.Cost.IsZero())
	assert.False(t, tk.BaselineCaptured)
	assert.WithinDuration(t, time.Now(), tk.CreatedAt, time.Minute)
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusResolved, StatusEscalated, StatusFailed}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "status %s", s)
	}

	active := []Status{
		StatusQueued, StatusGenerating, StatusGated,
		StatusExecuting, StatusValidating, StatusRepairing,
	}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "status %s", s)
	}
}

func TestAddCost(t *testing.T) {
	tk := New("t", "f")

	tk.AddCost(decimal.NewFromFloat(0.10))
	tk.AddCost(decimal.NewFromFloat(0.25))
	assert.True(t, tk.Cost.Equal(decimal.NewFromFloat(0.35)))

	// Negative and zero amounts never shrink the total.
	tk.AddCost(decimal.NewFromFloat(-1))
	tk.AddCost(decimal.Zero)
	assert.True(t, tk.Cost.Equal(decimal.NewFromFloat(0.35)))
}

func TestCaptureBaselineOnce(t *testing.T) {
	tk := New("t", "f")

	tk.CaptureBaseline([]string{"suite/a", "suite/b"})
	require.True(t, tk.BaselineCaptured)
	assert.Equal(t, []string{"suite/a", "suite/b"}, tk.Baseline)

	// A later, different suite result must not shift the reference.
	tk.CaptureBaseline([]string{"suite/c"})
	assert.Equal(t, []string{"suite/a", "suite/b"}, tk.Baseline)
}

func TestCaptureBaselineEmptyIsCaptured(t *testing.T) {
	tk := New("t", "f")

	tk.CaptureBaseline(nil)
	require.True(t, tk.BaselineCaptured)
	assert.Empty(t, tk.Baseline)

	tk.CaptureBaseline([]string{"suite/a"})
	assert.Empty(t, tk.Baseline)
}

func TestClone(t *testing.T) {
	tk := New("t", "f")
	tk.Artifact = &Artifact{ID: "a1", Content: "content"}
	tk.LogRefs = []string{"log/1"}
	tk.ScreenshotRefs = []string{"shot/1"}
	tk.CaptureBaseline([]string{"suite/a"})

	c := tk.Clone()
	require.Equal(t, tk.ID, c.ID)

	c.Artifact.Content = "mutated"
	c.LogRefs[0] = "mutated"
	c.ScreenshotRefs[0] = "mutated"
	c.Baseline[0] = "mutated"

	assert.Equal(t, "content", tk.Artifact.Content)
	assert.Equal(t, "log/1", tk.LogRefs[0])
	assert.Equal(t, "shot/1", tk.ScreenshotRefs[0])
	assert.Equal(t, "suite/a", tk.Baseline[0])
}

func TestRubricPasses(t *testing.T) {
	passing := Rubric{
		BrowserLaunched: true,
		Executed:        true,
		Passed:          true,
		ScreenshotCount: 2,
		ExecutionTimeMS: 12000,
	}
	assert.True(t, passing.Passes(45000))

	tests := []struct {
		name   string
		mutate func(*Rubric)
	}{
		{"browser not launched", func(r *Rubric) { r.BrowserLaunched = false }},
		{"not executed", func(r *Rubric) { r.Executed = false }},
		{"assertions failed", func(r *Rubric) { r.Passed = false }},
		{"no screenshots", func(r *Rubric) { r.ScreenshotCount = 0 }},
		{"over time ceiling", func(r *Rubric) { r.ExecutionTimeMS = 45001 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := passing
			tt.mutate(&r)
			assert.False(t, r.Passes(45000))
		})
	}

	t.Run("exactly at ceiling", func(t *testing.T) {
		r := passing
		r.ExecutionTimeMS = 45000
		assert.True(t, r.Passes(45000))
	})
}

func TestErrorContextSignature(t *testing.T) {
	a := ErrorContext{ErrorText: "timeout waiting for #submit"}
	b := ErrorContext{ErrorText: "timeout waiting for #submit", Logs: []string{"noise"}}
	c := ErrorContext{ErrorText: "element not found"}

	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
}
