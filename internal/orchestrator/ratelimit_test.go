package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fernworks/mendd/internal/task"
)

func TestRateLimitNilLimiterIsPassthrough(t *testing.T) {
	gen := &scriptedGenerator{}
	assert.Same(t, task.Generator(gen), RateLimit(gen, nil))
}

func TestRateLimitDelegates(t *testing.T) {
	gen := &scriptedGenerator{
		generates: []task.GenerateResult{{Artifact: task.Artifact{ID: "a", Content: "s"}}},
		repairs:   []task.RepairResult{{Patch: task.Patch{Diff: "diff"}, Confidence: 0.9}},
	}
	limited := RateLimit(gen, rate.NewLimiter(rate.Inf, 1))

	out, err := limited.Generate(context.Background(), "desc", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", out.Artifact.ID)

	rep, err := limited.Repair(context.Background(), task.Artifact{}, task.ErrorContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, rep.Confidence)
}

func TestRateLimitCancelledContext(t *testing.T) {
	gen := &scriptedGenerator{}
	limited := RateLimit(gen, rate.NewLimiter(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limited.Generate(ctx, "desc", nil)
	require.Error(t, err)
	assert.Empty(t, gen.descriptions)
}
