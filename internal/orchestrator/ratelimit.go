package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/fernworks/mendd/internal/task"
)

// rateLimitedGenerator wraps a generator with a shared token-bucket
// limiter so concurrent workers cannot stampede the generation service.
type rateLimitedGenerator struct {
	inner   task.Generator
	limiter *rate.Limiter
}

// RateLimit wraps a generator with the limiter. Share one wrapped
// generator between the engine and the repair loop so generation and
// repair calls draw from the same bucket. A nil limiter is a no-op.
func RateLimit(inner task.Generator, limiter *rate.Limiter) task.Generator {
	if limiter == nil {
		return inner
	}
	return &rateLimitedGenerator{inner: inner, limiter: limiter}
}

func (g *rateLimitedGenerator) Generate(ctx context.Context, description string, contextPatterns []string) (task.GenerateResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return task.GenerateResult{}, fmt.Errorf("waiting for generation slot: %w", err)
	}
	return g.inner.Generate(ctx, description, contextPatterns)
}

func (g *rateLimitedGenerator) Repair(ctx context.Context, artifact task.Artifact, errCtx task.ErrorContext, similarFixes []string) (task.RepairResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return task.RepairResult{}, fmt.Errorf("waiting for generation slot: %w", err)
	}
	return g.inner.Repair(ctx, artifact, errCtx, similarFixes)
}
