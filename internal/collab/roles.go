package collab

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fernworks/mendd/internal/task"
)

// generatorClient talks to the generation service.
type generatorClient struct {
	*client
	baseURL string
}

type generateRequest struct {
	Description     string   `json:"description"`
	ContextPatterns []string `json:"context_patterns,omitempty"`
}

type generateResponse struct {
	Artifact task.Artifact   `json:"artifact"`
	Cost     decimal.Decimal `json:"cost"`
}

func (g *generatorClient) Generate(ctx context.Context, description string, contextPatterns []string) (task.GenerateResult, error) {
	var resp generateResponse
	err := g.post(ctx, "generator.generate", g.baseURL+"/generate", generateRequest{
		Description:     description,
		ContextPatterns: contextPatterns,
	}, &resp)
	if err != nil {
		return task.GenerateResult{}, err
	}
	if resp.Artifact.Content == "" {
		return task.GenerateResult{}, task.Structural("generator.generate", "empty artifact content")
	}
	return task.GenerateResult{Artifact: resp.Artifact, Cost: resp.Cost}, nil
}

type repairRequest struct {
	Artifact     task.Artifact     `json:"artifact"`
	ErrorContext task.ErrorContext `json:"error_context"`
	SimilarFixes []string          `json:"similar_fixes,omitempty"`
}

type repairResponse struct {
	Patch      task.Patch      `json:"patch"`
	Confidence float64         `json:"confidence"`
	Cost       decimal.Decimal `json:"cost"`
}

func (g *generatorClient) Repair(ctx context.Context, artifact task.Artifact, errCtx task.ErrorContext, similarFixes []string) (task.RepairResult, error) {
	var resp repairResponse
	err := g.post(ctx, "generator.repair", g.baseURL+"/repair", repairRequest{
		Artifact:     artifact,
		ErrorContext: errCtx,
		SimilarFixes: similarFixes,
	}, &resp)
	if err != nil {
		return task.RepairResult{}, err
	}
	if resp.Patch.Diff == "" {
		return task.RepairResult{}, task.Structural("generator.repair", "empty patch")
	}
	return task.RepairResult{Patch: resp.Patch, Confidence: resp.Confidence, Cost: resp.Cost}, nil
}

// executorClient talks to the sandbox executor.
type executorClient struct {
	*client
	baseURL string
}

type runRequest struct {
	Artifact task.Artifact `json:"artifact"`
}

type runResponse struct {
	Passed          bool            `json:"passed"`
	ErrorText       string          `json:"error_text,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	ScreenshotRefs  []string        `json:"screenshot_refs,omitempty"`
	Cost            decimal.Decimal `json:"cost"`
}

func (e *executorClient) Run(ctx context.Context, artifact task.Artifact) (task.ExecResult, error) {
	var resp runResponse
	if err := e.post(ctx, "executor.run", e.baseURL+"/run", runRequest{Artifact: artifact}, &resp); err != nil {
		return task.ExecResult{}, err
	}
	return task.ExecResult{
		Passed:         resp.Passed,
		ErrorText:      resp.ErrorText,
		ExecutionTime:  time.Duration(resp.ExecutionTimeMS) * time.Millisecond,
		ScreenshotRefs: resp.ScreenshotRefs,
		Cost:           resp.Cost,
	}, nil
}

// validatorClient talks to the browser validation service.
type validatorClient struct {
	*client
	baseURL string
}

func (v *validatorClient) Validate(ctx context.Context, artifact task.Artifact) (task.Rubric, error) {
	var rubric task.Rubric
	if err := v.post(ctx, "validator.validate", v.baseURL+"/validate", runRequest{Artifact: artifact}, &rubric); err != nil {
		return task.Rubric{}, err
	}
	return rubric, nil
}

// gateClient talks to the static inspection gate.
type gateClient struct {
	*client
	baseURL string
}

func (g *gateClient) Inspect(ctx context.Context, artifact task.Artifact) (task.GateResult, error) {
	var verdict task.GateResult
	if err := g.post(ctx, "gate.inspect", g.baseURL+"/inspect", runRequest{Artifact: artifact}, &verdict); err != nil {
		return task.GateResult{}, err
	}
	return verdict, nil
}

// suiteClient talks to the regression suite runner.
type suiteClient struct {
	*client
	baseURL string
}

type suiteResponse struct {
	FailingTests []string        `json:"failing_tests"`
	Cost         decimal.Decimal `json:"cost"`
}

func (s *suiteClient) FailingTests(ctx context.Context, artifact task.Artifact) ([]string, decimal.Decimal, error) {
	var resp suiteResponse
	if err := s.post(ctx, "suite.failing_tests", s.baseURL+"/failing-tests", runRequest{Artifact: artifact}, &resp); err != nil {
		return nil, decimal.Zero, err
	}
	return resp.FailingTests, resp.Cost, nil
}
