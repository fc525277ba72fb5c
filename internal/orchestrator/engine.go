package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/budget"
	"github.com/fernworks/mendd/internal/complexity"
	"github.com/fernworks/mendd/internal/escalation"
	"github.com/fernworks/mendd/internal/patterns"
	"github.com/fernworks/mendd/internal/repair"
	"github.com/fernworks/mendd/internal/retry"
	"github.com/fernworks/mendd/internal/router"
	"github.com/fernworks/mendd/internal/task"
)

const instrumentationName = "github.com/fernworks/mendd/internal/orchestrator"

// timeNow is a variable so tests can control the clock.
var timeNow = time.Now

// StateStore is the slice of persistence the engine needs. Satisfied by
// the JetStream state store; nil disables write-through.
type StateStore interface {
	PutTask(ctx context.Context, t *task.Task) error
	PublishTransition(ctx context.Context, rec task.TransitionRecord)
}

// EngineConfig configures the task lifecycle.
type EngineConfig struct {
	// RubricCeilingMS is the validation execution-time ceiling in
	// milliseconds (default: 45000).
	RubricCeilingMS int

	// GateMaxRetries bounds regenerations after static-gate rejections
	// (default: 2).
	GateMaxRetries int

	// ContextPatternLimit is how many historical patterns to hand the
	// generator as context (default: 3).
	ContextPatternLimit int

	// Retry bounds transient-failure retries on collaborator calls.
	Retry retry.Config
}

// DefaultEngineConfig returns the reference configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		RubricCeilingMS:     45000,
		GateMaxRetries:      2,
		ContextPatternLimit: 3,
		Retry:               retry.DefaultConfig(),
	}
}

// Engine drives a single task through the full lifecycle. It is safe
// for concurrent use; each call to Run must own its task exclusively.
type Engine struct {
	config    *EngineConfig
	estimator *complexity.Estimator
	router    *router.Router
	ledger    *budget.Ledger
	generator task.Generator
	gate      task.Gate
	executor  task.Executor
	validator task.Validator
	loop      *repair.Loop
	queue     escalation.Service
	store     patterns.Store
	state     StateStore
	logger    *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	taskCounter metric.Int64Counter
	taskSeconds metric.Float64Histogram
}

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	Estimator *complexity.Estimator
	Router    *router.Router
	Ledger    *budget.Ledger
	Generator task.Generator
	Gate      task.Gate
	Executor  task.Executor
	Validator task.Validator
	Loop      *repair.Loop
	Queue     escalation.Service
	Store     patterns.Store

	// State is optional write-through persistence.
	State StateStore
}

// NewEngine creates an engine.
func NewEngine(cfg *EngineConfig, deps EngineDeps, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if cfg.RubricCeilingMS == 0 {
		cfg.RubricCeilingMS = 45000
	}
	if cfg.GateMaxRetries == 0 {
		cfg.GateMaxRetries = 2
	}
	if cfg.ContextPatternLimit == 0 {
		cfg.ContextPatternLimit = 3
	}
	if deps.Estimator == nil {
		return nil, errors.New("complexity estimator is required")
	}
	if deps.Router == nil {
		return nil, errors.New("router is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("budget ledger is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("gate is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if deps.Loop == nil {
		return nil, errors.New("repair loop is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("escalation queue is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pattern store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:    cfg,
		estimator: deps.Estimator,
		router:    deps.Router,
		ledger:    deps.Ledger,
		generator: deps.Generator,
		gate:      deps.Gate,
		executor:  deps.Executor,
		validator: deps.Validator,
		loop:      deps.Loop,
		queue:     deps.Queue,
		store:     deps.Store,
		state:     deps.State,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}

	e.initMetrics()

	return e, nil
}

func (e *Engine) initMetrics() {
	var err error

	e.taskCounter, err = e.meter.Int64Counter(
		"mendd.orchestrator.tasks_total",
		metric.WithDescription("Tasks reaching a terminal status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		e.logger.Warn("failed to create task counter", zap.Error(err))
	}

	e.taskSeconds, err = e.meter.Float64Histogram(
		"mendd.orchestrator.task_duration_seconds",
		metric.WithDescription("Wall time from intake to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		e.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// Run drives the task from Queued to a terminal status. The override,
// when non-nil, replaces the estimator's complexity score. Run returns
// an error only for infrastructure faults; business outcomes (failure,
// escalation) are recorded on the task itself.
func (e *Engine) Run(ctx context.Context, t *task.Task, override *int) error {
	ctx, span := e.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("task_id", t.ID)),
	)
	defer span.End()

	started := timeNow()
	defer func() {
		if e.taskSeconds != nil && t.Status.IsTerminal() {
			e.taskSeconds.Record(ctx, timeNow().Sub(started).Seconds(),
				metric.WithAttributes(attribute.String("status", string(t.Status))))
		}
	}()

	decision := e.router.Route(router.Request{
		Score:    e.estimator.Score(t.Description),
		Override: override,
		Feature:  t.Feature,
	}, e.ledger.Snapshot())

	t.ComplexityScore = decision.Score
	span.SetAttributes(attribute.Int("complexity_score", decision.Score))

	if decision.Kind == router.DecisionBudgetExceeded {
		// Denied at intake: the task fails without spending anything.
		e.transition(ctx, t, task.StatusFailed, task.ReasonBudgetExceeded, "budget exhausted before routing")
		return nil
	}

	t.Tier = decision.Tier
	t.Cap = decision.Cap

	if !e.generate(ctx, t) {
		return nil
	}

	e.execute(ctx, t)
	return nil
}

// generate produces an artifact that passes the static gate, feeding
// gate feedback back into regeneration. Returns false when the task
// reached a terminal status.
func (e *Engine) generate(ctx context.Context, t *task.Task) bool {
	e.transition(ctx, t, task.StatusGenerating, "", "")

	contextPatterns := e.contextPatterns(ctx, t.Description)

	feedback := ""
	for rejections := 0; ; rejections++ {
		if e.cancelled(ctx, t) {
			return false
		}

		description := t.Description
		if feedback != "" {
			description = t.Description + "\n\nGate feedback on the previous candidate:\n" + feedback
		}

		gen, err := retry.Do(ctx, e.config.Retry, e.logger, "generator.generate",
			func(ctx context.Context) (task.GenerateResult, error) {
				return e.generator.Generate(ctx, description, contextPatterns)
			})
		if err != nil {
			e.transition(ctx, t, task.StatusFailed, "", fmt.Sprintf("generation failed: %v", err))
			return false
		}

		if !e.charge(ctx, t, gen.Cost) {
			return false
		}

		t.Artifact = &gen.Artifact
		e.transition(ctx, t, task.StatusGated, "", "")

		verdict, err := e.gate.Inspect(ctx, *t.Artifact)
		if err != nil {
			e.transition(ctx, t, task.StatusFailed, "", fmt.Sprintf("gate inspection failed: %v", err))
			return false
		}
		if verdict.Accepted {
			return true
		}

		if rejections >= e.config.GateMaxRetries {
			e.transition(ctx, t, task.StatusFailed, task.ReasonMaxRetriesExceeded,
				fmt.Sprintf("static gate rejected %d candidates; last feedback: %s", rejections+1, verdict.Feedback))
			return false
		}

		feedback = verdict.Feedback
		t.Attempts++
		e.transition(ctx, t, task.StatusGenerating, "", "gate rejected candidate: "+verdict.Feedback)
	}
}

// execute runs the artifact once in the sandbox. A failing run routes
// through the repair loop; a committed fix proceeds to validation
// without another sandbox run, since the validator replays the
// artifact in a real environment anyway.
func (e *Engine) execute(ctx context.Context, t *task.Task) {
	if e.cancelled(ctx, t) {
		return
	}

	e.transition(ctx, t, task.StatusExecuting, "", "")

	res, err := retry.Do(ctx, e.config.Retry, e.logger, "executor.run",
		func(ctx context.Context) (task.ExecResult, error) {
			return e.executor.Run(ctx, *t.Artifact)
		})
	if err != nil {
		e.transition(ctx, t, task.StatusFailed, "", fmt.Sprintf("execution failed: %v", err))
		return
	}
	if !e.charge(ctx, t, res.Cost) {
		return
	}
	if len(res.ScreenshotRefs) > 0 {
		t.ScreenshotRefs = res.ScreenshotRefs
	}

	if !res.Passed {
		if !e.repair(ctx, t, task.ErrorContext{ErrorText: res.ErrorText}) {
			return
		}
	}

	e.validate(ctx, t)
}

// validate drives the validate/repair cycle to a terminal status. The
// repair loop's attempt cap bounds the cycle.
func (e *Engine) validate(ctx context.Context, t *task.Task) {
	for {
		if e.cancelled(ctx, t) {
			return
		}

		e.transition(ctx, t, task.StatusValidating, "", "")

		rubric, err := retry.Do(ctx, e.config.Retry, e.logger, "validator.validate",
			func(ctx context.Context) (task.Rubric, error) {
				return e.validator.Validate(ctx, *t.Artifact)
			})
		if err != nil {
			e.transition(ctx, t, task.StatusFailed, "", fmt.Sprintf("validation failed: %v", err))
			return
		}
		if len(rubric.ScreenshotRefs) > 0 {
			t.ScreenshotRefs = rubric.ScreenshotRefs
		}

		if rubric.Passes(e.config.RubricCeilingMS) {
			e.transition(ctx, t, task.StatusResolved, "", "")
			return
		}

		// A committed fix loops back to Validating, never straight to
		// Resolved.
		if !e.repair(ctx, t, task.ErrorContext{ErrorText: rubricFailure(rubric, e.config.RubricCeilingMS)}) {
			return
		}
	}
}

// repair runs the repair loop. Returns true when a fix was committed
// and the cycle should re-execute; false means the task is terminal.
func (e *Engine) repair(ctx context.Context, t *task.Task, errCtx task.ErrorContext) bool {
	e.transition(ctx, t, task.StatusRepairing, "", "")

	result, err := e.loop.Run(ctx, t, errCtx)
	if err != nil {
		if ctx.Err() != nil {
			return !e.cancelled(ctx, t)
		}
		e.transition(ctx, t, task.StatusFailed, "", fmt.Sprintf("repair failed: %v", err))
		return false
	}

	if result.Fixed {
		return true
	}

	e.escalate(ctx, t, result)
	return false
}

// escalate hands the task to the human review queue and marks it
// Escalated. A task never reaches Escalated without its queue entry.
func (e *Engine) escalate(ctx context.Context, t *task.Task, result repair.Result) {
	snap := e.ledger.Snapshot()

	entry, err := e.queue.Enqueue(ctx, &escalation.EnqueueRequest{
		TaskID:         t.ID,
		Reason:         result.Reason,
		Diagnosis:      result.Diagnosis,
		Confidence:     result.Confidence,
		Attempts:       t.Attempts,
		CostSpent:      t.Cost.InexactFloat64(),
		CostCap:        t.Cap.InexactFloat64(),
		Feature:        t.Feature,
		Critical:       snap.IsCritical(t.Feature),
		ArtifactRef:    artifactRef(t),
		AttemptRef:     result.AttemptRef,
		LogRefs:        t.LogRefs,
		ScreenshotRefs: t.ScreenshotRefs,
	})
	if err != nil {
		e.logger.Error("failed to enqueue escalation",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
		e.transition(ctx, t, task.StatusFailed, result.Reason, fmt.Sprintf("escalation enqueue failed: %v", err))
		return
	}

	t.HITLRef = entry.TaskID
	e.transition(ctx, t, task.StatusEscalated, result.Reason, result.Diagnosis)
}

// cancelled checks for context cancellation and, if cancelled, moves
// the task to Failed with the cancellation reason.
func (e *Engine) cancelled(ctx context.Context, t *task.Task) bool {
	if ctx.Err() == nil {
		return false
	}
	e.transition(ctx, t, task.StatusFailed, task.ReasonCancelled, ctx.Err().Error())
	return true
}

// charge adds spend to the task and the shared ledger. A denied charge
// escalates the task; false means the task is terminal.
func (e *Engine) charge(ctx context.Context, t *task.Task, cost decimal.Decimal) bool {
	t.AddCost(cost)
	if err := e.ledger.Charge(ctx, t.Feature, cost); err != nil {
		if errors.Is(err, task.ErrBudgetExceeded) {
			e.escalate(ctx, t, repair.Result{
				Reason:    task.ReasonBudgetExceeded,
				Diagnosis: "budget exhausted mid-task",
			})
			return false
		}
		e.transition(ctx, t, task.StatusFailed, "", fmt.Sprintf("charge failed: %v", err))
		return false
	}
	return true
}

// contextPatterns retrieves historical patterns relevant to the
// description. Best-effort; a store failure only costs context.
func (e *Engine) contextPatterns(ctx context.Context, description string) []string {
	fixes, err := e.store.SearchSimilar(ctx, description, e.config.ContextPatternLimit)
	if err != nil {
		e.logger.Warn("context pattern search failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(fixes))
	for _, f := range fixes {
		out = append(out, fmt.Sprintf("[%s] %s", f.FixStrategy, f.ErrorSignature))
	}
	return out
}

// transition moves the task to a new status, persists it, and emits
// the lifecycle record.
func (e *Engine) transition(ctx context.Context, t *task.Task, to task.Status, reason task.Reason, note string) {
	from := t.Status
	t.Status = to
	if reason != "" {
		t.Reason = reason
	}

	rec := task.TransitionRecord{
		TaskID:   t.ID,
		From:     from,
		To:       to,
		Reason:   reason,
		Note:     note,
		Attempts: t.Attempts,
		Cost:     t.Cost.String(),
		At:       timeNow(),
	}

	if e.state != nil {
		if err := e.state.PutTask(ctx, t); err != nil {
			e.logger.Warn("failed to persist task state",
				zap.String("task_id", t.ID),
				zap.Error(err),
			)
		}
		e.state.PublishTransition(ctx, rec)
	}

	fields := []zap.Field{
		zap.String("task_id", t.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", string(reason)))
	}
	if note != "" {
		fields = append(fields, zap.String("note", note))
	}
	e.logger.Info("task transition", fields...)

	if to.IsTerminal() && e.taskCounter != nil {
		e.taskCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(to)),
			attribute.String("reason", string(reason)),
		))
	}
}

// rubricFailure renders a failed rubric as repair-loop error text.
func rubricFailure(r task.Rubric, ceilingMS int) string {
	var parts []string
	if !r.BrowserLaunched {
		parts = append(parts, "browser did not launch")
	}
	if !r.Executed {
		parts = append(parts, "script did not execute")
	}
	if !r.Passed {
		parts = append(parts, "assertions failed")
	}
	if r.ScreenshotCount < 1 {
		parts = append(parts, "no screenshots captured")
	}
	if r.ExecutionTimeMS > ceilingMS {
		parts = append(parts, fmt.Sprintf("execution took %dms, ceiling is %dms", r.ExecutionTimeMS, ceilingMS))
	}
	return "validation rubric failed: " + strings.Join(parts, "; ")
}

func artifactRef(t *task.Task) string {
	if t.Artifact == nil {
		return ""
	}
	return t.Artifact.ID
}
