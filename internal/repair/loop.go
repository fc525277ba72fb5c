package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/budget"
	"github.com/fernworks/mendd/internal/patterns"
	"github.com/fernworks/mendd/internal/retry"
	"github.com/fernworks/mendd/internal/task"
)

const instrumentationName = "github.com/fernworks/mendd/internal/repair"

// Config configures the repair loop. The confidence threshold and retry
// cap are configuration, not constants; the defaults mirror the values
// the loop was tuned with.
type Config struct {
	// ConfidenceThreshold is the minimum generator confidence required
	// to apply a patch (default: 0.7). Below it the task escalates
	// immediately.
	ConfidenceThreshold float64

	// MaxAttempts bounds rejected fix attempts per task (default: 3).
	MaxAttempts int

	// SimilarFixLimit is how many historical fixes to hand the
	// generator (default: 3).
	SimilarFixLimit int

	// Retry bounds transient-failure retries on generator and suite
	// calls.
	Retry retry.Config
}

// DefaultConfig returns the default repair configuration.
func DefaultConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.7,
		MaxAttempts:         3,
		SimilarFixLimit:     3,
		Retry:               retry.DefaultConfig(),
	}
}

// Result reports how the loop exited.
type Result struct {
	// Fixed is true when a patch was committed with zero new failures.
	Fixed bool

	// Reason is set when Fixed is false and names why the loop gave up.
	Reason task.Reason

	// Confidence is the generator's confidence on the last attempt.
	Confidence float64

	// Diagnosis summarizes the loop's view of the failure for the
	// escalation entry.
	Diagnosis string

	// NewFailures are the regressions from the last rejected attempt.
	NewFailures []string

	// AttemptRef is the pattern-store ID of the last recorded attempt,
	// carried onto the escalation entry so a human resolution can
	// reinforce the pattern it confirms.
	AttemptRef string
}

// Loop asks the generator for fixes and only commits ones that
// introduce zero new failures against the captured baseline.
type Loop struct {
	config    *Config
	generator task.Generator
	suite     task.RegressionSuite
	store     patterns.Store
	ledger    *budget.Ledger
	logger    *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	attemptCounter metric.Int64Counter
}

// NewLoop creates a repair loop.
func NewLoop(cfg *Config, gen task.Generator, suite task.RegressionSuite, store patterns.Store, ledger *budget.Ledger, logger *zap.Logger) (*Loop, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SimilarFixLimit == 0 {
		cfg.SimilarFixLimit = 3
	}
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if suite == nil {
		return nil, errors.New("regression suite is required")
	}
	if store == nil {
		return nil, errors.New("pattern store is required")
	}
	if ledger == nil {
		return nil, errors.New("budget ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		config:    cfg,
		generator: gen,
		suite:     suite,
		store:     store,
		ledger:    ledger,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}

	var err error
	l.attemptCounter, err = l.meter.Int64Counter(
		"mendd.repair.attempts_total",
		metric.WithDescription("Total repair attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create attempt counter", zap.Error(err))
	}

	return l, nil
}

// Run drives the repair loop for a failing task. On success the task's
// artifact is replaced with the patched one; on any other exit the
// artifact is left exactly as it was.
func (l *Loop) Run(ctx context.Context, t *task.Task, errCtx task.ErrorContext) (Result, error) {
	ctx, span := l.tracer.Start(ctx, "repair.run")
	defer span.End()

	span.SetAttributes(
		attribute.String("task_id", t.ID),
		attribute.Int("attempts", t.Attempts),
	)

	if t.Artifact == nil {
		return Result{}, errors.New("task has no artifact to repair")
	}

	if err := l.ensureBaseline(ctx, t); err != nil {
		if errors.Is(err, task.ErrBudgetExceeded) {
			return l.exit(ctx, task.ReasonBudgetExceeded, 0, "budget exhausted capturing regression baseline", ""), nil
		}
		return Result{}, fmt.Errorf("capturing baseline: %w", err)
	}

	baseline := toSet(t.Baseline)
	lastAttempt := ""

	for {
		// The cap is checked before every generator call; once the
		// task's spend reaches it, no further cost may be incurred.
		if t.Cost.GreaterThanOrEqual(t.Cap) {
			return l.exit(ctx, task.ReasonBudgetExceeded, 0,
				fmt.Sprintf("task spend %s reached cap %s", t.Cost, t.Cap), lastAttempt), nil
		}

		similar := l.similarFixes(ctx, errCtx)

		rep, err := retry.Do(ctx, l.config.Retry, l.logger, "generator.repair",
			func(ctx context.Context) (task.RepairResult, error) {
				return l.generator.Repair(ctx, *t.Artifact, errCtx, similar)
			})
		if err != nil {
			return Result{}, fmt.Errorf("requesting fix: %w", err)
		}

		if chargeErr := l.charge(ctx, t, rep.Cost); chargeErr != nil {
			return l.exit(ctx, task.ReasonBudgetExceeded, rep.Confidence, "budget exhausted during repair", lastAttempt), nil
		}

		if rep.Confidence < l.config.ConfidenceThreshold {
			// Low confidence short-circuits to escalation without
			// running the suite again, regardless of remaining retries.
			lastAttempt = l.recordAttempt(ctx, t, errCtx, rep, patterns.OutcomeEscalated)
			return l.exit(ctx, task.ReasonLowConfidence, rep.Confidence,
				fmt.Sprintf("generator confidence %.2f below threshold %.2f", rep.Confidence, l.config.ConfidenceThreshold), lastAttempt), nil
		}

		patched, applyErr := applyPatch(t.Artifact.Content, rep.Patch)
		if applyErr != nil {
			l.logger.Warn("patch failed to apply",
				zap.String("task_id", t.ID),
				zap.Error(applyErr),
			)
			lastAttempt = l.recordAttempt(ctx, t, errCtx, rep, patterns.OutcomeRolledBack)
			if !l.countRejection(t) {
				return l.exit(ctx, task.ReasonMaxRetriesExceeded, rep.Confidence, "retries exhausted; last patch was unappliable", lastAttempt), nil
			}
			continue
		}

		scratch := task.Artifact{ID: t.Artifact.ID, Content: patched}

		run, err := retry.Do(ctx, l.config.Retry, l.logger, "suite.failing_tests",
			func(ctx context.Context) (suiteRun, error) {
				failing, cost, runErr := l.suite.FailingTests(ctx, scratch)
				return suiteRun{failing: failing, cost: cost}, runErr
			})
		if err != nil {
			return Result{}, fmt.Errorf("running regression suite: %w", err)
		}
		if chargeErr := l.charge(ctx, t, run.cost); chargeErr != nil {
			return l.exit(ctx, task.ReasonBudgetExceeded, rep.Confidence, "budget exhausted running regression suite", lastAttempt), nil
		}

		newFailures := subtract(toSet(run.failing), baseline)

		if len(newFailures) == 0 {
			// Zero new failures: commit the patch.
			t.Artifact.Content = patched
			l.recordAttempt(ctx, t, errCtx, rep, patterns.OutcomeCommitted)
			l.count(ctx, "committed")
			l.logger.Info("fix committed",
				zap.String("task_id", t.ID),
				zap.Float64("confidence", rep.Confidence),
			)
			return Result{Fixed: true, Confidence: rep.Confidence}, nil
		}

		// The fix made things worse: discard the scratch copy and
		// count the rejection.
		lastAttempt = l.recordAttempt(ctx, t, errCtx, rep, patterns.OutcomeRolledBack)
		l.count(ctx, "regression")
		l.logger.Warn("fix rejected: new failures against baseline",
			zap.String("task_id", t.ID),
			zap.Strings("new_failures", newFailures),
		)

		if !l.countRejection(t) {
			return Result{
				Fixed:       false,
				Reason:      task.ReasonMaxRetriesExceeded,
				Confidence:  rep.Confidence,
				Diagnosis:   fmt.Sprintf("%d consecutive fixes introduced regressions; last attempt added %d new failures", t.Attempts, len(newFailures)),
				NewFailures: newFailures,
				AttemptRef:  lastAttempt,
			}, nil
		}
	}
}

// ensureBaseline captures the regression baseline once per task.
func (l *Loop) ensureBaseline(ctx context.Context, t *task.Task) error {
	if t.BaselineCaptured {
		return nil
	}

	failing, cost, err := l.suite.FailingTests(ctx, *t.Artifact)
	if err != nil {
		return err
	}
	if chargeErr := l.charge(ctx, t, cost); chargeErr != nil {
		return chargeErr
	}

	t.CaptureBaseline(failing)
	l.logger.Info("regression baseline captured",
		zap.String("task_id", t.ID),
		zap.Int("failing", len(failing)),
	)
	return nil
}

// countRejection increments the attempt counter and reports whether the
// loop may try again.
func (l *Loop) countRejection(t *task.Task) bool {
	t.Attempts++
	return t.Attempts < l.config.MaxAttempts
}

// similarFixes retrieves historical fixes for the error signature.
// Retrieval is best-effort; a store failure only costs context.
func (l *Loop) similarFixes(ctx context.Context, errCtx task.ErrorContext) []string {
	fixes, err := l.store.SearchSimilar(ctx, errCtx.Signature(), l.config.SimilarFixLimit)
	if err != nil {
		l.logger.Warn("similar fix search failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(fixes))
	for _, f := range fixes {
		out = append(out, fmt.Sprintf("[%s] %s", f.FixStrategy, f.Patch))
	}
	return out
}

// suiteRun pairs a regression run's failing set with its cost.
type suiteRun struct {
	failing []string
	cost    decimal.Decimal
}

// charge adds cost to the task and the shared ledger.
func (l *Loop) charge(ctx context.Context, t *task.Task, cost decimal.Decimal) error {
	t.AddCost(cost)
	return l.ledger.Charge(ctx, t.Feature, cost)
}

// recordAttempt writes the attempt to the pattern store and returns its
// ID. Recording is best-effort; a store failure returns an empty ID.
func (l *Loop) recordAttempt(ctx context.Context, t *task.Task, errCtx task.ErrorContext, rep task.RepairResult, outcome patterns.Outcome) string {
	id, err := l.store.RecordAttempt(ctx, &patterns.Attempt{
		TaskID:         t.ID,
		ErrorSignature: errCtx.Signature(),
		FixStrategy:    "generated_patch",
		Patch:          rep.Patch.Diff,
		Outcome:        outcome,
		Confidence:     rep.Confidence,
	})
	if err != nil {
		l.logger.Warn("failed to record fix attempt", zap.Error(err))
		return ""
	}
	return id
}

func (l *Loop) count(ctx context.Context, outcome string) {
	if l.attemptCounter != nil {
		l.attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (l *Loop) exit(ctx context.Context, reason task.Reason, confidence float64, diagnosis, attemptRef string) Result {
	l.count(ctx, string(reason))
	return Result{
		Fixed:      false,
		Reason:     reason,
		Confidence: confidence,
		Diagnosis:  diagnosis,
		AttemptRef: attemptRef,
	}
}

// applyPatch applies unified patch text to content on a scratch copy.
func applyPatch(content string, p task.Patch) (string, error) {
	dmp := diffmatchpatch.New()

	patchList, err := dmp.PatchFromText(p.Diff)
	if err != nil {
		return "", fmt.Errorf("parsing patch: %w", err)
	}
	if len(patchList) == 0 {
		return "", errors.New("empty patch")
	}

	patched, applied := dmp.PatchApply(patchList, content)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("hunk %d failed to apply", i)
		}
	}
	return patched, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// subtract returns the members of post not present in baseline.
func subtract(post, baseline map[string]struct{}) []string {
	var out []string
	for id := range post {
		if _, ok := baseline[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
