package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/patterns"
	"github.com/fernworks/mendd/internal/task"
)

const instrumentationName = "github.com/fernworks/mendd/internal/escalation"

// timeNow is a variable so tests can control the clock.
var timeNow = time.Now

var (
	// ErrNotFound is returned for operations on unknown task IDs.
	ErrNotFound = errors.New("escalation entry not found")

	// ErrAlreadyResolved is returned when resolving a resolved entry.
	// Resolution is never a silent no-op.
	ErrAlreadyResolved = errors.New("escalation entry already resolved")
)

// Durable persists entries so the queue survives a restart. The queue
// keeps its own in-memory index; Durable is write-through.
type Durable interface {
	PutEntry(ctx context.Context, entry *Entry) error
	ListEntries(ctx context.Context) ([]*Entry, error)
}

// Service provides the HITL queue operations.
type Service interface {
	// Enqueue inserts an entry, computing its priority and severity.
	Enqueue(ctx context.Context, req *EnqueueRequest) (*Entry, error)

	// List returns entries sorted descending by priority.
	List(ctx context.Context, filter Filter) ([]*Entry, error)

	// Get returns the entry for a task ID.
	Get(ctx context.Context, taskID string) (*Entry, error)

	// Resolve marks an unresolved entry resolved with the annotation,
	// writes the annotation to the pattern store, and reinforces the
	// fix pattern the resolution confirms.
	Resolve(ctx context.Context, taskID string, ann *patterns.Annotation) (*Entry, error)

	// Stats reports aggregate queue statistics.
	Stats(ctx context.Context) (Stats, error)
}

// Config configures the queue.
type Config struct {
	// Weights are the priority coefficients (must sum to 1).
	Weights Weights

	// Window normalizes the time-in-queue term (default: 1h).
	Window time.Duration

	// HighPriorityThreshold marks entries counted as high priority in
	// stats (default: 0.7).
	HighPriorityThreshold float64

	// MaxAttempts is the retry cap used to normalize the attempts
	// term (default: 3).
	MaxAttempts int
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return &Config{
		Weights:               DefaultWeights(),
		Window:                time.Hour,
		HighPriorityThreshold: 0.7,
		MaxAttempts:           3,
	}
}

// EnqueueRequest carries everything needed to build an entry.
type EnqueueRequest struct {
	TaskID         string
	Reason         task.Reason
	Diagnosis      string
	Confidence     float64
	Attempts       int
	CostSpent      float64
	CostCap        float64
	Feature        string
	Critical       bool
	ArtifactRef    string
	AttemptRef     string
	LogRefs        []string
	ScreenshotRefs []string
}

// queue implements Service with a mutex-guarded in-memory index and
// write-through durable storage.
type queue struct {
	config  *Config
	store   patterns.Store
	durable Durable
	logger  *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	enqueueCounter metric.Int64Counter
	resolveCounter metric.Int64Counter

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewQueue creates the queue, restoring any persisted entries from the
// durable store.
func NewQueue(ctx context.Context, cfg *Config, store patterns.Store, durable Durable, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Window == 0 {
		cfg.Window = time.Hour
	}
	if cfg.HighPriorityThreshold == 0 {
		cfg.HighPriorityThreshold = 0.7
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if store == nil {
		return nil, errors.New("pattern store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &queue{
		config:  cfg,
		store:   store,
		durable: durable,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
		entries: make(map[string]*Entry),
	}

	q.initMetrics()

	if durable != nil {
		persisted, err := durable.ListEntries(ctx)
		if err != nil {
			return nil, fmt.Errorf("restoring escalation entries: %w", err)
		}
		for _, e := range persisted {
			q.entries[e.TaskID] = e
		}
		if len(persisted) > 0 {
			logger.Info("restored escalation entries", zap.Int("count", len(persisted)))
		}
	}

	return q, nil
}

func (q *queue) initMetrics() {
	var err error

	q.enqueueCounter, err = q.meter.Int64Counter(
		"mendd.escalation.enqueued_total",
		metric.WithDescription("Total escalation entries enqueued"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		q.logger.Warn("failed to create enqueue counter", zap.Error(err))
	}

	q.resolveCounter, err = q.meter.Int64Counter(
		"mendd.escalation.resolved_total",
		metric.WithDescription("Total escalation entries resolved"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		q.logger.Warn("failed to create resolve counter", zap.Error(err))
	}
}

// Enqueue inserts an entry. Priority is computed once, at enqueue time,
// with zero time in queue; nothing is recomputed retroactively.
func (q *queue) Enqueue(ctx context.Context, req *EnqueueRequest) (*Entry, error) {
	ctx, span := q.tracer.Start(ctx, "escalation.enqueue")
	defer span.End()

	if req.TaskID == "" {
		return nil, errors.New("task id is required")
	}
	if req.Reason == "" {
		return nil, errors.New("escalation reason is required")
	}

	span.SetAttributes(
		attribute.String("task_id", req.TaskID),
		attribute.String("reason", string(req.Reason)),
	)

	now := timeNow()
	entry := &Entry{
		TaskID:         req.TaskID,
		Reason:         req.Reason,
		Diagnosis:      req.Diagnosis,
		Confidence:     req.Confidence,
		Attempts:       req.Attempts,
		MaxAttempts:    q.config.MaxAttempts,
		Feature:        req.Feature,
		Critical:       req.Critical,
		ArtifactRef:    req.ArtifactRef,
		AttemptRef:     req.AttemptRef,
		LogRefs:        req.LogRefs,
		ScreenshotRefs: req.ScreenshotRefs,
		EnqueuedAt:     now,
	}
	entry.CostSpent = decimalFromFloat(req.CostSpent)
	entry.CostCap = decimalFromFloat(req.CostCap)

	entry.Priority = Priority(q.config.Weights, PriorityInput{
		Attempts:    req.Attempts,
		MaxAttempts: q.config.MaxAttempts,
		CostSpent:   req.CostSpent,
		CostCap:     req.CostCap,
		Critical:    req.Critical,
		TimeInQueue: 0,
		Window:      q.config.Window,
	})
	entry.Severity = deriveSeverity(req.Reason, req.Critical)

	q.mu.Lock()
	if _, exists := q.entries[req.TaskID]; exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("task %s is already escalated", req.TaskID)
	}
	q.entries[req.TaskID] = entry
	q.mu.Unlock()

	if q.durable != nil {
		if err := q.durable.PutEntry(ctx, entry); err != nil {
			span.RecordError(err)
			q.logger.Error("failed to persist escalation entry",
				zap.String("task_id", req.TaskID),
				zap.Error(err),
			)
		}
	}

	if q.enqueueCounter != nil {
		q.enqueueCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(req.Reason)),
			attribute.String("severity", string(entry.Severity)),
		))
	}

	q.logger.Info("escalated task to human review",
		zap.String("task_id", req.TaskID),
		zap.String("reason", string(req.Reason)),
		zap.Float64("priority", entry.Priority),
		zap.String("severity", string(entry.Severity)),
	)

	return entry.clone(), nil
}

// List returns entries sorted by priority, descending. With
// Filter.Recompute the age term is refreshed at read time.
func (q *queue) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	_, span := q.tracer.Start(ctx, "escalation.list")
	defer span.End()

	q.mu.RLock()
	out := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		if filter.Resolved != nil && e.Resolved != *filter.Resolved {
			continue
		}
		c := e.clone()
		if filter.Recompute {
			c.Priority = q.agedPriority(e)
		}
		out = append(out, c)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})

	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// agedPriority recomputes the score with the current time in queue.
// Called with at least a read lock held.
func (q *queue) agedPriority(e *Entry) float64 {
	spent, _ := e.CostSpent.Float64()
	cap, _ := e.CostCap.Float64()
	return Priority(q.config.Weights, PriorityInput{
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		CostSpent:   spent,
		CostCap:     cap,
		Critical:    e.Critical,
		TimeInQueue: timeNow().Sub(e.EnqueuedAt),
		Window:      q.config.Window,
	})
}

// Get returns the entry for a task ID.
func (q *queue) Get(ctx context.Context, taskID string) (*Entry, error) {
	_, span := q.tracer.Start(ctx, "escalation.get")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", taskID))

	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.entries[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return e.clone(), nil
}

// Resolve marks an unresolved entry resolved, attaches the annotation,
// and writes it through to the pattern store. Resolving a missing or
// already-resolved entry is an error and mutates nothing.
func (q *queue) Resolve(ctx context.Context, taskID string, ann *patterns.Annotation) (*Entry, error) {
	ctx, span := q.tracer.Start(ctx, "escalation.resolve")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", taskID))

	if ann == nil {
		return nil, errors.New("annotation is required")
	}
	if !ann.RootCause.Valid() {
		return nil, fmt.Errorf("invalid root cause %q", ann.RootCause)
	}
	if !ann.FixStrategy.Valid() {
		return nil, fmt.Errorf("invalid fix strategy %q", ann.FixStrategy)
	}

	q.mu.Lock()
	e, ok := q.entries[taskID]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if e.Resolved {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, taskID)
	}

	// The annotation write must land before the entry flips to
	// resolved, so a resolution can never lose its record.
	q.mu.Unlock()
	if err := q.store.RecordAnnotation(ctx, taskID, ann); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("recording annotation: %w", err)
	}

	q.mu.Lock()
	e, ok = q.entries[taskID]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if e.Resolved {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, taskID)
	}
	now := timeNow()
	e.Resolved = true
	e.ResolvedAt = &now
	e.Annotation = ann
	resolved := e.clone()
	q.mu.Unlock()

	if q.durable != nil {
		if err := q.durable.PutEntry(ctx, resolved); err != nil {
			q.logger.Error("failed to persist resolution",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}

	// A human resolution confirms the diagnosis behind the last fix
	// attempt; feed that back into the pattern store's confidence.
	if resolved.AttemptRef != "" {
		if err := q.store.Reinforce(ctx, resolved.AttemptRef); err != nil {
			q.logger.Warn("failed to reinforce fix pattern",
				zap.String("task_id", taskID),
				zap.String("attempt_ref", resolved.AttemptRef),
				zap.Error(err),
			)
		}
	}

	if q.resolveCounter != nil {
		q.resolveCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("root_cause", string(ann.RootCause)),
		))
	}

	q.logger.Info("escalation resolved",
		zap.String("task_id", taskID),
		zap.String("root_cause", string(ann.RootCause)),
		zap.String("fix_strategy", string(ann.FixStrategy)),
	)

	return resolved, nil
}

// Stats reports aggregate statistics over the whole queue.
func (q *queue) Stats(ctx context.Context) (Stats, error) {
	_, span := q.tracer.Start(ctx, "escalation.stats")
	defer span.End()

	q.mu.RLock()
	defer q.mu.RUnlock()

	var s Stats
	var sum float64
	for _, e := range q.entries {
		s.Total++
		if e.Resolved {
			s.Resolved++
			continue
		}
		s.Unresolved++
		sum += e.Priority
		if e.Priority >= q.config.HighPriorityThreshold {
			s.HighPriority++
		}
	}
	if s.Unresolved > 0 {
		s.AveragePriority = sum / float64(s.Unresolved)
	}
	return s, nil
}

// deriveSeverity maps reason and feature criticality to a severity.
func deriveSeverity(reason task.Reason, critical bool) Severity {
	var base Severity
	switch reason {
	case task.ReasonRegressionDetected, task.ReasonMaxRetriesExceeded:
		base = SeverityHigh
	case task.ReasonLowConfidence, task.ReasonBudgetExceeded:
		base = SeverityMedium
	default:
		base = SeverityLow
	}

	if !critical {
		return base
	}
	switch base {
	case SeverityHigh:
		return SeverityCritical
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
