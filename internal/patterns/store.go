package patterns

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fernworks/mendd/internal/patterns"

// Embedder produces embedding vectors for text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store provides pattern store operations.
type Store interface {
	// RecordAttempt writes a repair attempt tuple.
	RecordAttempt(ctx context.Context, attempt *Attempt) (string, error)

	// RecordAnnotation writes a human resolution annotation for a task.
	RecordAnnotation(ctx context.Context, taskID string, ann *Annotation) error

	// SearchSimilar finds past fixes by semantic similarity to an error
	// signature.
	SearchSimilar(ctx context.Context, errorSignature string, limit int) ([]SimilarFix, error)

	// Reinforce bumps the stored confidence of an attempt a human
	// resolution confirmed.
	Reinforce(ctx context.Context, attemptID string) error

	// Close closes the store.
	Close() error
}

// Config configures the pattern store.
type Config struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// AttemptsCollection is the collection for repair attempts
	// (default: fix_attempts).
	AttemptsCollection string

	// AnnotationsCollection is the collection for resolution
	// annotations (default: annotations).
	AnnotationsCollection string

	// ReinforceDelta is how much a confirmation bumps attempt
	// confidence (default: 0.1, capped at 1.0).
	ReinforceDelta float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:                  "~/.local/share/mendd/patterns",
		AttemptsCollection:    "fix_attempts",
		AnnotationsCollection: "annotations",
		ReinforceDelta:        0.1,
	}
}

// store implements Store over chromem-go.
type store struct {
	config   *Config
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	writeCounter  metric.Int64Counter
	searchCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewStore opens (or creates) the persistent pattern store at cfg.Path.
func NewStore(cfg *Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AttemptsCollection == "" {
		cfg.AttemptsCollection = "fix_attempts"
	}
	if cfg.AnnotationsCollection == "" {
		cfg.AnnotationsCollection = "annotations"
	}
	if cfg.ReinforceDelta == 0 {
		cfg.ReinforceDelta = 0.1
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening pattern store: %w", err)
	}

	s := &store{
		config:   cfg,
		db:       db,
		embedder: embedder,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	s.initMetrics()

	logger.Info("pattern store opened",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
	)

	return s, nil
}

func (s *store) initMetrics() {
	var err error

	s.writeCounter, err = s.meter.Int64Counter(
		"mendd.patterns.writes_total",
		metric.WithDescription("Total pattern store writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		s.logger.Warn("failed to create write counter", zap.Error(err))
	}

	s.searchCounter, err = s.meter.Int64Counter(
		"mendd.patterns.searches_total",
		metric.WithDescription("Total pattern store searches"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		s.logger.Warn("failed to create search counter", zap.Error(err))
	}
}

// embeddingFunc adapts the Embedder to chromem's function type.
func (s *store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *store) collection(name string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
}

func (s *store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("pattern store is closed")
	}
	return nil
}

// RecordAttempt writes a repair attempt tuple, embedding its error
// signature for later similarity search.
func (s *store) RecordAttempt(ctx context.Context, attempt *Attempt) (string, error) {
	ctx, span := s.tracer.Start(ctx, "patterns.record_attempt")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if attempt.ErrorSignature == "" {
		return "", errors.New("error signature is required")
	}

	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	span.SetAttributes(
		attribute.String("task_id", attempt.TaskID),
		attribute.String("outcome", string(attempt.Outcome)),
	)

	col, err := s.collection(s.config.AttemptsCollection)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("opening attempts collection: %w", err)
	}

	doc := chromem.Document{
		ID:      attempt.ID,
		Content: attempt.ErrorSignature,
		Metadata: map[string]string{
			"task_id":      attempt.TaskID,
			"fix_strategy": attempt.FixStrategy,
			"patch":        attempt.Patch,
			"outcome":      string(attempt.Outcome),
			"confidence":   strconv.FormatFloat(attempt.Confidence, 'f', -1, 64),
			"created_at":   strconv.FormatInt(attempt.CreatedAt.Unix(), 10),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("storing attempt: %w", err)
	}

	if s.writeCounter != nil {
		s.writeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", "attempt"),
			attribute.String("outcome", string(attempt.Outcome)),
		))
	}

	s.logger.Debug("recorded fix attempt",
		zap.String("id", attempt.ID),
		zap.String("task_id", attempt.TaskID),
		zap.String("outcome", string(attempt.Outcome)),
	)

	return attempt.ID, nil
}

// RecordAnnotation writes a resolution annotation. Annotations are
// write-once; the ID is derived from the task so a duplicate write for
// the same task fails at the collection.
func (s *store) RecordAnnotation(ctx context.Context, taskID string, ann *Annotation) error {
	ctx, span := s.tracer.Start(ctx, "patterns.record_annotation")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if taskID == "" {
		return errors.New("task id is required")
	}
	if !ann.RootCause.Valid() {
		return fmt.Errorf("invalid root cause %q", ann.RootCause)
	}
	if !ann.FixStrategy.Valid() {
		return fmt.Errorf("invalid fix strategy %q", ann.FixStrategy)
	}

	span.SetAttributes(
		attribute.String("task_id", taskID),
		attribute.String("root_cause", string(ann.RootCause)),
		attribute.String("fix_strategy", string(ann.FixStrategy)),
	)

	col, err := s.collection(s.config.AnnotationsCollection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("opening annotations collection: %w", err)
	}

	content := string(ann.RootCause) + " " + string(ann.FixStrategy)
	if ann.Notes != "" {
		content += " " + ann.Notes
	}

	doc := chromem.Document{
		ID:      "annotation-" + taskID,
		Content: content,
		Metadata: map[string]string{
			"task_id":      taskID,
			"root_cause":   string(ann.RootCause),
			"fix_strategy": string(ann.FixStrategy),
			"severity":     ann.Severity,
			"patch":        ann.Patch,
			"created_at":   strconv.FormatInt(time.Now().Unix(), 10),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("storing annotation: %w", err)
	}

	if s.writeCounter != nil {
		s.writeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "annotation")))
	}

	s.logger.Info("recorded annotation",
		zap.String("task_id", taskID),
		zap.String("root_cause", string(ann.RootCause)),
		zap.String("fix_strategy", string(ann.FixStrategy)),
	)

	return nil
}

// SearchSimilar finds past fixes whose error signatures are semantically
// close to the given one.
func (s *store) SearchSimilar(ctx context.Context, errorSignature string, limit int) ([]SimilarFix, error) {
	ctx, span := s.tracer.Start(ctx, "patterns.search_similar")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if errorSignature == "" {
		return nil, errors.New("error signature is required")
	}
	if limit <= 0 {
		limit = 5
	}

	col, err := s.collection(s.config.AttemptsCollection)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("opening attempts collection: %w", err)
	}

	// chromem rejects queries asking for more results than stored docs.
	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, errorSignature, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying attempts: %w", err)
	}

	fixes := make([]SimilarFix, 0, len(results))
	for _, r := range results {
		fixes = append(fixes, SimilarFix{
			ID:             r.ID,
			ErrorSignature: r.Content,
			FixStrategy:    r.Metadata["fix_strategy"],
			Patch:          r.Metadata["patch"],
			Outcome:        Outcome(r.Metadata["outcome"]),
			Score:          float64(r.Similarity),
		})
	}

	if s.searchCounter != nil {
		s.searchCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("result_count", len(fixes))))
	}

	span.SetAttributes(attribute.Int("result_count", len(fixes)))
	return fixes, nil
}

// Reinforce bumps the confidence of a stored attempt. Used when a human
// resolution confirms a fix pattern was on the right track.
func (s *store) Reinforce(ctx context.Context, attemptID string) error {
	ctx, span := s.tracer.Start(ctx, "patterns.reinforce")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}

	col, err := s.collection(s.config.AttemptsCollection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("opening attempts collection: %w", err)
	}

	doc, err := col.GetByID(ctx, attemptID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("attempt not found: %s", attemptID)
	}

	confidence, _ := strconv.ParseFloat(doc.Metadata["confidence"], 64)
	confidence += s.config.ReinforceDelta
	if confidence > 1.0 {
		confidence = 1.0
	}
	doc.Metadata["confidence"] = strconv.FormatFloat(confidence, 'f', -1, 64)

	if err := col.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("updating attempt: %w", err)
	}

	s.logger.Debug("reinforced attempt",
		zap.String("id", attemptID),
		zap.Float64("confidence", confidence),
	)

	return nil
}

// Close closes the store.
func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
