package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fernworks/mendd/internal/task"
)

// ErrQueueFull is returned when the intake queue cannot accept a task.
var ErrQueueFull = errors.New("task queue is full")

// ErrClosed is returned for operations on a closed service.
var ErrClosed = errors.New("orchestrator is closed")

// SubmitRequest is one task intake.
type SubmitRequest struct {
	// Description is the free-text statement of what to author or fix.
	Description string

	// Feature identifies the owning product feature.
	Feature string

	// Override, when non-nil, bypasses the complexity estimator.
	Override *int
}

// Service accepts tasks and drives them on a bounded worker pool.
type Service interface {
	// Submit accepts a task for asynchronous processing and returns its
	// queued snapshot immediately.
	Submit(ctx context.Context, req SubmitRequest) (*task.Task, error)

	// Get returns a snapshot of the task.
	Get(ctx context.Context, id string) (*task.Task, error)

	// List returns snapshots of all known tasks, newest first.
	List(ctx context.Context) ([]*task.Task, error)

	// Close drains the queue, waits for in-flight tasks, and shuts the
	// pool down.
	Close() error
}

// PoolConfig bounds the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent task drivers (default: 4).
	Workers int

	// QueueSize is the intake buffer (default: 64).
	QueueSize int
}

// DefaultPoolConfig returns the reference configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:   4,
		QueueSize: 64,
	}
}

type job struct {
	t        *task.Task
	override *int
}

type service struct {
	engine *Engine
	logger *zap.Logger

	jobs   chan job
	group  *errgroup.Group
	cancel context.CancelFunc

	mu     sync.RWMutex
	tasks  map[string]*task.Task
	closed bool
}

// NewService starts the worker pool. The engine's state store is
// wrapped so every persisted transition also refreshes the service's
// in-memory snapshot; workers own their task structs exclusively and
// readers only ever see snapshots.
func NewService(cfg *PoolConfig, engine *Engine, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	s := &service{
		engine: engine,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
		group:  group,
		cancel: cancel,
		tasks:  make(map[string]*task.Task),
	}

	engine.state = &trackingStore{inner: engine.state, svc: s}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			s.worker(gctx)
			return nil
		})
	}

	logger.Info("orchestrator pool started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
	)

	return s, nil
}

func (s *service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			if err := s.engine.Run(ctx, j.t, j.override); err != nil {
				s.logger.Error("task run failed",
					zap.String("task_id", j.t.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Submit accepts a task without blocking; a full queue is the caller's
// signal to back off.
func (s *service) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	ctx, span := s.engine.tracer.Start(ctx, "orchestrator.submit")
	defer span.End()

	if req.Description == "" {
		return nil, errors.New("description is required")
	}
	if req.Feature == "" {
		return nil, errors.New("feature is required")
	}

	t := task.New(req.Description, req.Feature)
	span.SetAttributes(attribute.String("task_id", t.ID))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.tasks[t.ID] = t.Clone()
	s.mu.Unlock()

	select {
	case s.jobs <- job{t: t, override: req.Override}:
	default:
		s.mu.Lock()
		delete(s.tasks, t.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: rejected task for feature %q", ErrQueueFull, req.Feature)
	}

	s.logger.Info("task accepted",
		zap.String("task_id", t.ID),
		zap.String("feature", t.Feature),
	)

	return t.Clone(), nil
}

func (s *service) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return t.Clone(), nil
}

func (s *service) List(ctx context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close stops intake, lets queued and in-flight tasks finish, then
// releases the pool.
func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.jobs)
	err := s.group.Wait()
	s.cancel()

	s.logger.Info("orchestrator pool stopped")
	return err
}

// trackingStore refreshes the service's snapshot map on every persisted
// transition, then delegates to the real store.
type trackingStore struct {
	inner StateStore
	svc   *service
}

func (ts *trackingStore) PutTask(ctx context.Context, t *task.Task) error {
	ts.svc.mu.Lock()
	ts.svc.tasks[t.ID] = t.Clone()
	ts.svc.mu.Unlock()

	if ts.inner == nil {
		return nil
	}
	return ts.inner.PutTask(ctx, t)
}

func (ts *trackingStore) PublishTransition(ctx context.Context, rec task.TransitionRecord) {
	if ts.inner != nil {
		ts.inner.PublishTransition(ctx, rec)
	}
}
