package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/escalation"
	"github.com/fernworks/mendd/internal/task"
)

const instrumentationName = "github.com/fernworks/mendd/internal/statestore"

// ErrNotFound is returned when a key does not exist in a bucket.
var ErrNotFound = errors.New("not found in state store")

// Config configures bucket names and retention.
type Config struct {
	// TaskBucket holds serialized task records.
	TaskBucket string

	// EscalationBucket holds serialized escalation entries.
	EscalationBucket string

	// TaskTTL ages out abandoned task records. Zero keeps them forever.
	TaskTTL time.Duration
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return &Config{
		TaskBucket:       "mendd_tasks",
		EscalationBucket: "mendd_escalations",
		TaskTTL:          time.Hour,
	}
}

// Store is the JetStream-backed persistence layer. It satisfies
// escalation.Durable.
type Store struct {
	nc     *nats.Conn
	tasks  jetstream.KeyValue
	entrs  jetstream.KeyValue
	logger *zap.Logger
	tracer trace.Tracer
}

// New connects the store to JetStream, creating the buckets if needed.
func New(ctx context.Context, cfg *Config, nc *nats.Conn, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	tasks, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.TaskBucket,
		TTL:    cfg.TaskTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating task bucket %q: %w", cfg.TaskBucket, err)
	}

	entrs, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.EscalationBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("creating escalation bucket %q: %w", cfg.EscalationBucket, err)
	}

	return &Store{
		nc:     nc,
		tasks:  tasks,
		entrs:  entrs,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// PutTask writes the task record, overwriting any prior version.
func (s *Store) PutTask(ctx context.Context, t *task.Task) error {
	ctx, span := s.tracer.Start(ctx, "statestore.put_task")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", t.ID))

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if _, err := s.tasks.Put(ctx, t.ID, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("put task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task record by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.get_task")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", id))

	entry, err := s.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	var t task.Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &t, nil
}

// DeleteTask removes a task record. Deleting a missing key is not an
// error.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "statestore.delete_task")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", id))

	if err := s.tasks.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		span.RecordError(err)
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// PutEntry writes an escalation entry, overwriting any prior version.
func (s *Store) PutEntry(ctx context.Context, entry *escalation.Entry) error {
	ctx, span := s.tracer.Start(ctx, "statestore.put_entry")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", entry.TaskID))

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal escalation entry %s: %w", entry.TaskID, err)
	}
	if _, err := s.entrs.Put(ctx, entry.TaskID, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("put escalation entry %s: %w", entry.TaskID, err)
	}
	return nil
}

// ListEntries loads all persisted escalation entries. A bucket with no
// keys returns an empty slice.
func (s *Store) ListEntries(ctx context.Context) ([]*escalation.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.list_entries")
	defer span.End()

	lister, err := s.entrs.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("list escalation keys: %w", err)
	}

	var out []*escalation.Entry
	for key := range lister.Keys() {
		kvEntry, err := s.entrs.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("get escalation entry %s: %w", key, err)
		}

		var e escalation.Entry
		if err := json.Unmarshal(kvEntry.Value(), &e); err != nil {
			s.logger.Warn("skipping undecodable escalation entry",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		out = append(out, &e)
	}

	span.SetAttributes(attribute.Int("entry_count", len(out)))
	return out, nil
}

// PublishTransition publishes a task lifecycle event on the subject
// tasks.{task_id}.transition. Subscribers stream these for dashboards
// and audit; publish failures are logged, never fatal to the task.
func (s *Store) PublishTransition(ctx context.Context, rec task.TransitionRecord) {
	_, span := s.tracer.Start(ctx, "statestore.publish_transition")
	defer span.End()

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to marshal transition record",
			zap.String("task_id", rec.TaskID),
			zap.Error(err),
		)
		return
	}

	subject := fmt.Sprintf("tasks.%s.transition", rec.TaskID)
	if err := s.nc.Publish(subject, data); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to publish transition event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
