// Package retry recovers transient collaborator failures locally with
// bounded exponential backoff. Non-transient errors are returned
// immediately; exhausting the retry budget surfaces the last transient
// error to the caller, which treats it as a structural failure.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/task"
)

// Config bounds the retry behavior.
type Config struct {
	// MaxTries is the total number of attempts, first try included
	// (default: 3).
	MaxTries uint

	// InitialInterval is the first backoff delay (default: 500ms).
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay (default: 5s).
	MaxInterval time.Duration
}

// DefaultConfig returns the default retry bounds.
func DefaultConfig() Config {
	return Config{
		MaxTries:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (c Config) applyDefaults() Config {
	d := DefaultConfig()
	if c.MaxTries == 0 {
		c.MaxTries = d.MaxTries
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = d.MaxInterval
	}
	return c
}

// Do runs fn, retrying transient failures up to the configured bound.
// Structural and other non-transient errors abort immediately.
func Do[T any](ctx context.Context, cfg Config, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval

	attempt := 0
	operation := func() (T, error) {
		attempt++
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !task.IsTransient(err) {
			return out, backoff.Permanent(err)
		}
		logger.Warn("transient failure, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return out, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(cfg.MaxTries),
	)
}
