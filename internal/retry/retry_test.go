package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernworks/mendd/internal/task"
)

func fastConfig() Config {
	return Config{
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestDoSuccessFirstTry(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastConfig(), nil, "op",
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastConfig(), nil, "op",
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, task.Transient("op", errors.New("connection reset"))
			}
			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsTransient(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), nil, "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, task.Transient("op", errors.New("timeout"))
		})

	require.Error(t, err)
	assert.True(t, task.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDoStructuralNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), nil, "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, task.Structural("op", "malformed output")
		})

	require.Error(t, err)
	assert.True(t, task.IsStructural(err))
	assert.Equal(t, 1, calls)
}

func TestDoPlainErrorNotRetried(t *testing.T) {
	sentinel := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fastConfig(), nil, "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, sentinel
		})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastConfig(), nil, "op",
		func(ctx context.Context) (int, error) {
			return 0, task.Transient("op", errors.New("timeout"))
		})

	require.Error(t, err)
}
