package task

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientError(t *testing.T) {
	base := errors.New("connection refused")
	err := Transient("executor.run", base)

	assert.True(t, IsTransient(err))
	assert.False(t, IsStructural(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "executor.run")

	wrapped := fmt.Errorf("running artifact: %w", err)
	assert.True(t, IsTransient(wrapped))
}

func TestStructuralError(t *testing.T) {
	err := Structural("generator.generate", "empty artifact content")

	assert.True(t, IsStructural(err))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "empty artifact content")

	wrapped := fmt.Errorf("generating: %w", err)
	assert.True(t, IsStructural(wrapped))
}

func TestPlainErrorsAreNeither(t *testing.T) {
	err := errors.New("boom")
	assert.False(t, IsTransient(err))
	assert.False(t, IsStructural(err))
}
