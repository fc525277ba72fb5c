package patterns

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder is a deterministic stand-in for a real embedding model.
// Similar strings do not get similar vectors; tests only rely on exact
// matches ranking first.
type hashEmbedder struct{}

func (hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float64, 8)
	for i, b := range []byte(text) {
		vec[i%8] += float64(b)
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	out := make([]float32, 8)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func newStore(t *testing.T) Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	s, err := NewStore(cfg, hashEmbedder{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAttemptAndSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.RecordAttempt(ctx, &Attempt{
		TaskID:         "task-1",
		ErrorSignature: "timeout waiting for #submit",
		FixStrategy:    "wait_for_element",
		Patch:          "add waitFor",
		Outcome:        OutcomeCommitted,
		Confidence:     0.9,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.RecordAttempt(ctx, &Attempt{
		TaskID:         "task-2",
		ErrorSignature: "element #login-button not found",
		FixStrategy:    "update_selector",
		Outcome:        OutcomeRolledBack,
		Confidence:     0.6,
	})
	require.NoError(t, err)

	fixes, err := s.SearchSimilar(ctx, "timeout waiting for #submit", 5)
	require.NoError(t, err)
	require.Len(t, fixes, 2)

	// The exact signature match ranks first.
	assert.Equal(t, "timeout waiting for #submit", fixes[0].ErrorSignature)
	assert.Equal(t, "wait_for_element", fixes[0].FixStrategy)
	assert.Equal(t, OutcomeCommitted, fixes[0].Outcome)
	assert.Greater(t, fixes[0].Score, fixes[1].Score)
}

func TestRecordAttemptRequiresSignature(t *testing.T) {
	s := newStore(t)

	_, err := s.RecordAttempt(context.Background(), &Attempt{TaskID: "task-1"})
	require.Error(t, err)
}

func TestSearchSimilarEmptyStore(t *testing.T) {
	s := newStore(t)

	fixes, err := s.SearchSimilar(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestSearchSimilarLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, sig := range []string{"error one", "error two", "error three"} {
		_, err := s.RecordAttempt(ctx, &Attempt{
			TaskID:         "task",
			ErrorSignature: sig,
			Outcome:        OutcomeRolledBack,
		})
		require.NoError(t, err)
	}

	fixes, err := s.SearchSimilar(ctx, "error one", 2)
	require.NoError(t, err)
	assert.Len(t, fixes, 2)
}

func TestRecordAnnotation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.RecordAnnotation(ctx, "task-1", &Annotation{
		RootCause:   RootCauseTimingFlake,
		FixStrategy: FixAddRetry,
		Severity:    "medium",
		Notes:       "spinner races the assertion",
	})
	require.NoError(t, err)

	// Annotations are write-once per task.
	err = s.RecordAnnotation(ctx, "task-1", &Annotation{
		RootCause:   RootCauseLogicError,
		FixStrategy: FixRegenerate,
	})
	require.Error(t, err)
}

func TestRecordAnnotationValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.RecordAnnotation(ctx, "", &Annotation{
		RootCause:   RootCauseOther,
		FixStrategy: FixOther,
	})
	require.Error(t, err)

	err = s.RecordAnnotation(ctx, "task-1", &Annotation{
		RootCause:   "cosmic_rays",
		FixStrategy: FixOther,
	})
	require.Error(t, err)

	err = s.RecordAnnotation(ctx, "task-1", &Annotation{
		RootCause:   RootCauseOther,
		FixStrategy: "wish_harder",
	})
	require.Error(t, err)
}

func TestReinforce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.RecordAttempt(ctx, &Attempt{
		TaskID:         "task-1",
		ErrorSignature: "timeout",
		Outcome:        OutcomeCommitted,
		Confidence:     0.95,
	})
	require.NoError(t, err)

	// Confidence is bumped but capped at 1.0.
	require.NoError(t, s.Reinforce(ctx, id))
	require.NoError(t, s.Reinforce(ctx, id))

	require.Error(t, s.Reinforce(ctx, "missing-id"))
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())

	_, err := s.RecordAttempt(context.Background(), &Attempt{ErrorSignature: "x"})
	require.Error(t, err)

	_, err = s.SearchSimilar(context.Background(), "x", 1)
	require.Error(t, err)
}

func TestRootCauseValid(t *testing.T) {
	valid := []RootCause{
		RootCauseSelectorDrift, RootCauseTimingFlake, RootCauseDataDependency,
		RootCauseEnvironment, RootCauseLogicError, RootCauseOther,
	}
	for _, rc := range valid {
		assert.True(t, rc.Valid(), "root cause %s", rc)
	}
	assert.False(t, RootCause("cosmic_rays").Valid())
	assert.False(t, RootCause("").Valid())
}

func TestFixStrategyValid(t *testing.T) {
	valid := []FixStrategy{
		FixWaitForElement, FixUpdateSelector, FixUpdateAssertion,
		FixAddRetry, FixRegenerate, FixManualPatch, FixOther,
	}
	for _, fs := range valid {
		assert.True(t, fs.Valid(), "fix strategy %s", fs)
	}
	assert.False(t, FixStrategy("wish_harder").Valid())
	assert.False(t, FixStrategy("").Valid())
}
