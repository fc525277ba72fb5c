package router

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernworks/mendd/internal/budget"
	"github.com/fernworks/mendd/internal/task"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func ledgerSnapshot(t *testing.T, charges map[string]float64) budget.Snapshot {
	t.Helper()
	cfg := budget.DefaultConfig()
	cfg.CriticalFeatures = []string{"checkout"}
	l := budget.NewLedger(cfg, nil)
	for feature, amount := range charges {
		require.NoError(t, l.Charge(context.Background(), feature, d(amount)))
	}
	return l.Snapshot()
}

func TestRouteTierByThreshold(t *testing.T) {
	r := New(nil)
	snap := ledgerSnapshot(t, nil)

	tests := []struct {
		name  string
		score int
		want  task.Tier
	}{
		{"zero score", 0, task.TierCheap},
		{"below threshold", 4, task.TierCheap},
		{"at threshold", 5, task.TierCapable},
		{"above threshold", 9, task.TierCapable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := r.Route(Request{Score: tt.score, Feature: "search"}, snap)
			assert.Equal(t, DecisionRoute, dec.Kind)
			assert.Equal(t, tt.want, dec.Tier)
			assert.Equal(t, tt.score, dec.Score)
		})
	}
}

func TestRouteOverride(t *testing.T) {
	r := New(nil)
	snap := ledgerSnapshot(t, nil)

	override := 7
	dec := r.Route(Request{Score: 1, Override: &override, Feature: "search"}, snap)
	assert.Equal(t, task.TierCapable, dec.Tier)
	assert.Equal(t, 7, dec.Score)

	low := 0
	dec = r.Route(Request{Score: 9, Override: &low, Feature: "search"}, snap)
	assert.Equal(t, task.TierCheap, dec.Tier)
	assert.Equal(t, 0, dec.Score)
}

func TestRouteCapSelection(t *testing.T) {
	r := New(nil)
	snap := ledgerSnapshot(t, nil)

	dec := r.Route(Request{Score: 3, Feature: "search"}, snap)
	assert.True(t, dec.Cap.Equal(d(0.50)))

	dec = r.Route(Request{Score: 3, Feature: "checkout"}, snap)
	assert.True(t, dec.Cap.Equal(d(1.00)))
}

func TestRouteBudgetExceeded(t *testing.T) {
	r := New(nil)

	// Exhaust the feature limit for "search".
	snap := ledgerSnapshot(t, map[string]float64{"search": 2.00})

	dec := r.Route(Request{Score: 8, Feature: "search"}, snap)
	assert.Equal(t, DecisionBudgetExceeded, dec.Kind)
	assert.True(t, dec.Cap.IsZero())
	assert.Empty(t, dec.Tier)
	assert.Equal(t, 8, dec.Score)

	// Other features still route.
	dec = r.Route(Request{Score: 8, Feature: "profile"}, snap)
	assert.Equal(t, DecisionRoute, dec.Kind)
}

func TestRouteSessionExhaustedDeniesEverything(t *testing.T) {
	r := New(nil)
	snap := ledgerSnapshot(t, map[string]float64{
		"a": 2.00, "b": 2.00, "c": 1.00,
	})

	for _, feature := range []string{"a", "fresh", "checkout"} {
		dec := r.Route(Request{Score: 1, Feature: feature}, snap)
		assert.Equal(t, DecisionBudgetExceeded, dec.Kind, "feature %s", feature)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.HardThreshold)
	assert.True(t, cfg.DefaultCap.Equal(d(0.50)))
	assert.True(t, cfg.CriticalCap.Equal(d(1.00)))
}
