package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityReferenceExample(t *testing.T) {
	// Critical feature, 2 of 3 attempts, $0.30 of $0.50 spent, 600s in
	// queue against a one-hour window:
	// 0.3*(2/3) + 0.2*(0.30/0.50) + 0.3*1.0 + 0.2*(600/3600)
	got := Priority(DefaultWeights(), PriorityInput{
		Attempts:    2,
		MaxAttempts: 3,
		CostSpent:   0.30,
		CostCap:     0.50,
		Critical:    true,
		TimeInQueue: 600 * time.Second,
		Window:      time.Hour,
	})
	assert.InDelta(t, 0.6533, got, 0.001)
}

func TestPriorityBounds(t *testing.T) {
	tests := []struct {
		name string
		in   PriorityInput
		want float64
	}{
		{
			name: "all zero",
			in:   PriorityInput{MaxAttempts: 3, CostCap: 0.50, Window: time.Hour},
			want: 0,
		},
		{
			name: "everything maxed",
			in: PriorityInput{
				Attempts:    3,
				MaxAttempts: 3,
				CostSpent:   0.50,
				CostCap:     0.50,
				Critical:    true,
				TimeInQueue: 2 * time.Hour,
				Window:      time.Hour,
			},
			want: 1,
		},
		{
			name: "terms clamp above one",
			in: PriorityInput{
				Attempts:    10,
				MaxAttempts: 3,
				CostSpent:   5,
				CostCap:     0.50,
				Critical:    true,
				TimeInQueue: 48 * time.Hour,
				Window:      time.Hour,
			},
			want: 1,
		},
		{
			name: "zero denominators contribute nothing",
			in: PriorityInput{
				Attempts:    2,
				CostSpent:   0.30,
				TimeInQueue: time.Hour,
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Priority(DefaultWeights(), tt.in)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPriorityMonotonic(t *testing.T) {
	base := PriorityInput{
		Attempts:    1,
		MaxAttempts: 3,
		CostSpent:   0.10,
		CostCap:     0.50,
		TimeInQueue: 5 * time.Minute,
		Window:      time.Hour,
	}
	w := DefaultWeights()
	p0 := Priority(w, base)

	moreAttempts := base
	moreAttempts.Attempts = 2
	assert.Greater(t, Priority(w, moreAttempts), p0)

	moreCost := base
	moreCost.CostSpent = 0.40
	assert.Greater(t, Priority(w, moreCost), p0)

	older := base
	older.TimeInQueue = 30 * time.Minute
	assert.Greater(t, Priority(w, older), p0)

	critical := base
	critical.Critical = true
	assert.Greater(t, Priority(w, critical), p0)
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, w.Attempts+w.Cost+w.Critical+w.Age, 1e-9)
}
