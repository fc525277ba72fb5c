package complexity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	est := NewEstimator()

	tests := []struct {
		name        string
		description string
		want        int
	}{
		{
			name:        "empty description",
			description: "",
			want:        0,
		},
		{
			name:        "whitespace only",
			description: "   \n\t  ",
			want:        0,
		},
		{
			name:        "no signals",
			description: "verify the footer links render",
			want:        0,
		},
		{
			name:        "auth keyword",
			description: "test the OAuth consent screen",
			want:        3,
		},
		{
			name:        "payment keyword",
			description: "verify the checkout total",
			want:        3,
		},
		{
			name:        "realtime keyword",
			description: "assert websocket reconnect behavior",
			want:        2,
		},
		{
			name:        "mocking keyword",
			description: "stub the weather API response",
			want:        1,
		},
		{
			name:        "auth plus five numbered steps",
			description: "Test OAuth sign-in:\n1. open the page\n2. click login\n3. enter credentials\n4. approve consent\n5. verify redirect",
			want:        5,
		},
		{
			name:        "four steps stays below step bonus",
			description: "Check the cart:\n1. add item\n2. open cart\n3. change quantity\n4. verify total",
			want:        0,
		},
		{
			name:        "auth and payment stack",
			description: "login and complete checkout",
			want:        6,
		},
		{
			name:        "case insensitive",
			description: "PAYMENT flow with STUBBED gateway",
			want:        4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, est.Score(tt.description))
		})
	}
}

func TestScoreSignalsIndependent(t *testing.T) {
	est := NewEstimator()

	// Repeating a keyword must not double its weight.
	assert.Equal(t, 3, est.Score("login login login"))
}

func TestScoreHardThresholdBoundary(t *testing.T) {
	est := NewEstimator()

	// An auth flow with more than four explicit steps crosses the
	// hard threshold exactly.
	desc := "OAuth flow: step 1 open, then click, then type, then submit, then verify"
	assert.GreaterOrEqual(t, est.Score(desc), DefaultHardThreshold)
}

func TestSignalsCopy(t *testing.T) {
	est := NewEstimator()

	sigs := est.Signals()
	assert.Len(t, sigs, 4)

	sigs[0].Weight = 99
	assert.NotEqual(t, 99, est.Signals()[0].Weight)
}
