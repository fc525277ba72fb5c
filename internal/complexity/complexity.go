// Package complexity scores task descriptions to a numeric difficulty.
//
// The estimator is an explicit table of (signal detector, weight) pairs.
// Each detector is evaluated independently and the matched weights are
// summed, so pattern order never influences the score. The estimator is
// deterministic, side-effect free, and total: any input yields a score.
package complexity

import (
	"regexp"
	"strings"
)

// DefaultHardThreshold separates "easy" from "hard" descriptions.
// Scores at or above it route to the capable tier.
const DefaultHardThreshold = 5

// stepThreshold is the step count beyond which a description earns the
// multi-step weight.
const stepThreshold = 4

// Signal is one independently-evaluated scoring rule.
type Signal struct {
	Name    string
	Weight  int
	pattern *regexp.Regexp
}

// Matches reports whether the signal fires for the description.
func (s Signal) Matches(description string) bool {
	return s.pattern.MatchString(description)
}

// Estimator scores task descriptions.
type Estimator struct {
	signals []Signal
}

// NewEstimator creates an estimator with the default signal table.
func NewEstimator() *Estimator {
	return &Estimator{signals: defaultSignals()}
}

func defaultSignals() []Signal {
	return []Signal{
		{
			Name:    "auth",
			Weight:  3,
			pattern: regexp.MustCompile(`(?i)\b(oauth|auth(entication|orization)?|login|log[ -]?in|sign[ -]?(in|on|up)|sso|saml|mfa|2fa|password)\b`),
		},
		{
			Name:    "payment",
			Weight:  3,
			pattern: regexp.MustCompile(`(?i)\b(payment|checkout|billing|invoice|stripe|credit[ -]?card|refund|subscription)\b`),
		},
		{
			Name:    "realtime",
			Weight:  2,
			pattern: regexp.MustCompile(`(?i)\b(websocket|streaming|real[ -]?time|server[ -]sent|sse|live[ -]?updat\w*|push notification)\b`),
		},
		{
			Name:    "mocking",
			Weight:  1,
			pattern: regexp.MustCompile(`(?i)\b(mock\w*|stub\w*|fixture\w*|fake\w*|intercept\w*)\b`),
		},
	}
}

// stepPattern matches explicit step markers: numbered list items and
// ordinal connectives.
var stepPattern = regexp.MustCompile(`(?mi)(^\s*\d+[.)]\s|\bstep\s+\d+\b|\bthen\b|\bafter that\b)`)

// Signals returns the estimator's signal table. Useful for inspecting
// which rules contribute to a score.
func (e *Estimator) Signals() []Signal {
	out := make([]Signal, len(e.signals))
	copy(out, e.signals)
	return out
}

// Score computes the difficulty of a description. Scores are unbounded
// above but conventionally small; zero means no signal matched.
func (e *Estimator) Score(description string) int {
	if strings.TrimSpace(description) == "" {
		return 0
	}

	score := 0
	for _, sig := range e.signals {
		if sig.Matches(description) {
			score += sig.Weight
		}
	}

	if countSteps(description) > stepThreshold {
		score += 2
	}

	return score
}

// countSteps counts explicit step markers in the description.
func countSteps(description string) int {
	return len(stepPattern.FindAllString(description, -1))
}
