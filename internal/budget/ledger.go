// Package budget tracks cumulative spend per session and per day and
// enforces the configured soft-warning and hard-stop thresholds. The
// ledger is shared by every concurrently running orchestrator; all
// mutation happens through Charge, which holds the ledger lock for the
// whole read-modify-write so concurrent tasks cannot together overshoot
// a limit through a race.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/task"
)

const instrumentationName = "github.com/fernworks/mendd/internal/budget"

// Config configures the ledger's limits.
type Config struct {
	// SessionLimit is the hard cap on spend per session.
	SessionLimit decimal.Decimal

	// DailyLimit is the hard cap on spend per calendar day.
	DailyLimit decimal.Decimal

	// FeatureLimit is the default hard cap on spend per feature.
	FeatureLimit decimal.Decimal

	// CriticalFeatureLimit overrides FeatureLimit for features in
	// CriticalFeatures.
	CriticalFeatureLimit decimal.Decimal

	// CriticalFeatures is the set of feature identifiers granted the
	// override limit.
	CriticalFeatures []string

	// WarnFraction is the fraction of a limit at which a soft warning
	// is logged (default: 0.8).
	WarnFraction float64
}

// DefaultConfig returns the default ledger limits.
func DefaultConfig() *Config {
	return &Config{
		SessionLimit:         decimal.NewFromFloat(5.00),
		DailyLimit:           decimal.NewFromFloat(25.00),
		FeatureLimit:         decimal.NewFromFloat(2.00),
		CriticalFeatureLimit: decimal.NewFromFloat(4.00),
		WarnFraction:         0.8,
	}
}

// Snapshot is a point-in-time, read-only copy of the ledger state,
// consumed by the router. It carries enough to answer "is the relevant
// limit already exhausted" without touching the ledger again.
type Snapshot struct {
	SessionSpent decimal.Decimal
	DailySpent   decimal.Decimal
	FeatureSpent map[string]decimal.Decimal

	SessionLimit         decimal.Decimal
	DailyLimit           decimal.Decimal
	FeatureLimit         decimal.Decimal
	CriticalFeatureLimit decimal.Decimal

	critical map[string]struct{}
}

// IsCritical reports whether the feature carries the override limit.
func (s Snapshot) IsCritical(feature string) bool {
	_, ok := s.critical[feature]
	return ok
}

// featureLimit returns the limit applicable to the feature.
func (s Snapshot) featureLimit(feature string) decimal.Decimal {
	if s.IsCritical(feature) {
		return s.CriticalFeatureLimit
	}
	return s.FeatureLimit
}

// Exhausted reports whether the session, daily, or per-feature limit is
// already spent for the feature.
func (s Snapshot) Exhausted(feature string) bool {
	if s.SessionSpent.GreaterThanOrEqual(s.SessionLimit) {
		return true
	}
	if s.DailySpent.GreaterThanOrEqual(s.DailyLimit) {
		return true
	}
	spent, ok := s.FeatureSpent[feature]
	if !ok {
		return false
	}
	return spent.GreaterThanOrEqual(s.featureLimit(feature))
}

// Ledger tracks spend against the configured limits.
type Ledger struct {
	config *Config
	logger *zap.Logger

	meter        metric.Meter
	spendCounter metric.Float64Counter
	denyCounter  metric.Int64Counter

	mu           sync.Mutex
	sessionSpent decimal.Decimal
	dailySpent   decimal.Decimal
	featureSpent map[string]decimal.Decimal
	day          time.Time
	critical     map[string]struct{}
}

// NewLedger creates a ledger with the given limits.
func NewLedger(cfg *Config, logger *zap.Logger) *Ledger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WarnFraction == 0 {
		cfg.WarnFraction = 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	critical := make(map[string]struct{}, len(cfg.CriticalFeatures))
	for _, f := range cfg.CriticalFeatures {
		critical[f] = struct{}{}
	}

	l := &Ledger{
		config:       cfg,
		logger:       logger,
		meter:        otel.Meter(instrumentationName),
		sessionSpent: decimal.Zero,
		dailySpent:   decimal.Zero,
		featureSpent: make(map[string]decimal.Decimal),
		day:          startOfDay(time.Now()),
		critical:     critical,
	}

	l.initMetrics()

	return l
}

func (l *Ledger) initMetrics() {
	var err error

	l.spendCounter, err = l.meter.Float64Counter(
		"mendd.budget.spend_total",
		metric.WithDescription("Total spend recorded by the budget ledger"),
		metric.WithUnit("{usd}"),
	)
	if err != nil {
		l.logger.Warn("failed to create spend counter", zap.Error(err))
	}

	l.denyCounter, err = l.meter.Int64Counter(
		"mendd.budget.denials_total",
		metric.WithDescription("Total charges denied by a hard limit"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		l.logger.Warn("failed to create denial counter", zap.Error(err))
	}
}

// Charge records spend for a feature. The whole check-and-add runs under
// the ledger lock. A charge that would cross any hard limit is rejected
// with task.ErrBudgetExceeded and leaves the totals untouched.
func (l *Ledger) Charge(ctx context.Context, feature string, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative charge %s for feature %q", amount, feature)
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(time.Now())

	newSession := l.sessionSpent.Add(amount)
	newDaily := l.dailySpent.Add(amount)
	newFeature := l.featureSpentFor(feature).Add(amount)

	limit := l.config.FeatureLimit
	if _, ok := l.critical[feature]; ok {
		limit = l.config.CriticalFeatureLimit
	}

	if newSession.GreaterThan(l.config.SessionLimit) ||
		newDaily.GreaterThan(l.config.DailyLimit) ||
		newFeature.GreaterThan(limit) {
		if l.denyCounter != nil {
			l.denyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", feature)))
		}
		l.logger.Warn("charge denied by budget limit",
			zap.String("feature", feature),
			zap.String("amount", amount.String()),
			zap.String("session_spent", l.sessionSpent.String()),
			zap.String("daily_spent", l.dailySpent.String()),
		)
		return fmt.Errorf("charge %s for feature %q: %w", amount, feature, task.ErrBudgetExceeded)
	}

	l.sessionSpent = newSession
	l.dailySpent = newDaily
	l.featureSpent[feature] = newFeature

	if l.spendCounter != nil {
		f, _ := amount.Float64()
		l.spendCounter.Add(ctx, f, metric.WithAttributes(attribute.String("feature", feature)))
	}

	l.warnIfNear(feature, newSession, newDaily, newFeature, limit)

	return nil
}

// warnIfNear logs a soft warning when any total crosses the warn fraction
// of its limit. Called with the lock held.
func (l *Ledger) warnIfNear(feature string, session, daily, featureTotal, featureLimit decimal.Decimal) {
	frac := decimal.NewFromFloat(l.config.WarnFraction)

	if session.GreaterThanOrEqual(l.config.SessionLimit.Mul(frac)) {
		l.logger.Warn("session budget nearing limit",
			zap.String("spent", session.String()),
			zap.String("limit", l.config.SessionLimit.String()),
		)
	}
	if daily.GreaterThanOrEqual(l.config.DailyLimit.Mul(frac)) {
		l.logger.Warn("daily budget nearing limit",
			zap.String("spent", daily.String()),
			zap.String("limit", l.config.DailyLimit.String()),
		)
	}
	if featureTotal.GreaterThanOrEqual(featureLimit.Mul(frac)) {
		l.logger.Warn("feature budget nearing limit",
			zap.String("feature", feature),
			zap.String("spent", featureTotal.String()),
			zap.String("limit", featureLimit.String()),
		)
	}
}

// Snapshot returns a consistent copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(time.Now())

	feature := make(map[string]decimal.Decimal, len(l.featureSpent))
	for k, v := range l.featureSpent {
		feature[k] = v
	}

	return Snapshot{
		SessionSpent:         l.sessionSpent,
		DailySpent:           l.dailySpent,
		FeatureSpent:         feature,
		SessionLimit:         l.config.SessionLimit,
		DailyLimit:           l.config.DailyLimit,
		FeatureLimit:         l.config.FeatureLimit,
		CriticalFeatureLimit: l.config.CriticalFeatureLimit,
		critical:             l.critical,
	}
}

// ResetSession zeroes the per-session totals, e.g. when a new operator
// session begins. Daily totals are unaffected.
func (l *Ledger) ResetSession() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionSpent = decimal.Zero
	l.featureSpent = make(map[string]decimal.Decimal)
}

// rolloverLocked resets the daily total when the calendar day changed.
// Within a billing period totals only grow; the rollover is the only
// reset, and it starts a new period.
func (l *Ledger) rolloverLocked(now time.Time) {
	day := startOfDay(now)
	if day.After(l.day) {
		l.logger.Info("daily budget rollover",
			zap.Time("previous_day", l.day),
			zap.String("previous_spent", l.dailySpent.String()),
		)
		l.day = day
		l.dailySpent = decimal.Zero
	}
}

func (l *Ledger) featureSpentFor(feature string) decimal.Decimal {
	if v, ok := l.featureSpent[feature]; ok {
		return v
	}
	return decimal.Zero
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
