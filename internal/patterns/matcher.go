// Package patterns matches validation results against the fraud pattern
// registry and learns new patterns from high-risk results.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in match thresholds over detailed scores.
const (
	deepfakeMatchBelow       = 0.3
	documentMatchBelow       = 0.4
	crossReferenceMatchBelow = 0.2
)

// DefaultSynthesisThreshold is the fraud probability above which a new
// pattern is learned.
const DefaultSynthesisThreshold = 0.8

var (
	synthesizedIndicators  = []string{"high_fraud_probability", "ai_model_detection"}
	synthesizedMitigations = []string{"Enhanced verification required", "Manual review recommended"}

	deepfakeIndicators  = []string{"synthetic_media", "low_liveness"}
	deepfakeMitigations = []string{"Live video verification", "Multi-factor biometric check"}
)

// MatchOutcome is what MatchAndLearn found and created.
type MatchOutcome struct {
	Matched []*domain.FraudPattern
	Factors []domain.RiskFactor
	Created *domain.FraudPattern
}

// Matcher checks results against the registry.
type Matcher struct {
	registry           domain.PatternRegistry
	conditions         *Conditions
	synthesisThreshold float64
	trackOccurrences   bool
	now                func() time.Time
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock overrides the clock used for pattern ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		m.now = now
	}
}

// NewMatcher creates a matcher over registry.
func NewMatcher(registry domain.PatternRegistry, conditions *Conditions, cfg domain.PatternConfig, opts ...Option) *Matcher {
	threshold := cfg.SynthesisThreshold
	if threshold <= 0 {
		threshold = DefaultSynthesisThreshold
	}
	m := &Matcher{
		registry:           registry,
		conditions:         conditions,
		synthesisThreshold: threshold,
		trackOccurrences:   cfg.TrackOccurrences,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MatchAndLearn returns the registry patterns result matches, one risk
// factor per match, and the pattern synthesized when the fraud probability
// exceeds the synthesis threshold. The registry is only written on
// synthesis, or on match when occurrence tracking is enabled.
func (m *Matcher) MatchAndLearn(ctx context.Context, req *domain.ValidationRequest, result *domain.ValidationResult) (*MatchOutcome, error) {
	known, err := m.registry.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud patterns: %w", err)
	}

	out := &MatchOutcome{}
	now := m.now().UTC()

	for _, p := range known {
		if !m.matches(p, result) {
			continue
		}
		out.Matched = append(out.Matched, p)
		out.Factors = append(out.Factors, matchedFactor(p))

		if m.trackOccurrences {
			if err := m.registry.RecordPatternOccurrence(ctx, p.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("failed to record pattern occurrence: %w", err)
			}
		}
	}

	if result.FraudProbability > m.synthesisThreshold {
		p := &domain.FraudPattern{
			ID:                     domain.NewPatternID(now, req.IdentityID),
			PatternType:            synthesizedType(result.DetailedScores),
			Indicators:             append([]string(nil), synthesizedIndicators...),
			Severity:               result.FraudProbability,
			OccurrenceCount:        1,
			FirstDetected:          now,
			LastDetected:           now,
			GeographicDistribution: geography(req),
			MitigationStrategies:   append([]string(nil), synthesizedMitigations...),
		}
		if err := m.registry.SavePattern(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to save fraud pattern: %w", err)
		}
		out.Created = p

		slog.Info("fraud pattern learned",
			"pattern_id", p.ID,
			"pattern_type", p.PatternType,
			"identity_id", req.IdentityID,
			"severity", p.Severity,
		)
	}

	return out, nil
}

// LearnDeepfake records a DeepfakeAttack pattern for a flagged sample.
func (m *Matcher) LearnDeepfake(ctx context.Context, probability float64) (*domain.FraudPattern, error) {
	now := m.now().UTC()
	p := &domain.FraudPattern{
		ID:                     domain.NewDeepfakePatternID(now),
		PatternType:            domain.PatternDeepfakeAttack,
		Indicators:             append([]string(nil), deepfakeIndicators...),
		Severity:               probability,
		OccurrenceCount:        1,
		FirstDetected:          now,
		LastDetected:           now,
		GeographicDistribution: []string{},
		MitigationStrategies:   append([]string(nil), deepfakeMitigations...),
	}
	if err := m.registry.SavePattern(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save deepfake pattern: %w", err)
	}

	slog.Info("deepfake pattern learned", "pattern_id", p.ID, "severity", probability)
	return p, nil
}

// Register validates and stores an admin-defined pattern.
func (m *Matcher) Register(ctx context.Context, p *domain.FraudPattern) error {
	if p == nil {
		return fmt.Errorf("%w: pattern is required", domain.ErrInvalidInput)
	}
	if !p.PatternType.Valid() {
		return fmt.Errorf("%w: unknown pattern type %q", domain.ErrInvalidInput, p.PatternType)
	}
	if p.Severity < 0 || p.Severity > 1 {
		return fmt.Errorf("%w: severity must be within [0, 1]", domain.ErrInvalidInput)
	}
	if p.Condition != "" {
		if err := m.conditions.Compile(p.Condition); err != nil {
			return err
		}
	}

	now := m.now().UTC()
	if p.ID == "" {
		p.ID = domain.NewPatternID(now, "registered")
	}
	if p.FirstDetected.IsZero() {
		p.FirstDetected = now
	}
	if p.LastDetected.IsZero() {
		p.LastDetected = p.FirstDetected
	}
	return m.registry.SavePattern(ctx, p)
}

// matches applies the pattern's condition, or the built-in rule when it has none.
func (m *Matcher) matches(p *domain.FraudPattern, result *domain.ValidationResult) bool {
	if p.Condition != "" && m.conditions != nil {
		ok, err := m.conditions.Eval(p.Condition, result)
		if err != nil {
			slog.Warn("pattern condition failed",
				"pattern_id", p.ID,
				"error", err,
			)
			return false
		}
		return ok
	}

	s := result.DetailedScores
	switch p.PatternType {
	case domain.PatternDeepfakeAttack:
		return s.DeepfakeDetection < deepfakeMatchBelow
	case domain.PatternDocumentForgery:
		return s.DocumentAuthenticity < documentMatchBelow
	case domain.PatternSyntheticIdentity:
		return s.CrossReferenceMatch < crossReferenceMatchBelow
	default:
		return false
	}
}

// synthesizedType picks the type of a learned pattern: deepfake first, then
// document, then cross-reference.
func synthesizedType(s domain.DetailedScores) domain.PatternType {
	switch {
	case s.DeepfakeDetection < deepfakeMatchBelow:
		return domain.PatternDeepfakeAttack
	case s.DocumentAuthenticity < documentMatchBelow:
		return domain.PatternDocumentForgery
	default:
		return domain.PatternSyntheticIdentity
	}
}

// matchedFactor reports a pattern match. The category is always
// DocumentFraud regardless of pattern type.
func matchedFactor(p *domain.FraudPattern) domain.RiskFactor {
	severity := domain.RiskMedium
	if p.Severity >= 0.7 {
		severity = domain.RiskHigh
	}
	return domain.RiskFactor{
		Category:    domain.CategoryDocumentFraud,
		Severity:    severity,
		Confidence:  p.Severity,
		Description: fmt.Sprintf("Matches known fraud pattern %s (%s)", p.ID, p.PatternType),
		Feature:     "fraud_pattern",
		Value:       p.Severity,
	}
}

func geography(req *domain.ValidationRequest) []string {
	if req.Context.Geolocation == nil || req.Context.Geolocation.Country == "" {
		return []string{}
	}
	return []string{req.Context.Geolocation.Country}
}
