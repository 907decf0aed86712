// Package velocity counts validation attempts per identity.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FactorDescription labels the risk factor added for repeated attempts.
const FactorDescription = "Repeated validation attempts"

// Service tracks validation velocity for identities.
type Service struct {
	cache     domain.Cache
	window    time.Duration
	threshold int64
}

// NewService creates a new velocity service. A zero threshold disables it.
func NewService(cache domain.Cache, cfg domain.VelocityConfig) *Service {
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		cache:     cache,
		window:    window,
		threshold: cfg.Threshold,
	}
}

// Enabled reports whether attempts are being counted.
func (s *Service) Enabled() bool {
	return s != nil && s.cache != nil && s.threshold > 0
}

// RecordAttempt counts one validation for identityID within the window and
// returns the running count.
func (s *Service) RecordAttempt(ctx context.Context, identityID string) (int64, error) {
	if identityID == "" {
		return 0, fmt.Errorf("%w: identityID is required", domain.ErrInvalidInput)
	}
	if !s.Enabled() {
		return 0, nil
	}

	count, err := s.cache.IncrementCounter(ctx, domain.CacheKeyVelocity+identityID, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to count validation attempts: %w", err)
	}
	return count, nil
}

// Check records an attempt and returns a risk factor when the identity has
// exceeded the threshold within the window.
func (s *Service) Check(ctx context.Context, identityID string) (*domain.RiskFactor, error) {
	count, err := s.RecordAttempt(ctx, identityID)
	if err != nil || !s.Enabled() || count <= s.threshold {
		return nil, err
	}

	return &domain.RiskFactor{
		Category:    domain.CategoryTemporalAnomaly,
		Severity:    domain.RiskMedium,
		Confidence:  0.6,
		Description: FactorDescription,
		Feature:     "validation_velocity",
		Value:       float64(count),
	}, nil
}
