package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// setStatus caches a status record. Failures are logged, never returned.
func (s *Service) setStatus(ctx context.Context, requestID, identityID string, status domain.VerificationStatus, reason string) *domain.StatusRecord {
	rec := &domain.StatusRecord{
		RequestID:  requestID,
		IdentityID: identityID,
		Status:     status,
		Error:      reason,
		UpdatedAt:  s.now().UTC(),
	}
	if s.cache == nil {
		return rec
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return rec
	}
	if err := s.cache.Set(ctx, domain.CacheKeyStatus+requestID, data, s.statusTTL); err != nil {
		slog.Warn("failed to cache verification status",
			"request_id", requestID,
			"status", status,
			"error", err,
		)
	}
	return rec
}

// Status returns the verification status of a request. Requests no longer
// tracked in the cache are reported Completed if the ledger holds them.
func (s *Service) Status(ctx context.Context, caller, requestID string) (*domain.StatusRecord, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}

	if s.cache != nil {
		data, err := s.cache.Get(ctx, domain.CacheKeyStatus+requestID)
		if err != nil {
			slog.Warn("failed to read verification status", "request_id", requestID, "error", err)
		}
		if data != nil {
			var rec domain.StatusRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
		}
	}

	result, err := s.repo.GetValidation(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &domain.StatusRecord{
		RequestID:  result.RequestID,
		IdentityID: result.IdentityID,
		Status:     domain.StatusCompleted,
		UpdatedAt:  result.CompletedAt,
	}, nil
}

// GetValidation returns a persisted result.
func (s *Service) GetValidation(ctx context.Context, caller, requestID string) (*domain.ValidationResult, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.repo.GetValidation(ctx, requestID)
}

// ListValidations returns an identity's results, newest first.
func (s *Service) ListValidations(ctx context.Context, caller, identityID string, limit int) ([]*domain.ValidationResult, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	if identityID == "" {
		return nil, fmt.Errorf("%w: identityID is required", domain.ErrInvalidInput)
	}
	return s.repo.ListValidationsByIdentity(ctx, identityID, limit)
}

// ActiveModel returns a snapshot of the active model.
func (s *Service) ActiveModel(ctx context.Context, caller string) (*domain.FraudDetectionModel, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.models.Active(ctx)
}

// PerformanceMetrics returns the rolling performance scorecard.
func (s *Service) PerformanceMetrics(ctx context.Context, caller string) (*domain.ModelPerformanceMetrics, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.repo.GetPerformanceMetrics(ctx)
}

// ListPatterns returns the fraud pattern registry.
func (s *Service) ListPatterns(ctx context.Context, caller string) ([]*domain.FraudPattern, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.repo.ListPatterns(ctx)
}

// GetPattern returns one fraud pattern.
func (s *Service) GetPattern(ctx context.Context, caller, id string) (*domain.FraudPattern, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.repo.GetPattern(ctx, id)
}

// RegisterPattern stores an admin-defined pattern. Admin only.
func (s *Service) RegisterPattern(ctx context.Context, caller string, p *domain.FraudPattern) error {
	if err := s.authorizeAdmin(ctx, caller); err != nil {
		return err
	}
	if err := s.matcher.Register(ctx, p); err != nil {
		return err
	}
	slog.Info("fraud pattern registered",
		"pattern_id", p.ID,
		"pattern_type", p.PatternType,
		"registered_by", caller,
	)
	return nil
}

// Health pings the backing stores.
func (s *Service) Health(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if s.bus != nil {
		if err := s.bus.Ping(ctx); err != nil {
			return fmt.Errorf("event bus: %w", err)
		}
	}
	return nil
}

// Ready reports whether the service can score requests and returns the
// active model version.
func (s *Service) Ready(ctx context.Context) (string, error) {
	if err := s.Health(ctx); err != nil {
		return "", err
	}
	m, err := s.models.Active(ctx)
	if err != nil {
		return "", errors.Join(errors.New("model unavailable"), err)
	}
	return m.Version, nil
}
