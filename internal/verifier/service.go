// Package verifier owns the validation pipeline: access control, feature
// extraction, inference, classification, pattern matching, persistence and
// downstream notification.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/identity"
	"github.com/opensource-finance/kestrel/internal/inference"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

var tracer = otel.Tracer("kestrel-verifier")

// deepfakeFlagThreshold is the adjusted probability above which a sample
// is recorded as a deepfake attack.
const deepfakeFlagThreshold = 0.8

// heuristicCorrectConfidence is the confidence above which a live
// prediction is counted as correct in the rolling metrics.
const heuristicCorrectConfidence = 0.8

// Service runs validations and manages the model on behalf of callers.
type Service struct {
	repo      domain.Repository
	models    *model.Store
	trainer   *model.Trainer
	matcher   *patterns.Matcher
	extractor *features.Extractor

	identity domain.IdentityProvider
	bus      domain.EventBus
	cache    domain.Cache
	velocity *velocity.Service
	metrics  *metrics.Metrics

	collaborator   string
	statusTTL      time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIdentityProvider sets where ValidateIdentity fetches evidence from.
func WithIdentityProvider(p domain.IdentityProvider) Option {
	return func(s *Service) {
		s.identity = p
	}
}

// WithEventBus publishes downstream notifications on b.
func WithEventBus(b domain.EventBus, publishTimeout time.Duration) Option {
	return func(s *Service) {
		s.bus = b
		if publishTimeout > 0 {
			s.publishTimeout = publishTimeout
		}
	}
}

// WithCache tracks verification statuses in c.
func WithCache(c domain.Cache, statusTTL time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if statusTTL > 0 {
			s.statusTTL = statusTTL
		}
	}
}

// WithVelocity adds a risk factor for identities validated too often.
func WithVelocity(v *velocity.Service) Option {
	return func(s *Service) {
		s.velocity = v
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock freezes the time source, including the feature placeholder slots.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.extractor = features.NewExtractor(features.WithClock(now))
	}
}

// NewService creates a validation service. collaborator is the principal
// of the identity service, which may request validations alongside admins.
func NewService(repo domain.Repository, models *model.Store, matcher *patterns.Matcher, collaborator string, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		models:         models,
		trainer:        model.NewTrainer(models, repo, repo),
		matcher:        matcher,
		extractor:      features.NewExtractor(),
		collaborator:   collaborator,
		statusTTL:      24 * time.Hour,
		publishTimeout: 2 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateIdentity fetches the identity's evidence from the identity
// service and returns its overall score.
func (s *Service) ValidateIdentity(ctx context.Context, caller, identityID string) (float64, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return 0, err
	}
	if identityID == "" {
		return 0, fmt.Errorf("%w: identityID is required", domain.ErrInvalidInput)
	}
	if s.identity == nil {
		return 0, identity.ErrServiceUnavailable
	}

	// Fetch evidence and load the model concurrently.
	g, gctx := errgroup.WithContext(ctx)

	var profile *domain.IdentityProfile
	var active *domain.FraudDetectionModel

	g.Go(func() error {
		p, err := s.identity.FetchIdentity(gctx, identityID)
		if err != nil {
			return fmt.Errorf("failed to fetch identity %s: %w", identityID, err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		m, err := s.models.Active(gctx)
		if err != nil {
			return fmt.Errorf("failed to load active model: %w", err)
		}
		active = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}

	req := profile.ToValidationRequest(caller, s.now().UTC())
	req.IdentityID = identityID

	result, err := s.run(ctx, req, active)
	if err != nil {
		return 0, err
	}
	return result.OverallScore, nil
}

// ValidateWithContext scores a caller-supplied request and persists the result.
func (s *Service) ValidateWithContext(ctx context.Context, caller string, req *domain.ValidationRequest) (*domain.ValidationResult, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	if err := checkRequest(req); err != nil {
		return nil, err
	}

	active, err := s.models.Active(ctx)
	if err != nil {
		s.fail(ctx, req, err)
		return nil, fmt.Errorf("failed to load active model: %w", err)
	}
	if req.Requester == "" {
		req.Requester = caller
	}
	return s.run(ctx, req, active)
}

// Enqueue accepts a request for asynchronous validation and returns its
// Queued status. The worker picks it up from the bus.
func (s *Service) Enqueue(ctx context.Context, caller string, req *domain.ValidationRequest) (*domain.StatusRecord, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	if s.bus == nil {
		return nil, errors.New("async validation requires an event bus")
	}

	now := s.now().UTC()
	req.RequestID = domain.NewValidationID(now, req.IdentityID)
	req.Requester = caller
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = now
	}

	payload, err := json.Marshal(domain.QueuedValidation{RequestID: req.RequestID, Request: req})
	if err != nil {
		return nil, err
	}

	status := s.setStatus(ctx, req.RequestID, req.IdentityID, domain.StatusQueued, "")
	if err := s.bus.Publish(ctx, domain.TopicValidationRequested, payload); err != nil {
		s.setStatus(ctx, req.RequestID, req.IdentityID, domain.StatusFailed, err.Error())
		return nil, fmt.Errorf("failed to queue validation: %w", err)
	}

	slog.Info("validation queued",
		"request_id", req.RequestID,
		"identity_id", req.IdentityID,
	)
	return status, nil
}

// MarkPending records that a queued request was picked up.
func (s *Service) MarkPending(ctx context.Context, requestID, identityID string) {
	s.setStatus(ctx, requestID, identityID, domain.StatusPending, "")
}

// DetectDeepfake scores a biometric sample for synthetic media and returns
// its legitimacy score. Flagged samples are recorded as fraud patterns.
func (s *Service) DetectDeepfake(ctx context.Context, caller, imageHash string, bio domain.BiometricData) (float64, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return 0, err
	}

	adjusted := features.DeepfakeProbability(imageHash) * (1 - bio.LivenessScore)
	flagged := adjusted > deepfakeFlagThreshold
	if flagged {
		p, err := s.matcher.LearnDeepfake(ctx, adjusted)
		if err != nil {
			return 0, err
		}
		s.metrics.IncPatternCreated(string(p.PatternType))
		s.publish(ctx, domain.TopicPatternDetected, p)
	}
	s.metrics.IncDeepfakeCheck(flagged)

	slog.Debug("deepfake check",
		"deepfake_probability", adjusted,
		"flagged", flagged,
	)
	return 1 - adjusted, nil
}

// UpdateModel replaces the active model. Admin only.
func (s *Service) UpdateModel(ctx context.Context, caller string, m *domain.FraudDetectionModel) error {
	if err := s.authorizeAdmin(ctx, caller); err != nil {
		return err
	}
	if err := s.models.Update(ctx, m); err != nil {
		return err
	}

	s.metrics.IncModelUpdate(domain.ModelUpdateManual)
	s.publish(ctx, domain.TopicModelUpdated, domain.ModelUpdated{
		Version:   m.Version,
		Kind:      domain.ModelUpdateManual,
		UpdatedBy: caller,
		UpdatedAt: s.now().UTC(),
	})
	return nil
}

// RetrainModel stores examples and derives a new model version from them.
// Admin only.
func (s *Service) RetrainModel(ctx context.Context, caller string, examples []*domain.TrainingExample) (*domain.ModelPerformanceMetrics, error) {
	if err := s.authorizeAdmin(ctx, caller); err != nil {
		return nil, err
	}

	result, err := s.trainer.Retrain(ctx, examples)
	if err != nil {
		return nil, err
	}

	s.metrics.IncModelUpdate(domain.ModelUpdateRetrain)
	event := domain.ModelUpdated{
		Kind:      domain.ModelUpdateRetrain,
		UpdatedBy: caller,
		UpdatedAt: s.now().UTC(),
	}
	if active, err := s.models.Active(ctx); err == nil {
		event.Version = active.Version
	}
	s.publish(ctx, domain.TopicModelUpdated, event)
	return result, nil
}

// run is the scoring pipeline shared by the sync, identity and async paths.
func (s *Service) run(ctx context.Context, req *domain.ValidationRequest, m *domain.FraudDetectionModel) (*domain.ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "verifier.validate",
		trace.WithAttributes(
			attribute.String("identity.id", req.IdentityID),
			attribute.String("validation.type", string(req.ValidationType)),
			attribute.String("model.version", m.Version),
		),
	)
	defer span.End()

	start := s.now()
	if req.RequestID == "" {
		req.RequestID = domain.NewValidationID(start, req.IdentityID)
	}
	span.SetAttributes(attribute.String("request.id", req.RequestID))
	s.setStatus(ctx, req.RequestID, req.IdentityID, domain.StatusProcessing, "")

	_, extractSpan := tracer.Start(ctx, "verifier.extract")
	raw := s.extractor.Extract(req)
	extractSpan.End()

	_, inferSpan := tracer.Start(ctx, "verifier.infer")
	score, normalized, err := inference.Score(raw, m)
	inferSpan.End()
	if err != nil {
		return nil, s.abort(ctx, span, req, fmt.Errorf("inference failed: %w", err))
	}

	level, factors, recs := risk.Classify(score, normalized, m)

	if s.velocity.Enabled() {
		factor, err := s.velocity.Check(ctx, req.IdentityID)
		if err != nil {
			slog.Warn("velocity check failed",
				"identity_id", req.IdentityID,
				"error", err,
			)
		} else if factor != nil {
			factors = append(factors, *factor)
			recs = append(recs, risk.RecRepeatedAttempts)
		}
	}

	result := &domain.ValidationResult{
		RequestID:        req.RequestID,
		IdentityID:       req.IdentityID,
		ValidationType:   req.ValidationType,
		OverallScore:     score,
		Confidence:       inference.Confidence(score),
		FraudProbability: 1.0 - score,
		RiskLevel:        level,
		RiskFactors:      factors,
		Recommendations:  recs,
		ModelVersion:     m.Version,
		DetailedScores:   features.Scores(raw, req),
	}

	// A synthesized pattern is stored before the ledger row and is kept if
	// SaveValidation fails. Notifications go out only after both writes.
	matchCtx, matchSpan := tracer.Start(ctx, "verifier.match_patterns")
	outcome, err := s.matcher.MatchAndLearn(matchCtx, req, result)
	if err == nil {
		matchSpan.SetAttributes(attribute.Int("patterns.matched", len(outcome.Matched)))
	}
	matchSpan.End()
	if err != nil {
		return nil, s.abort(ctx, span, req, err)
	}
	for _, p := range outcome.Matched {
		result.MatchedPatterns = append(result.MatchedPatterns, p.ID)
	}
	result.RiskFactors = append(result.RiskFactors, outcome.Factors...)
	if outcome.Created != nil {
		result.NewPatternID = outcome.Created.ID
	}

	completed := s.now()
	result.CompletedAt = completed.UTC()
	result.ProcessingTimeMs = completed.Sub(start).Milliseconds()

	if err := s.repo.SaveValidation(ctx, result); err != nil {
		return nil, s.abort(ctx, span, req, fmt.Errorf("failed to save validation: %w", err))
	}

	if _, err := s.repo.RecordPrediction(ctx, result.Confidence > heuristicCorrectConfidence, result.CompletedAt); err != nil {
		slog.Warn("failed to record prediction", "request_id", result.RequestID, "error", err)
	}
	s.setStatus(ctx, req.RequestID, req.IdentityID, domain.StatusCompleted, "")

	s.publish(ctx, domain.TopicValidationCompleted, domain.ValidationCompleted{
		RequestID:        result.RequestID,
		IdentityID:       result.IdentityID,
		OverallScore:     result.OverallScore,
		FraudProbability: result.FraudProbability,
		RiskLevel:        result.RiskLevel,
		ReputationDelta:  domain.ReputationDelta(result.FraudProbability),
		ModelVersion:     result.ModelVersion,
		CompletedAt:      result.CompletedAt,
	})
	if outcome.Created != nil {
		s.metrics.IncPatternCreated(string(outcome.Created.PatternType))
		s.publish(ctx, domain.TopicPatternDetected, outcome.Created)
	}
	s.metrics.ObserveValidation(string(result.ValidationType), string(result.RiskLevel),
		result.FraudProbability, time.Since(start))

	span.SetAttributes(
		attribute.Float64("validation.score", result.OverallScore),
		attribute.String("validation.risk_level", string(result.RiskLevel)),
	)

	slog.Info("validation completed",
		"request_id", result.RequestID,
		"identity_id", result.IdentityID,
		"overall_score", result.OverallScore,
		"risk_level", result.RiskLevel,
		"model_version", result.ModelVersion,
		"matched_patterns", len(result.MatchedPatterns),
	)
	return result, nil
}

// abort marks the request failed and records err on the span.
func (s *Service) abort(ctx context.Context, span trace.Span, req *domain.ValidationRequest, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.fail(ctx, req, err)
	slog.Error("validation failed",
		"request_id", req.RequestID,
		"identity_id", req.IdentityID,
		"error", err,
	)
	return err
}

func (s *Service) fail(ctx context.Context, req *domain.ValidationRequest, err error) {
	if req == nil || req.RequestID == "" {
		return
	}
	s.setStatus(ctx, req.RequestID, req.IdentityID, domain.StatusFailed, err.Error())
}

// checkRequest rejects requests the pipeline cannot score. An empty
// validation type defaults to IdentityVerification.
func checkRequest(req *domain.ValidationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", domain.ErrInvalidInput)
	}
	if req.IdentityID == "" {
		return fmt.Errorf("%w: identityId is required", domain.ErrInvalidInput)
	}
	if req.ValidationType == "" {
		req.ValidationType = domain.ValidationIdentityVerification
	}
	if !req.ValidationType.Valid() {
		return fmt.Errorf("%w: unsupported validation type %q", domain.ErrInvalidInput, req.ValidationType)
	}
	return nil
}

// publish sends a best-effort notification bounded by the publish timeout.
func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode notification", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish notification",
			"topic", topic,
			"error", err,
		)
	}
}
