// Package worker runs queued validations from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Validator is the part of the verifier service the worker drives.
type Validator interface {
	ValidateWithContext(ctx context.Context, caller string, req *domain.ValidationRequest) (*domain.ValidationResult, error)
	MarkPending(ctx context.Context, requestID, identityID string)
}

// Worker consumes validation requests queued on the bus.
type Worker struct {
	bus       domain.EventBus
	validator Validator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds validations running at once.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, validator Validator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		validator: validator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the validation queue.
func (w *Worker) Start(cfg Config) error {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, concurrency)
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicValidationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("validation worker started",
		"topic", domain.TopicValidationRequested,
		"concurrency", concurrency,
	)
	return nil
}

// handleMessage decodes a queued request and runs it on a worker slot.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var queued domain.QueuedValidation
	if err := json.Unmarshal(msg.Payload, &queued); err != nil {
		slog.Error("failed to parse queued validation",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if queued.Request == nil {
		return errors.New("queued validation has no request")
	}
	if queued.RequestID != "" {
		queued.Request.RequestID = queued.RequestID
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(w.ctx, queued.Request)
	}()
	return nil
}

// process runs one validation. Failures are recorded in the request's
// status by the validator and logged here.
func (w *Worker) process(ctx context.Context, req *domain.ValidationRequest) {
	start := time.Now()

	w.validator.MarkPending(ctx, req.RequestID, req.IdentityID)

	slog.Debug("processing queued validation",
		"request_id", req.RequestID,
		"identity_id", req.IdentityID,
	)

	result, err := w.validator.ValidateWithContext(ctx, req.Requester, req)
	if err != nil {
		slog.Error("queued validation failed",
			"request_id", req.RequestID,
			"identity_id", req.IdentityID,
			"error", err,
		)
		return
	}

	slog.Info("queued validation processed",
		"request_id", result.RequestID,
		"identity_id", result.IdentityID,
		"risk_level", result.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight validations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
