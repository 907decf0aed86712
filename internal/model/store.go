package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store serves the active model. Reads go through the cache when one is
// configured; replacements are serialized and invalidate the cache.
type Store struct {
	repo  domain.ModelStore
	cache domain.Cache
	ttl   time.Duration
	now   func() time.Time

	// mu serializes replacements so derived models never race.
	mu sync.Mutex

	// generation counts replacements; guarded by mu.
	generation uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCache caches model snapshots for ttl.
func WithCache(c domain.Cache, ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithNow overrides the clock used for seeding and metadata.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a model store over repo.
func NewStore(repo domain.ModelStore, opts ...StoreOption) *Store {
	s := &Store{
		repo: repo,
		ttl:  time.Minute,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns a snapshot of the active model. The caller owns the
// returned value; mutating it does not affect the store.
func (s *Store) Active(ctx context.Context) (*domain.FraudDetectionModel, error) {
	if m := s.cached(ctx); m != nil {
		return m, nil
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	m, err := s.repo.GetActiveModel(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		m, gen, err = s.seed(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.remember(ctx, m, gen)
	return m, nil
}

// EnsureSeeded stores the default model when none exists yet.
func (s *Store) EnsureSeeded(ctx context.Context) (*domain.FraudDetectionModel, error) {
	m, err := s.repo.GetActiveModel(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		m, _, err = s.seed(ctx)
	}
	return m, err
}

// seed stores the default model and returns the generation it is valid for.
func (s *Store) seed(ctx context.Context) (*domain.FraudDetectionModel, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have seeded while we waited.
	if m, err := s.repo.GetActiveModel(ctx); err == nil {
		return m, s.generation, nil
	}

	m := Default(s.now().UTC())
	if err := s.repo.ReplaceActiveModel(ctx, m); err != nil {
		return nil, 0, fmt.Errorf("failed to seed default model: %w", err)
	}
	s.generation++
	slog.Info("seeded default model", "model_version", m.Version)
	return m, s.generation, nil
}

// Update validates m and atomically replaces the active model with it.
// On validation failure the active model is left untouched.
func (s *Store) Update(ctx context.Context, m *domain.FraudDetectionModel) error {
	if err := Validate(m); err != nil {
		return err
	}
	return s.Modify(ctx, func(*domain.FraudDetectionModel) (*domain.FraudDetectionModel, error) {
		return m, nil
	})
}

// Modify derives a new active model from the current one under the
// replacement lock. If derive fails nothing is written.
func (s *Store) Modify(ctx context.Context, derive func(current *domain.FraudDetectionModel) (*domain.FraudDetectionModel, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.GetActiveModel(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		current, err = Default(s.now().UTC()), nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active model: %w", err)
	}

	next, err := derive(current)
	if err != nil {
		return err
	}
	if err := Validate(next); err != nil {
		return err
	}

	if err := s.repo.ReplaceActiveModel(ctx, next); err != nil {
		return fmt.Errorf("failed to replace active model: %w", err)
	}
	s.generation++
	s.forget(ctx)

	slog.Info("active model replaced",
		"previous_version", current.Version,
		"model_version", next.Version,
	)
	return nil
}

func (s *Store) cached(ctx context.Context) *domain.FraudDetectionModel {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, domain.CacheKeyActiveModel)
	if err != nil || data == nil {
		return nil
	}
	var m domain.FraudDetectionModel
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("discarding unreadable cached model", "error", err)
		return nil
	}
	return &m
}

// remember caches m unless a replacement happened since gen was read.
func (s *Store) remember(ctx context.Context, m *domain.FraudDetectionModel, gen uint64) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if err := s.cache.Set(ctx, domain.CacheKeyActiveModel, data, s.ttl); err != nil {
		slog.Warn("failed to cache model", "error", err)
	}
}

func (s *Store) forget(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, domain.CacheKeyActiveModel); err != nil {
		slog.Warn("failed to invalidate cached model", "error", err)
	}
}
