package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// memRepo is an in-memory ModelStore, TrainingStore and MetricsStore.
type memRepo struct {
	mu       sync.Mutex
	active   *domain.FraudDetectionModel
	replaced int
	examples []*domain.TrainingExample
	metrics  domain.ModelPerformanceMetrics
}

func (r *memRepo) GetActiveModel(_ context.Context) (*domain.FraudDetectionModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, domain.ErrNotFound
	}
	return r.active.Clone(), nil
}

func (r *memRepo) ReplaceActiveModel(_ context.Context, m *domain.FraudDetectionModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = m.Clone()
	r.replaced++
	return nil
}

func (r *memRepo) SaveTrainingExamples(_ context.Context, examples []*domain.TrainingExample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples = append(r.examples, examples...)
	return nil
}

func (r *memRepo) CountTrainingExamples(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.examples), nil
}

func (r *memRepo) GetPerformanceMetrics(_ context.Context) (*domain.ModelPerformanceMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics
	return &m, nil
}

func (r *memRepo) RecordPrediction(_ context.Context, correct bool, at time.Time) (*domain.ModelPerformanceMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.TotalPredictions++
	if correct {
		r.metrics.CorrectPredictions++
	}
	r.metrics.Accuracy = float64(r.metrics.CorrectPredictions) / float64(r.metrics.TotalPredictions)
	r.metrics.LastUpdated = at
	m := r.metrics
	return &m, nil
}

func (r *memRepo) ApplyRetrainMetrics(_ context.Context, m *domain.ModelPerformanceMetrics) (*domain.ModelPerformanceMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.metrics.TotalPredictions + m.TotalPredictions
	correct := r.metrics.CorrectPredictions + m.CorrectPredictions
	r.metrics = *m
	r.metrics.TotalPredictions = total
	r.metrics.CorrectPredictions = correct
	out := r.metrics
	return &out, nil
}

// busyMetrics records a live prediction right after every metrics read.
type busyMetrics struct {
	*memRepo
}

func (b busyMetrics) GetPerformanceMetrics(ctx context.Context) (*domain.ModelPerformanceMetrics, error) {
	m, err := b.memRepo.GetPerformanceMetrics(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := b.memRepo.RecordPrediction(ctx, false, fixedNow); err != nil {
		return nil, err
	}
	return m, nil
}

// mapCache is a minimal domain.Cache for store tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) IncrementCounter(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, errors.New("not supported")
}

func (c *mapCache) Ping(_ context.Context) error { return nil }
func (c *mapCache) Close() error                 { return nil }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestDefaultModelIsValid(t *testing.T) {
	m := Default(fixedNow)

	require.NoError(t, Validate(m))
	assert.Equal(t, DefaultVersion, m.Version)
	assert.Equal(t, features.Count, m.Architecture.InputSize)
	assert.Len(t, m.Biases, 25)
	assert.Equal(t, defaultOutputBias, m.Biases[24])
	assert.Equal(t, 0.9, m.Thresholds.VeryLowRisk)
	assert.Equal(t, 0.3, m.Thresholds.HighRisk)
}

// narrowInput makes m self-consistent for two inputs.
func narrowInput(m *domain.FraudDetectionModel) {
	m.Architecture.InputSize = 2
	m.Features.Names = m.Features.Names[:2]
	m.Normalization.Mean = m.Normalization.Mean[:2]
	m.Normalization.Std = m.Normalization.Std[:2]
	m.LayerWeights[0] = m.LayerWeights[0][:2*m.Architecture.Layers[0].Size]
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *domain.FraudDetectionModel)
		msg    string
	}{
		{
			name:   "NoLayers",
			mutate: func(m *domain.FraudDetectionModel) { m.Architecture.Layers = nil },
			msg:    domain.MsgNoLayers,
		},
		{
			name:   "WeightLayerCount",
			mutate: func(m *domain.FraudDetectionModel) { m.LayerWeights = m.LayerWeights[:2] },
			msg:    domain.MsgWeightLayerCount,
		},
		{
			name:   "FeatureCount",
			mutate: func(m *domain.FraudDetectionModel) { m.Features.Names = m.Features.Names[:10] },
			msg:    domain.MsgFeatureCount,
		},
		{
			name:   "InputSize",
			mutate: narrowInput,
			msg:    domain.MsgInputSize,
		},
		{
			name:   "LayerShape",
			mutate: func(m *domain.FraudDetectionModel) { m.LayerWeights[1] = m.LayerWeights[1][:5] },
			msg:    domain.MsgLayerShape,
		},
		{
			name:   "ShortBiases",
			mutate: func(m *domain.FraudDetectionModel) { m.Biases = m.Biases[:3] },
			msg:    domain.MsgLayerShape,
		},
		{
			name:   "ShortNormalization",
			mutate: func(m *domain.FraudDetectionModel) { m.Normalization.Std = m.Normalization.Std[:1] },
			msg:    domain.MsgLayerShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Default(fixedNow)
			tt.mutate(m)

			err := Validate(m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
			assert.Equal(t, tt.msg, err.Error())
		})
	}

	t.Run("PerLayerBiases", func(t *testing.T) {
		m := Default(fixedNow)
		m.BiasLayout = domain.BiasPerLayer
		m.Biases = []float64{0, 0, -1}
		assert.NoError(t, Validate(m))
	})
}

func TestStoreSeedsDefault(t *testing.T) {
	repo := &memRepo{}
	store := NewStore(repo, WithNow(clock))
	ctx := context.Background()

	m, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, m.Version)
	assert.Equal(t, 1, repo.replaced)

	_, err = store.EnsureSeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.replaced, "seeding twice must not replace")
}

func TestStoreUpdate(t *testing.T) {
	repo := &memRepo{}
	cache := newMapCache()
	store := NewStore(repo, WithNow(clock), WithCache(cache, time.Minute))
	ctx := context.Background()

	_, err := store.Active(ctx)
	require.NoError(t, err)
	cached, _ := cache.Get(ctx, domain.CacheKeyActiveModel)
	require.NotNil(t, cached, "active model should be cached")

	t.Run("Accepts", func(t *testing.T) {
		next := Default(fixedNow)
		next.Version = "2.0.0"
		require.NoError(t, store.Update(ctx, next))

		cached, _ := cache.Get(ctx, domain.CacheKeyActiveModel)
		assert.Nil(t, cached, "replacement must invalidate the cache")

		m, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", m.Version)
	})

	t.Run("RejectsAndKeepsActive", func(t *testing.T) {
		bad := Default(fixedNow)
		bad.Version = "3.0.0"
		bad.Features.Names = bad.Features.Names[:3]

		err := store.Update(ctx, bad)
		require.Error(t, err)
		assert.Equal(t, domain.MsgFeatureCount, err.Error())

		m, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", m.Version)
	})

	t.Run("RejectsForeignInputSize", func(t *testing.T) {
		narrow := Default(fixedNow)
		narrow.Version = "4.0.0"
		narrowInput(narrow)

		err := store.Update(ctx, narrow)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		assert.Equal(t, domain.MsgInputSize, err.Error())

		m, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", m.Version)
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		m, err := store.Active(ctx)
		require.NoError(t, err)
		m.LayerWeights[0][0] = 42

		again, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.1, again.LayerWeights[0][0])
	})
}

func labeled(n int, value, label float64, split domain.DataSplit) []*domain.TrainingExample {
	out := make([]*domain.TrainingExample, n)
	for i := range out {
		out[i] = &domain.TrainingExample{
			Features: filled(features.Count, value),
			Label:    label,
			Split:    split,
		}
	}
	return out
}

func TestRetrainInsufficientData(t *testing.T) {
	repo := &memRepo{}
	store := NewStore(repo, WithNow(clock))
	trainer := NewTrainer(store, repo, repo)

	_, err := trainer.Retrain(context.Background(), labeled(99, 1, domain.LabelLegitimate, domain.SplitTraining))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
	assert.Equal(t, domain.MsgInsufficientData, err.Error())
	assert.Empty(t, repo.examples, "nothing may be stored")
	assert.Zero(t, repo.replaced)
}

func TestRetrainWrongFeatureCount(t *testing.T) {
	repo := &memRepo{}
	store := NewStore(repo, WithNow(clock))
	trainer := NewTrainer(store, repo, repo)

	examples := labeled(100, 1, domain.LabelLegitimate, domain.SplitTraining)
	examples[50].Features = []float64{1, 2}

	_, err := trainer.Retrain(context.Background(), examples)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Empty(t, repo.examples)
}

func TestRetrainMeasuresValidationSplit(t *testing.T) {
	repo := &memRepo{}
	store := NewStore(repo, WithNow(clock))
	trainer := NewTrainer(store, repo, repo)
	trainer.now = clock
	ctx := context.Background()

	var examples []*domain.TrainingExample
	examples = append(examples, labeled(60, 1, domain.LabelLegitimate, domain.SplitTraining)...)
	examples = append(examples, labeled(20, 0, domain.LabelFraud, domain.SplitValidation)...)
	examples = append(examples, labeled(20, 1, domain.LabelLegitimate, domain.SplitValidation)...)

	metrics, err := trainer.Retrain(ctx, examples)
	require.NoError(t, err)

	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Equal(t, 1.0, metrics.Precision)
	assert.Equal(t, 1.0, metrics.Recall)
	assert.Equal(t, 1.0, metrics.AUCROC)
	assert.Equal(t, int64(40), metrics.TotalPredictions)
	assert.Len(t, repo.examples, 100)

	m, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", m.Version)
	assert.Equal(t, 100, m.Training.DatasetSize)
	assert.Equal(t, 40, m.Training.ValidationSample)
	assert.InDelta(t, 0.4, m.Training.ValidationSplit, 1e-9)
	assert.Equal(t, fixedNow, m.Training.TrainedAt)
	assert.Equal(t, 1.0, m.Performance.Accuracy)

	stored, _ := repo.GetPerformanceMetrics(ctx)
	assert.Equal(t, 1.0, stored.Accuracy)

	for _, ex := range repo.examples {
		assert.NotEmpty(t, ex.ID)
		assert.Equal(t, 1.0, ex.Weight)
	}
}

func TestRetrainKeepsConcurrentPredictions(t *testing.T) {
	repo := &memRepo{}
	store := NewStore(repo, WithNow(clock))
	trainer := NewTrainer(store, repo, busyMetrics{repo})
	ctx := context.Background()

	var examples []*domain.TrainingExample
	examples = append(examples, labeled(60, 1, domain.LabelLegitimate, domain.SplitTraining)...)
	examples = append(examples, labeled(40, 1, domain.LabelLegitimate, domain.SplitValidation)...)

	metrics, err := trainer.Retrain(ctx, examples)
	require.NoError(t, err)
	assert.Equal(t, int64(41), metrics.TotalPredictions)
	assert.Equal(t, int64(40), metrics.CorrectPredictions)
	assert.Equal(t, 1.0, metrics.Accuracy)

	stored, _ := repo.GetPerformanceMetrics(ctx)
	assert.Equal(t, int64(41), stored.TotalPredictions, "live prediction must survive retraining")
}

func TestRetrainEmptyValidationSplit(t *testing.T) {
	repo := &memRepo{metrics: domain.ModelPerformanceMetrics{Accuracy: 0.42}}
	store := NewStore(repo, WithNow(clock))
	trainer := NewTrainer(store, repo, repo)
	ctx := context.Background()

	metrics, err := trainer.Retrain(ctx, labeled(100, 1, domain.LabelLegitimate, ""))
	require.NoError(t, err)
	assert.Equal(t, 0.42, metrics.Accuracy)

	m, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", m.Version, "model is still replaced")
	assert.Equal(t, domain.SplitTraining, repo.examples[0].Split)
}

func TestBumpMinor(t *testing.T) {
	assert.Equal(t, "1.1.0", bumpMinor("1.0.0"))
	assert.Equal(t, "2.4.0", bumpMinor("2.3.7"))
	assert.Equal(t, "1.1.0", bumpMinor("not-a-version"))
}

func TestEvaluate(t *testing.T) {
	m := Default(fixedNow)

	var examples []*domain.TrainingExample
	examples = append(examples, labeled(3, 0, domain.LabelFraud, domain.SplitValidation)...)      // TP
	examples = append(examples, labeled(1, 0, domain.LabelLegitimate, domain.SplitValidation)...) // FP
	examples = append(examples, labeled(2, 1, domain.LabelLegitimate, domain.SplitValidation)...) // TN
	examples = append(examples, labeled(2, 1, domain.LabelFraud, domain.SplitValidation)...)      // FN

	ev, err := Evaluate(m, examples)
	require.NoError(t, err)

	assert.Equal(t, 3, ev.TruePositives)
	assert.Equal(t, 1, ev.FalsePositives)
	assert.Equal(t, 2, ev.TrueNegatives)
	assert.Equal(t, 2, ev.FalseNegatives)
	assert.InDelta(t, 5.0/8, ev.Accuracy(), 1e-9)
	assert.InDelta(t, 0.75, ev.Precision(), 1e-9)
	assert.InDelta(t, 0.6, ev.Recall(), 1e-9)
	assert.InDelta(t, 2*0.75*0.6/1.35, ev.F1(), 1e-9)
}

func TestAUCROC(t *testing.T) {
	assert.Equal(t, 0.5, aucROC([]scored{{value: 1, positive: true}}))
	assert.Equal(t, 1.0, aucROC([]scored{
		{value: 0.9, positive: true},
		{value: 0.1, positive: false},
	}))
	assert.Equal(t, 0.0, aucROC([]scored{
		{value: 0.1, positive: true},
		{value: 0.9, positive: false},
	}))
	assert.Equal(t, 0.5, aucROC([]scored{
		{value: 0.5, positive: true},
		{value: 0.5, positive: false},
	}))
}
