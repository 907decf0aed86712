package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/inference"
)

// Synthetic training bookkeeping recorded on every retraining pass.
const (
	trainingDurationSeconds = 3600
	trainingEpochs          = 100
)

// Trainer derives new model versions from labeled examples.
type Trainer struct {
	store    *Store
	examples domain.TrainingStore
	metrics  domain.MetricsStore
	now      func() time.Time
}

// NewTrainer creates a trainer that replaces models through store.
func NewTrainer(store *Store, examples domain.TrainingStore, metrics domain.MetricsStore) *Trainer {
	return &Trainer{
		store:    store,
		examples: examples,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Retrain persists examples, then replaces the active model with a clone
// carrying a bumped minor version, fresh training metadata and metrics
// measured on the Validation split. An empty Validation split leaves the
// metrics untouched but still replaces the model.
func (t *Trainer) Retrain(ctx context.Context, examples []*domain.TrainingExample) (*domain.ModelPerformanceMetrics, error) {
	if len(examples) < domain.MinTrainingExamples {
		return nil, domain.NewError(domain.ErrInsufficientData, domain.MsgInsufficientData)
	}

	active, err := t.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	for i, ex := range examples {
		if ex == nil || len(ex.Features) != active.Architecture.InputSize {
			return nil, fmt.Errorf("%w: example %d must have %d features",
				domain.ErrInvalidInput, i, active.Architecture.InputSize)
		}
	}

	now := t.now().UTC()
	for _, ex := range examples {
		if ex.ID == "" {
			ex.ID = uuid.New().String()
		}
		if ex.CreatedAt.IsZero() {
			ex.CreatedAt = now
		}
		if ex.Weight == 0 {
			ex.Weight = 1
		}
		if ex.Split == "" {
			ex.Split = domain.SplitTraining
		}
	}
	if err := t.examples.SaveTrainingExamples(ctx, examples); err != nil {
		return nil, fmt.Errorf("failed to store training examples: %w", err)
	}

	var validation []*domain.TrainingExample
	for _, ex := range examples {
		if ex.Split == domain.SplitValidation {
			validation = append(validation, ex)
		}
	}

	var result, measured *domain.ModelPerformanceMetrics
	err = t.store.Modify(ctx, func(current *domain.FraudDetectionModel) (*domain.FraudDetectionModel, error) {
		next := current.Clone()
		next.Training = domain.TrainingMetadata{
			TrainedAt:        now,
			DatasetSize:      len(examples),
			DurationSeconds:  trainingDurationSeconds,
			Epochs:           trainingEpochs,
			ValidationSplit:  float64(len(validation)) / float64(len(examples)),
			ValidationSample: len(validation),
		}
		next.Version = bumpMinor(current.Version)

		snapshot, err := t.metrics.GetPerformanceMetrics(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load performance metrics: %w", err)
		}
		if len(validation) > 0 {
			eval, err := Evaluate(next, validation)
			if err != nil {
				return nil, err
			}
			measured = eval.metrics(now)
			snapshot = accumulate(snapshot, measured)
		}
		next.Performance = *snapshot
		result = snapshot
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if measured != nil {
		stored, err := t.metrics.ApplyRetrainMetrics(ctx, measured)
		if err != nil {
			return nil, fmt.Errorf("failed to save performance metrics: %w", err)
		}
		result = stored
	}

	slog.Info("model retrained",
		"examples", len(examples),
		"validation_examples", len(validation),
		"accuracy", result.Accuracy,
	)
	return result, nil
}

// bumpMinor increments the minor component, restarting from the default
// version when the current one is not semantic.
func bumpMinor(version string) string {
	v, err := semver.NewVersion(version)
	if err != nil {
		v = semver.MustParse(DefaultVersion)
	}
	next := v.IncMinor()
	return next.String()
}

// Evaluation is the confusion matrix of a validation run. Fraud (label 0)
// is the positive class.
type Evaluation struct {
	Total          int
	Correct        int
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
	AUCROC         float64
}

// Evaluate scores every example with m. A prediction is correct when
// |round(sigmoid(raw)) - label| < 0.1.
func Evaluate(m *domain.FraudDetectionModel, examples []*domain.TrainingExample) (*Evaluation, error) {
	ev := &Evaluation{Total: len(examples)}
	fraudScores := make([]scored, 0, len(examples))

	for _, ex := range examples {
		score, _, err := inference.Score(ex.Features, m)
		if err != nil {
			return nil, fmt.Errorf("failed to score example %s: %w", ex.ID, err)
		}
		predicted := math.Round(score)
		if math.Abs(predicted-ex.Label) < 0.1 {
			ev.Correct++
		}

		predictedFraud := predicted < 0.5
		actualFraud := ex.Label < 0.5
		switch {
		case predictedFraud && actualFraud:
			ev.TruePositives++
		case predictedFraud && !actualFraud:
			ev.FalsePositives++
		case !predictedFraud && !actualFraud:
			ev.TrueNegatives++
		default:
			ev.FalseNegatives++
		}
		fraudScores = append(fraudScores, scored{value: 1 - score, positive: actualFraud})
	}

	ev.AUCROC = aucROC(fraudScores)
	return ev, nil
}

// Accuracy is correct / total.
func (e *Evaluation) Accuracy() float64 {
	return ratio(e.Correct, e.Total)
}

// Precision is TP / (TP + FP).
func (e *Evaluation) Precision() float64 {
	return ratio(e.TruePositives, e.TruePositives+e.FalsePositives)
}

// Recall is TP / (TP + FN).
func (e *Evaluation) Recall() float64 {
	return ratio(e.TruePositives, e.TruePositives+e.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (e *Evaluation) F1() float64 {
	p, r := e.Precision(), e.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// metrics returns the evaluation as a metrics update: rates are absolute,
// counts cover this run only.
func (e *Evaluation) metrics(at time.Time) *domain.ModelPerformanceMetrics {
	return &domain.ModelPerformanceMetrics{
		Accuracy:           e.Accuracy(),
		Precision:          e.Precision(),
		Recall:             e.Recall(),
		F1Score:            e.F1(),
		AUCROC:             e.AUCROC,
		FalsePositiveRate:  ratio(e.FalsePositives, e.FalsePositives+e.TrueNegatives),
		FalseNegativeRate:  ratio(e.FalseNegatives, e.FalseNegatives+e.TruePositives),
		TotalPredictions:   int64(e.Total),
		CorrectPredictions: int64(e.Correct),
		LastUpdated:        at,
	}
}

// accumulate is what the store holds after applying update to base.
func accumulate(base, update *domain.ModelPerformanceMetrics) *domain.ModelPerformanceMetrics {
	out := *update
	out.TotalPredictions += base.TotalPredictions
	out.CorrectPredictions += base.CorrectPredictions
	return &out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

type scored struct {
	value    float64
	positive bool
}

// aucROC is the Mann-Whitney estimate with average ranks for ties.
// It returns 0.5 when either class is absent.
func aucROC(samples []scored) float64 {
	var pos, neg int
	for _, s := range samples {
		if s.positive {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}

	sorted := append([]scored(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })

	var rankSum float64
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].value == sorted[i].value {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based: (i+1 + j) / 2
		for k := i; k < j; k++ {
			if sorted[k].positive {
				rankSum += avgRank
			}
		}
		i = j
	}

	u := rankSum - float64(pos*(pos+1))/2
	return u / float64(pos*neg)
}
