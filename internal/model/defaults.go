// Package model owns the active fraud detection model: defaults,
// structural validation, cached reads, replacement and retraining.
package model

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Default model shape.
const (
	DefaultVersion    = "1.0.0"
	defaultWeight     = 0.1
	defaultOutputBias = -1.0
)

var defaultLayers = []domain.LayerSpec{
	{LayerType: "dense", Size: 16, Activation: "relu"},
	{LayerType: "dense", Size: 8, Activation: "relu"},
	{LayerType: "dense", Size: 1, Activation: "linear"},
}

// DefaultThresholds are the stock decision cutoffs.
func DefaultThresholds() domain.ModelThresholds {
	return domain.ModelThresholds{
		Fraud:       0.7,
		Review:      0.5,
		Confidence:  0.8,
		VeryLowRisk: 0.9,
		LowRisk:     0.7,
		MediumRisk:  0.5,
		HighRisk:    0.3,
	}
}

// Default builds the untrained starting model: uniform 0.1 weights,
// identity normalization, zero biases except a negative output bias.
func Default(now time.Time) *domain.FraudDetectionModel {
	n := features.Count

	weights := make([][]float64, len(defaultLayers))
	prev := n
	var biasCount int
	for i, l := range defaultLayers {
		weights[i] = filled(l.Size*prev, defaultWeight)
		prev = l.Size
		biasCount += l.Size
	}
	biases := make([]float64, biasCount)
	biases[biasCount-1] = defaultOutputBias

	types := make([]string, n)
	for i := range types {
		types[i] = "numeric"
	}

	return &domain.FraudDetectionModel{
		Version:   DefaultVersion,
		ModelType: domain.ModelNeuralNetwork,
		Architecture: domain.ModelArchitecture{
			InputSize:   n,
			OutputSize:  1,
			Layers:      append([]domain.LayerSpec(nil), defaultLayers...),
			DropoutRate: 0.2,
		},
		LayerWeights:      weights,
		Biases:            biases,
		BiasLayout:        domain.BiasPerNeuron,
		FeatureImportance: filled(n, 1/float64(n)),
		Normalization: domain.NormalizationParams{
			Mean: filled(n, 0),
			Std:  filled(n, 1),
			Min:  filled(n, 0),
			Max:  filled(n, 1),
		},
		Features: domain.FeatureConfig{
			Names:   features.Names(),
			Types:   types,
			Weights: filled(n, 1),
		},
		Thresholds: DefaultThresholds(),
		Training: domain.TrainingMetadata{
			TrainedAt: now,
		},
		Performance: domain.ModelPerformanceMetrics{LastUpdated: now},
	}
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
