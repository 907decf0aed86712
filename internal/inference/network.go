// Package inference runs the feed-forward fraud scoring network.
package inference

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// minStd floors the normalization divisor.
const minStd = 1e-8

// Normalize rescales features as (x - mean) / max(std, 1e-8).
// Parameter vectors shorter than the features are a configuration error.
func Normalize(features []float64, p domain.NormalizationParams) ([]float64, error) {
	if len(p.Mean) < len(features) || len(p.Std) < len(features) {
		return nil, fmt.Errorf("%w: normalization covers %d/%d features, input has %d",
			domain.ErrShapeMismatch, len(p.Mean), len(p.Std), len(features))
	}
	out := make([]float64, len(features))
	for i, x := range features {
		out[i] = (x - p.Mean[i]) / math.Max(p.Std[i], minStd)
	}
	return out, nil
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate applies a named activation. Unknown names pass the value through.
func Activate(name string, x float64) float64 {
	switch name {
	case "relu":
		return math.Max(0, x)
	case "sigmoid":
		return Sigmoid(x)
	case "tanh":
		return math.Tanh(x)
	default:
		return x
	}
}

// Forward runs every layer of m over the normalized input and returns the
// raw output of the last layer.
func Forward(input []float64, m *domain.FraudDetectionModel) ([]float64, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no model", domain.ErrShapeMismatch)
	}
	layers := m.Architecture.Layers
	if len(m.LayerWeights) != len(layers) {
		return nil, fmt.Errorf("%w: %d weight layers for %d layers",
			domain.ErrShapeMismatch, len(m.LayerWeights), len(layers))
	}

	current := input
	biasOffset := 0
	for li, layer := range layers {
		weights := m.LayerWeights[li]
		in := len(current)
		if len(weights) != layer.Size*in {
			return nil, fmt.Errorf("%w: layer %d has %d weights, want %d",
				domain.ErrShapeMismatch, li, len(weights), layer.Size*in)
		}

		next := make([]float64, layer.Size)
		for i := 0; i < layer.Size; i++ {
			b, err := bias(m, li, biasOffset+i)
			if err != nil {
				return nil, err
			}
			sum := b
			row := weights[i*in : (i+1)*in]
			for j, x := range current {
				sum += row[j] * x
			}
			next[i] = Activate(layer.Activation, sum)
		}

		biasOffset += layer.Size
		current = next
	}
	return current, nil
}

// bias returns the bias for a neuron under the model's layout.
func bias(m *domain.FraudDetectionModel, layerIndex, neuronIndex int) (float64, error) {
	idx := neuronIndex
	if m.BiasLayout != domain.BiasPerNeuron {
		idx = layerIndex
	}
	if idx >= len(m.Biases) {
		return 0, fmt.Errorf("%w: bias index %d out of %d",
			domain.ErrShapeMismatch, idx, len(m.Biases))
	}
	return m.Biases[idx], nil
}

// Score normalizes features, runs the network and squashes the first output.
// It returns the score together with the normalized vector.
func Score(features []float64, m *domain.FraudDetectionModel) (float64, []float64, error) {
	normalized, err := Normalize(features, m.Normalization)
	if err != nil {
		return 0, nil, err
	}
	out, err := Forward(normalized, m)
	if err != nil {
		return 0, nil, err
	}
	if len(out) == 0 {
		return 0, nil, fmt.Errorf("%w: network produced no output", domain.ErrShapeMismatch)
	}
	return Sigmoid(out[0]), normalized, nil
}

// Confidence is the distance of a score from the 0.5 decision boundary,
// scaled to [0,1].
func Confidence(score float64) float64 {
	return math.Abs(2*score - 1)
}
