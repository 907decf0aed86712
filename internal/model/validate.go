package model

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Validate checks a candidate model before it may replace the active one.
// The first three checks mirror the update contract. The remaining ones
// reject models the extractor or the network could not run.
func Validate(m *domain.FraudDetectionModel) error {
	if m == nil || len(m.Architecture.Layers) == 0 {
		return domain.NewError(domain.ErrInvalidInput, domain.MsgNoLayers)
	}
	if len(m.LayerWeights) != len(m.Architecture.Layers) {
		return domain.NewError(domain.ErrInvalidInput, domain.MsgWeightLayerCount)
	}
	if len(m.Features.Names) != m.Architecture.InputSize {
		return domain.NewError(domain.ErrInvalidInput, domain.MsgFeatureCount)
	}
	if m.Architecture.InputSize != features.Count {
		return domain.NewError(domain.ErrInvalidInput, domain.MsgInputSize)
	}
	return validateShape(m)
}

func validateShape(m *domain.FraudDetectionModel) error {
	shapeErr := domain.NewError(domain.ErrInvalidInput, domain.MsgLayerShape)

	prev := m.Architecture.InputSize
	var neurons int
	for i, l := range m.Architecture.Layers {
		if l.Size <= 0 || len(m.LayerWeights[i]) != l.Size*prev {
			return shapeErr
		}
		prev = l.Size
		neurons += l.Size
	}

	wantBiases := len(m.Architecture.Layers)
	if m.BiasLayout == domain.BiasPerNeuron {
		wantBiases = neurons
	}
	if len(m.Biases) < wantBiases {
		return shapeErr
	}

	n := m.Architecture.InputSize
	if len(m.Normalization.Mean) < n || len(m.Normalization.Std) < n {
		return shapeErr
	}
	return nil
}
