package domain

import "time"

// ModelType identifies the scoring algorithm family. Only the neural network
// path is evaluated by the inference engine.
type ModelType string

const (
	ModelNeuralNetwork      ModelType = "NeuralNetwork"
	ModelRandomForest       ModelType = "RandomForest"
	ModelGradientBoosting   ModelType = "GradientBoosting"
	ModelLogisticRegression ModelType = "LogisticRegression"
	ModelEnsemble           ModelType = "Ensemble"
)

// BiasLayout selects how the concatenated bias vector is applied per layer.
type BiasLayout string

const (
	// BiasPerLayer adds biases[layerIndex] to every neuron of the layer.
	BiasPerLayer BiasLayout = "per_layer"

	// BiasPerNeuron slices one bias per neuron out of the concatenated vector.
	BiasPerNeuron BiasLayout = "per_neuron"
)

// FraudDetectionModel is the complete, wholesale-replaced scoring model.
type FraudDetectionModel struct {
	Version      string            `json:"version"`
	ModelType    ModelType         `json:"modelType"`
	Architecture ModelArchitecture `json:"architecture"`

	// LayerWeights holds one row-major matrix per layer, size x previous size.
	LayerWeights [][]float64 `json:"layerWeights"`

	// Biases is concatenated across layers; see BiasLayout.
	Biases     []float64  `json:"biases"`
	BiasLayout BiasLayout `json:"biasLayout,omitempty"`

	FeatureImportance []float64               `json:"featureImportance,omitempty"`
	Normalization     NormalizationParams     `json:"normalization"`
	Features          FeatureConfig           `json:"features"`
	Thresholds        ModelThresholds         `json:"thresholds"`
	Training          TrainingMetadata        `json:"training"`
	Performance       ModelPerformanceMetrics `json:"performance"`
}

// ModelArchitecture declares the layer stack.
type ModelArchitecture struct {
	InputSize   int         `json:"inputSize"`
	OutputSize  int         `json:"outputSize"`
	Layers      []LayerSpec `json:"layers"`
	DropoutRate float64     `json:"dropoutRate"`
}

// LayerSpec describes a single layer.
type LayerSpec struct {
	LayerType  string `json:"layerType"`
	Size       int    `json:"size"`
	Activation string `json:"activation"`
}

// NormalizationParams are per-feature statistics.
type NormalizationParams struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
	Min  []float64 `json:"min,omitempty"`
	Max  []float64 `json:"max,omitempty"`
}

// FeatureConfig names and types each input slot.
type FeatureConfig struct {
	Names    []string          `json:"names"`
	Types    []string          `json:"types,omitempty"`
	Weights  []float64         `json:"weights,omitempty"`
	Encoders map[string]string `json:"encoders,omitempty"`
}

// ModelThresholds holds decision cutoffs.
type ModelThresholds struct {
	Fraud      float64 `json:"fraud"`
	Review     float64 `json:"review"`
	Confidence float64 `json:"confidence"`

	VeryLowRisk float64 `json:"veryLowRisk"`
	LowRisk     float64 `json:"lowRisk"`
	MediumRisk  float64 `json:"mediumRisk"`
	HighRisk    float64 `json:"highRisk"`
}

// TrainingMetadata records how the current weights were produced.
type TrainingMetadata struct {
	TrainedAt        time.Time `json:"trainedAt"`
	DatasetSize      int       `json:"datasetSize"`
	DurationSeconds  int64     `json:"durationSeconds"`
	Epochs           int       `json:"epochs"`
	ValidationSplit  float64   `json:"validationSplit"`
	ValidationSample int       `json:"validationSample"`
}

// Clone returns a deep copy so callers can derive a new model without
// touching the active snapshot.
func (m *FraudDetectionModel) Clone() *FraudDetectionModel {
	if m == nil {
		return nil
	}
	c := *m
	c.Architecture.Layers = append([]LayerSpec(nil), m.Architecture.Layers...)
	c.LayerWeights = make([][]float64, len(m.LayerWeights))
	for i, w := range m.LayerWeights {
		c.LayerWeights[i] = append([]float64(nil), w...)
	}
	c.Biases = append([]float64(nil), m.Biases...)
	c.FeatureImportance = append([]float64(nil), m.FeatureImportance...)
	c.Normalization = NormalizationParams{
		Mean: append([]float64(nil), m.Normalization.Mean...),
		Std:  append([]float64(nil), m.Normalization.Std...),
		Min:  append([]float64(nil), m.Normalization.Min...),
		Max:  append([]float64(nil), m.Normalization.Max...),
	}
	c.Features.Names = append([]string(nil), m.Features.Names...)
	c.Features.Types = append([]string(nil), m.Features.Types...)
	c.Features.Weights = append([]float64(nil), m.Features.Weights...)
	if m.Features.Encoders != nil {
		c.Features.Encoders = make(map[string]string, len(m.Features.Encoders))
		for k, v := range m.Features.Encoders {
			c.Features.Encoders[k] = v
		}
	}
	return &c
}

// ModelPerformanceMetrics is the rolling scorecard of the active model.
type ModelPerformanceMetrics struct {
	Accuracy           float64   `json:"accuracy"`
	Precision          float64   `json:"precision"`
	Recall             float64   `json:"recall"`
	F1Score            float64   `json:"f1Score"`
	AUCROC             float64   `json:"aucRoc"`
	FalsePositiveRate  float64   `json:"falsePositiveRate"`
	FalseNegativeRate  float64   `json:"falseNegativeRate"`
	TotalPredictions   int64     `json:"totalPredictions"`
	CorrectPredictions int64     `json:"correctPredictions"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// Model update kinds.
const (
	ModelUpdateManual  = "update"
	ModelUpdateRetrain = "retrain"
)

// ModelUpdated is the downstream notification for a model replacement.
type ModelUpdated struct {
	Version   string    `json:"version"`
	Kind      string    `json:"kind"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}
