package api

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ValidationRequestBody is the request body for POST /v1/validations.
type ValidationRequestBody struct {
	IdentityID     string                   `json:"identityId" validate:"required,max=256"`
	ValidationType domain.ValidationType    `json:"validationType" validate:"omitempty,oneof=IdentityVerification DocumentAuthenticity BiometricVerification BehavioralAnalysis CrossReferenceCheck DeepfakeDetection SyntheticIdentityDetection"`
	Input          domain.ValidationInput   `json:"input"`
	Context        domain.ValidationContext `json:"context"`
}

func (b *ValidationRequestBody) toDomain(now time.Time) *domain.ValidationRequest {
	return &domain.ValidationRequest{
		IdentityID:     b.IdentityID,
		ValidationType: b.ValidationType,
		Input:          b.Input,
		Context:        b.Context,
		SubmittedAt:    now,
	}
}

// IdentityScoreResponse is the response for POST /v1/identities/{identityID}/validate.
type IdentityScoreResponse struct {
	IdentityID   string  `json:"identityId"`
	OverallScore float64 `json:"overallScore"`
}

// BiometricBody is a biometric sample submitted for a deepfake check.
type BiometricBody struct {
	BiometricType string  `json:"biometricType"`
	TemplateHash  string  `json:"templateHash"`
	QualityScore  float64 `json:"qualityScore" validate:"gte=0,lte=1"`
	LivenessScore float64 `json:"livenessScore" validate:"gte=0,lte=1"`
}

// DeepfakeRequestBody is the request body for POST /v1/deepfake.
type DeepfakeRequestBody struct {
	ImageHash string        `json:"imageHash" validate:"required"`
	Biometric BiometricBody `json:"biometric"`
}

// DeepfakeResponse carries the legitimacy score of a sample.
type DeepfakeResponse struct {
	Score float64 `json:"score"`
}

// TrainingExampleBody is one labeled example in a retrain request.
type TrainingExampleBody struct {
	Features []float64 `json:"features" validate:"required"`
	Label    float64   `json:"label" validate:"gte=0,lte=1"`
	Weight   float64   `json:"weight" validate:"gte=0"`
	Split    string    `json:"split" validate:"omitempty,oneof=Training Validation Test"`
}

// RetrainRequestBody is the request body for POST /v1/model/retrain.
type RetrainRequestBody struct {
	Examples []TrainingExampleBody `json:"examples" validate:"dive"`
}

func (b *RetrainRequestBody) toDomain() []*domain.TrainingExample {
	out := make([]*domain.TrainingExample, len(b.Examples))
	for i, ex := range b.Examples {
		out[i] = &domain.TrainingExample{
			Features: ex.Features,
			Label:    ex.Label,
			Weight:   ex.Weight,
			Split:    domain.DataSplit(ex.Split),
		}
	}
	return out
}

// PatternRequestBody is the request body for POST /v1/patterns.
type PatternRequestBody struct {
	PatternType          domain.PatternType `json:"patternType" validate:"required"`
	Indicators           []string           `json:"indicators"`
	Severity             float64            `json:"severity" validate:"gte=0,lte=1"`
	MitigationStrategies []string           `json:"mitigationStrategies"`
	Condition            string             `json:"condition,omitempty" validate:"max=4096"`
}

func (b *PatternRequestBody) toDomain() *domain.FraudPattern {
	indicators := b.Indicators
	if indicators == nil {
		indicators = []string{}
	}
	mitigations := b.MitigationStrategies
	if mitigations == nil {
		mitigations = []string{}
	}
	return &domain.FraudPattern{
		PatternType:            b.PatternType,
		Indicators:             indicators,
		Severity:               b.Severity,
		GeographicDistribution: []string{},
		MitigationStrategies:   mitigations,
		Condition:              b.Condition,
	}
}

// AdminRequestBody is the request body for POST /v1/admins.
type AdminRequestBody struct {
	Principal string `json:"principal" validate:"required,max=256"`
}

// CostResponse is the response for GET /v1/validation-types/{type}/cost.
type CostResponse struct {
	ValidationType domain.ValidationType `json:"validationType"`
	Complexity     int                   `json:"complexity"`
	Cost           int64                 `json:"cost"`
}
