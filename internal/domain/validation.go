package domain

import (
	"fmt"
	"time"
)

// ValidationType identifies what kind of verification a caller is asking for.
type ValidationType string

const (
	ValidationIdentityVerification       ValidationType = "IdentityVerification"
	ValidationDocumentAuthenticity       ValidationType = "DocumentAuthenticity"
	ValidationBiometricVerification      ValidationType = "BiometricVerification"
	ValidationBehavioralAnalysis         ValidationType = "BehavioralAnalysis"
	ValidationCrossReferenceCheck        ValidationType = "CrossReferenceCheck"
	ValidationDeepfakeDetection          ValidationType = "DeepfakeDetection"
	ValidationSyntheticIdentityDetection ValidationType = "SyntheticIdentityDetection"
)

// SupportedValidationTypes lists every validation type the engine accepts.
func SupportedValidationTypes() []ValidationType {
	return []ValidationType{
		ValidationIdentityVerification,
		ValidationDocumentAuthenticity,
		ValidationBiometricVerification,
		ValidationBehavioralAnalysis,
		ValidationCrossReferenceCheck,
		ValidationDeepfakeDetection,
		ValidationSyntheticIdentityDetection,
	}
}

// Valid reports whether t is one of the supported validation types.
func (t ValidationType) Valid() bool {
	for _, s := range SupportedValidationTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// Cost estimation units.
const (
	BaseValidationCost       = 1000
	ValidationCostPerComplex = 100
)

// EstimateCost returns the compute units a validation of the given complexity costs.
func EstimateCost(t ValidationType, complexity int) (int64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: unsupported validation type %q", ErrInvalidInput, t)
	}
	if complexity < 0 {
		return 0, fmt.Errorf("%w: complexity must be non-negative", ErrInvalidInput)
	}
	return BaseValidationCost + int64(complexity)*ValidationCostPerComplex, nil
}

// ValidationRequest is the transient input to a validation call.
type ValidationRequest struct {
	// RequestID is assigned by the service; callers leave it empty.
	RequestID      string            `json:"requestId,omitempty"`
	IdentityID     string            `json:"identityId"`
	ValidationType ValidationType    `json:"validationType"`
	Input          ValidationInput   `json:"input"`
	Context        ValidationContext `json:"context"`
	Requester      string            `json:"requester,omitempty"`
	SubmittedAt    time.Time         `json:"submittedAt"`
}

// ValidationInput carries the evidence collected for an identity.
type ValidationInput struct {
	Documents         []DocumentData     `json:"documents,omitempty"`
	Biometrics        []BiometricData    `json:"biometrics,omitempty"`
	BehavioralSignals []BehavioralSignal `json:"behavioralSignals,omitempty"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

// DocumentData describes one submitted identity document.
type DocumentData struct {
	DocumentType      string            `json:"documentType"`
	ImageQualityScore float64           `json:"imageQualityScore"`
	ExtractedFields   map[string]string `json:"extractedFields,omitempty"`
	SecurityFeatures  []SecurityFeature `json:"securityFeatures,omitempty"`
}

// SecurityFeature is a single anti-forgery check on a document.
type SecurityFeature struct {
	Name              string  `json:"name"`
	Present           bool    `json:"present"`
	AuthenticityScore float64 `json:"authenticityScore"`
}

// BiometricData describes one captured biometric sample.
type BiometricData struct {
	BiometricType string  `json:"biometricType"`
	TemplateHash  string  `json:"templateHash"`
	QualityScore  float64 `json:"qualityScore"`
	LivenessScore float64 `json:"livenessScore"`
}

// BehavioralSignal is a scored observation of user behavior.
type BehavioralSignal struct {
	SignalType string    `json:"signalType"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationContext holds the environment the request was made from.
type ValidationContext struct {
	Timestamp      time.Time        `json:"timestamp"`
	Geolocation    *GeolocationData `json:"geolocation,omitempty"`
	Device         *DeviceData      `json:"device,omitempty"`
	Session        *SessionData     `json:"session,omitempty"`
	RiskIndicators []string         `json:"riskIndicators,omitempty"`
}

// GeolocationData is the network location of the requester.
type GeolocationData struct {
	Country     string  `json:"country"`
	Region      string  `json:"region,omitempty"`
	IPRiskScore float64 `json:"ipRiskScore"`
	IsVPN       bool    `json:"isVpn"`
}

// DeviceData describes the requesting device.
type DeviceData struct {
	DeviceID    string  `json:"deviceId"`
	UserAgent   string  `json:"userAgent,omitempty"`
	TrustScore  float64 `json:"trustScore"`
	Fingerprint string  `json:"fingerprint,omitempty"`
}

// SessionData describes the session a request belongs to.
type SessionData struct {
	SessionID       string `json:"sessionId"`
	DurationSeconds int64  `json:"durationSeconds"`
	PageViews       int    `json:"pageViews"`
}

// RiskLevel is the five-tier classification of an overall score.
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "VeryLow"
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskVeryHigh RiskLevel = "VeryHigh"
)

// RiskCategory groups risk factors by the evidence they came from.
type RiskCategory string

const (
	CategoryDocumentFraud     RiskCategory = "DocumentFraud"
	CategoryBiometricMismatch RiskCategory = "BiometricMismatch"
	CategoryBehavioralAnomaly RiskCategory = "BehavioralAnomaly"
	CategoryGeographicRisk    RiskCategory = "GeographicRisk"
	CategoryDeviceRisk        RiskCategory = "DeviceRisk"
	CategoryTemporalAnomaly   RiskCategory = "TemporalAnomaly"
	CategoryDeepfakeDetected  RiskCategory = "DeepfakeDetected"
)

// RiskFactor is one reason contributing to a result's risk level.
type RiskFactor struct {
	Category    RiskCategory `json:"category"`
	Severity    RiskLevel    `json:"severity"`
	Confidence  float64      `json:"confidence"`
	Description string       `json:"description"`
	Feature     string       `json:"feature,omitempty"`
	Value       float64      `json:"value"`
}

// DetailedScores breaks the overall score down per evidence dimension.
type DetailedScores struct {
	DocumentAuthenticity  float64 `json:"documentAuthenticity"`
	BiometricVerification float64 `json:"biometricVerification"`
	BehavioralConsistency float64 `json:"behavioralConsistency"`
	GeographicConsistency float64 `json:"geographicConsistency"`
	DeviceTrust           float64 `json:"deviceTrust"`
	TemporalConsistency   float64 `json:"temporalConsistency"`
	CrossReferenceMatch   float64 `json:"crossReferenceMatch"`
	DeepfakeDetection     float64 `json:"deepfakeDetection"`
}

// ValidationResult is the immutable ledger record of one validation call.
type ValidationResult struct {
	RequestID        string         `json:"requestId"`
	IdentityID       string         `json:"identityId"`
	ValidationType   ValidationType `json:"validationType"`
	OverallScore     float64        `json:"overallScore"`
	Confidence       float64        `json:"confidence"`
	FraudProbability float64        `json:"fraudProbability"`
	RiskLevel        RiskLevel      `json:"riskLevel"`
	RiskFactors      []RiskFactor   `json:"riskFactors"`
	Recommendations  []string       `json:"recommendations"`
	ModelVersion     string         `json:"modelVersion"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	CompletedAt      time.Time      `json:"completedAt"`
	DetailedScores   DetailedScores `json:"detailedScores"`

	// MatchedPatterns lists registry patterns this result matched.
	MatchedPatterns []string `json:"matchedPatterns,omitempty"`

	// NewPatternID is set when this result synthesized a fraud pattern.
	NewPatternID string `json:"newPatternId,omitempty"`
}

// NewValidationID builds a ledger key embedding time and identity.
func NewValidationID(at time.Time, identityID string) string {
	return fmt.Sprintf("val_%d_%s", at.UnixNano(), identityID)
}

// ReputationDelta is the adjustment a downstream identity store may apply
// for a completed validation.
func ReputationDelta(fraudProbability float64) int {
	switch {
	case fraudProbability < 0.3:
		return 5
	case fraudProbability < 0.7:
		return 0
	default:
		return -10
	}
}

// VerificationStatus tracks a request through the asynchronous path.
type VerificationStatus string

const (
	StatusQueued     VerificationStatus = "Queued"
	StatusPending    VerificationStatus = "Pending"
	StatusProcessing VerificationStatus = "Processing"
	StatusCompleted  VerificationStatus = "Completed"
	StatusFailed     VerificationStatus = "Failed"
)

// StatusRecord is the cached status of a validation request.
type StatusRecord struct {
	RequestID  string             `json:"requestId"`
	IdentityID string             `json:"identityId"`
	Status     VerificationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// ValidationCompleted is the downstream notification for a finished validation.
type ValidationCompleted struct {
	RequestID        string    `json:"requestId"`
	IdentityID       string    `json:"identityId"`
	OverallScore     float64   `json:"overallScore"`
	FraudProbability float64   `json:"fraudProbability"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	ReputationDelta  int       `json:"reputationDelta"`
	ModelVersion     string    `json:"modelVersion"`
	CompletedAt      time.Time `json:"completedAt"`
}

// QueuedValidation is the async queue payload.
type QueuedValidation struct {
	RequestID string             `json:"requestId"`
	Request   *ValidationRequest `json:"request"`
}
