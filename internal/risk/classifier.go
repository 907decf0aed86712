// Package risk maps scores to risk levels, factors and recommendations.
package risk

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Factor cutoffs on normalized feature values.
const (
	highFactorCutoff   = 0.3
	mediumFactorCutoff = 0.5

	highFactorConfidence   = 0.8
	mediumFactorConfidence = 0.6
)

// Recommendation texts.
const (
	RecReject         = "REJECT: High fraud risk detected"
	RecManualReview   = "Manual review required"
	RecReview         = "REVIEW: Moderate risk detected"
	RecMoreDocuments  = "Request additional documentation"
	RecApproveMonitor = "APPROVE with monitoring"
	RecApprove        = "APPROVE"

	RecDocumentCheck    = "Perform additional document authenticity check"
	RecLivenessCheck    = "Perform liveness check"
	RecBehaviorMonitor  = "Monitor account behavior"
	RecRepeatedAttempts = "Investigate repeated validation attempts"
)

// categoryRule maps a feature-name substring to a category. Order matters:
// the first matching rule wins.
type categoryRule struct {
	substring string
	category  domain.RiskCategory
}

var categoryRules = []categoryRule{
	{"document", domain.CategoryDocumentFraud},
	{"biometric", domain.CategoryBiometricMismatch},
	{"behavioral", domain.CategoryBehavioralAnomaly},
	{"geographic", domain.CategoryGeographicRisk},
	{"device", domain.CategoryDeviceRisk},
	{"temporal", domain.CategoryTemporalAnomaly},
	{"deepfake", domain.CategoryDeepfakeDetected},
}

// CategoryFor derives a factor category from a feature name.
func CategoryFor(feature string) domain.RiskCategory {
	for _, r := range categoryRules {
		if strings.Contains(feature, r.substring) {
			return r.category
		}
	}
	return domain.CategoryDocumentFraud
}

// Level applies the threshold ladder, high to low, with >= comparisons.
func Level(score float64, t domain.ModelThresholds) domain.RiskLevel {
	switch {
	case score >= t.VeryLowRisk:
		return domain.RiskVeryLow
	case score >= t.LowRisk:
		return domain.RiskLow
	case score >= t.MediumRisk:
		return domain.RiskMedium
	case score >= t.HighRisk:
		return domain.RiskHigh
	default:
		return domain.RiskVeryHigh
	}
}

// Factors emits one factor per named feature that falls below the cutoffs.
func Factors(normalized []float64, names []string) []domain.RiskFactor {
	var factors []domain.RiskFactor
	for i, v := range normalized {
		if i >= len(names) || names[i] == "" {
			continue
		}
		var severity domain.RiskLevel
		var confidence float64
		switch {
		case v < highFactorCutoff:
			severity, confidence = domain.RiskHigh, highFactorConfidence
		case v < mediumFactorCutoff:
			severity, confidence = domain.RiskMedium, mediumFactorConfidence
		default:
			continue
		}
		factors = append(factors, domain.RiskFactor{
			Category:    CategoryFor(names[i]),
			Severity:    severity,
			Confidence:  confidence,
			Description: fmt.Sprintf("Low %s signal (%.2f)", names[i], v),
			Feature:     names[i],
			Value:       v,
		})
	}
	return factors
}

// Recommendations bands the score and appends one action per distinct
// category present in factors.
func Recommendations(score float64, factors []domain.RiskFactor) []string {
	var recs []string
	switch {
	case score < 0.3:
		recs = append(recs, RecReject, RecManualReview)
	case score < 0.6:
		recs = append(recs, RecReview, RecMoreDocuments)
	case score < 0.8:
		recs = append(recs, RecApproveMonitor)
	default:
		recs = append(recs, RecApprove)
	}

	seen := make(map[string]bool)
	for _, f := range factors {
		var extra string
		switch f.Category {
		case domain.CategoryDocumentFraud:
			extra = RecDocumentCheck
		case domain.CategoryBiometricMismatch, domain.CategoryDeepfakeDetected:
			extra = RecLivenessCheck
		case domain.CategoryBehavioralAnomaly:
			extra = RecBehaviorMonitor
		}
		if extra != "" && !seen[extra] {
			seen[extra] = true
			recs = append(recs, extra)
		}
	}
	return recs
}

// Classify is the pure classification step of the pipeline.
func Classify(score float64, normalized []float64, m *domain.FraudDetectionModel) (domain.RiskLevel, []domain.RiskFactor, []string) {
	level := Level(score, m.Thresholds)
	factors := Factors(normalized, m.Features.Names)
	return level, factors, Recommendations(score, factors)
}
