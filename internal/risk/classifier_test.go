package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var defaultThresholds = domain.ModelThresholds{
	VeryLowRisk: 0.9,
	LowRisk:     0.7,
	MediumRisk:  0.5,
	HighRisk:    0.3,
}

func TestLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{1.0, domain.RiskVeryLow},
		{0.9, domain.RiskVeryLow},
		{0.8999999999, domain.RiskLow},
		{0.7, domain.RiskLow},
		{0.6999, domain.RiskMedium},
		{0.5, domain.RiskMedium},
		{0.4999, domain.RiskHigh},
		{0.3, domain.RiskHigh},
		{0.2999, domain.RiskVeryHigh},
		{0.0, domain.RiskVeryHigh},
	}
	for _, tc := range tests {
		if got := Level(tc.score, defaultThresholds); got != tc.want {
			t.Errorf("Level(%v): expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestCategoryFor(t *testing.T) {
	tests := map[string]domain.RiskCategory{
		"document_image_quality":       domain.CategoryDocumentFraud,
		"biometric_liveness":           domain.CategoryBiometricMismatch,
		"behavioral_consistency":       domain.CategoryBehavioralAnomaly,
		"geographic_ip_trust":          domain.CategoryGeographicRisk,
		"device_trust":                 domain.CategoryDeviceRisk,
		"temporal_session_consistency": domain.CategoryTemporalAnomaly,
		"deepfake_legitimacy":          domain.CategoryDeepfakeDetected,
		"reserved_signal_10":           domain.CategoryDocumentFraud,
	}
	for name, want := range tests {
		assert.Equal(t, want, CategoryFor(name), name)
	}
}

func TestFactors(t *testing.T) {
	names := []string{"document_image_quality", "device_trust", "biometric_liveness", ""}
	factors := Factors([]float64{0.1, 0.4, 0.9, 0.0}, names)

	require.Len(t, factors, 2)

	assert.Equal(t, domain.CategoryDocumentFraud, factors[0].Category)
	assert.Equal(t, domain.RiskHigh, factors[0].Severity)
	assert.Equal(t, 0.8, factors[0].Confidence)

	assert.Equal(t, domain.CategoryDeviceRisk, factors[1].Category)
	assert.Equal(t, domain.RiskMedium, factors[1].Severity)
	assert.Equal(t, 0.6, factors[1].Confidence)

	t.Run("boundaries", func(t *testing.T) {
		f := Factors([]float64{0.3, 0.5}, []string{"device_a", "device_b"})
		require.Len(t, f, 1)
		assert.Equal(t, domain.RiskMedium, f[0].Severity)
		assert.Equal(t, "device_a", f[0].Feature)
	})
}

func TestRecommendations(t *testing.T) {
	t.Run("bands", func(t *testing.T) {
		assert.Equal(t, []string{RecReject, RecManualReview}, Recommendations(0.1, nil))
		assert.Equal(t, []string{RecReview, RecMoreDocuments}, Recommendations(0.3, nil))
		assert.Equal(t, []string{RecApproveMonitor}, Recommendations(0.6, nil))
		assert.Equal(t, []string{RecApprove}, Recommendations(0.8, nil))
	})

	t.Run("category extras are distinct", func(t *testing.T) {
		factors := []domain.RiskFactor{
			{Category: domain.CategoryDocumentFraud},
			{Category: domain.CategoryDocumentFraud},
			{Category: domain.CategoryBiometricMismatch},
			{Category: domain.CategoryDeepfakeDetected},
			{Category: domain.CategoryBehavioralAnomaly},
			{Category: domain.CategoryDeviceRisk},
		}
		recs := Recommendations(0.95, factors)
		assert.Equal(t, []string{RecApprove, RecDocumentCheck, RecLivenessCheck, RecBehaviorMonitor}, recs)
	})
}

func TestClassifyDeterministic(t *testing.T) {
	m := &domain.FraudDetectionModel{
		Thresholds: defaultThresholds,
		Features:   domain.FeatureConfig{Names: []string{"document_image_quality", "biometric_quality"}},
	}
	normalized := []float64{0.2, 0.45}

	level, factors, recs := Classify(0.42, normalized, m)
	for i := 0; i < 3; i++ {
		l2, f2, r2 := Classify(0.42, normalized, m)
		assert.Equal(t, level, l2)
		assert.Equal(t, factors, f2)
		assert.Equal(t, recs, r2)
	}
	assert.Equal(t, domain.RiskHigh, level)
	assert.Len(t, factors, 2)
	assert.Equal(t, []string{RecReview, RecMoreDocuments, RecDocumentCheck, RecLivenessCheck}, recs)
}
