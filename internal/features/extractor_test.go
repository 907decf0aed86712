package features

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func frozen(nanos int64) func() time.Time {
	t := time.Unix(1700000000, nanos)
	return func() time.Time { return t }
}

func fullRequest() *domain.ValidationRequest {
	return &domain.ValidationRequest{
		IdentityID:     "id-1",
		ValidationType: domain.ValidationIdentityVerification,
		Input: domain.ValidationInput{
			Documents: []domain.DocumentData{{
				DocumentType:      "passport",
				ImageQualityScore: 0.8,
				SecurityFeatures: []domain.SecurityFeature{
					{Name: "hologram", Present: true, AuthenticityScore: 0.9},
					{Name: "mrz", Present: true, AuthenticityScore: 0.7},
				},
			}},
			Biometrics: []domain.BiometricData{{
				BiometricType: "face",
				TemplateHash:  "ab",
				QualityScore:  0.75,
				LivenessScore: 0.95,
			}},
			BehavioralSignals: []domain.BehavioralSignal{
				{SignalType: "typing", Value: 1.0, Confidence: 1.0},
				{SignalType: "mouse", Value: 0.0, Confidence: 3.0},
			},
		},
		Context: domain.ValidationContext{
			Geolocation: &domain.GeolocationData{Country: "DE", IPRiskScore: 0.2},
			Device: &domain.DeviceData{
				DeviceID:   "dev-1",
				TrustScore: 0.6,
				UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			},
			Session: &domain.SessionData{SessionID: "s-1", DurationSeconds: 150},
		},
	}
}

func TestExtract(t *testing.T) {
	e := NewExtractor(WithClock(frozen(250)))

	t.Run("populates every known slot", func(t *testing.T) {
		f := e.Extract(fullRequest())
		require.Len(t, f, Count)

		assert.InDelta(t, 0.8, f[SlotDocumentQuality], 1e-12)
		assert.InDelta(t, 0.8, f[SlotDocumentSecurity], 1e-12)
		assert.InDelta(t, 0.75, f[SlotBiometricQuality], 1e-12)
		assert.InDelta(t, 0.8, f[SlotGeographicTrust], 1e-12)
		assert.InDelta(t, 0.6, f[SlotDeviceTrust], 1e-12)
		assert.InDelta(t, 0.25, f[SlotBehavioral], 1e-12)
		assert.InDelta(t, 0.5, f[SlotSessionConsistency], 1e-12)
		assert.InDelta(t, 1.0, f[SlotDeviceAgent], 1e-12)
		assert.InDelta(t, 0.95, f[SlotBiometricLiveness], 1e-12)
		assert.InDelta(t, 1-DeepfakeProbability("ab"), f[SlotDeepfake], 1e-12)
		for i := SlotPlaceholderStart; i < Count; i++ {
			assert.InDelta(t, 0.25, f[i], 1e-12, "slot %d", i)
		}
	})

	t.Run("empty request leaves slots at zero", func(t *testing.T) {
		f := NewExtractor(WithClock(frozen(0))).Extract(&domain.ValidationRequest{})
		require.Len(t, f, Count)
		for i, v := range f {
			assert.Zero(t, v, "slot %d", i)
		}
	})

	t.Run("nil request", func(t *testing.T) {
		assert.Len(t, e.Extract(nil), Count)
	})

	t.Run("bot user agent is untrusted", func(t *testing.T) {
		req := fullRequest()
		req.Context.Device.UserAgent = "Googlebot/2.1 (+http://www.google.com/bot.html)"
		f := e.Extract(req)
		assert.Zero(t, f[SlotDeviceAgent])
	})

	t.Run("zero confidence signals", func(t *testing.T) {
		req := fullRequest()
		req.Input.BehavioralSignals = []domain.BehavioralSignal{{Value: 0.9, Confidence: 0}}
		assert.Zero(t, e.Extract(req)[SlotBehavioral])
	})

	t.Run("deterministic with frozen clock", func(t *testing.T) {
		assert.Equal(t, e.Extract(fullRequest()), e.Extract(fullRequest()))
	})
}

func TestDeepfakeProbability(t *testing.T) {
	assert.Zero(t, DeepfakeProbability(""))
	assert.Zero(t, DeepfakeProbability("a"))
	assert.InDelta(t, math.Mod(98*math.Sin(1), 1), DeepfakeProbability("ab"), 1e-12)

	for _, h := range []string{"abc", "f00dbabe", strings.Repeat("z", 200)} {
		p := DeepfakeProbability(h)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.Less(t, p, 1.0)
	}
}

func TestNames(t *testing.T) {
	names := Names()
	require.Len(t, names, Count)
	seen := map[string]bool{}
	for _, n := range names {
		assert.NotEmpty(t, n)
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
}

func TestScores(t *testing.T) {
	req := fullRequest()
	raw := NewExtractor(WithClock(frozen(0))).Extract(req)
	s := Scores(raw, req)

	assert.InDelta(t, 0.8, s.DocumentAuthenticity, 1e-12)
	assert.InDelta(t, 0.85, s.BiometricVerification, 1e-12)
	assert.InDelta(t, 0.25, s.BehavioralConsistency, 1e-12)
	assert.InDelta(t, 0.8, s.GeographicConsistency, 1e-12)
	assert.InDelta(t, 0.6, s.DeviceTrust, 1e-12)
	assert.InDelta(t, 0.5, s.TemporalConsistency, 1e-12)
	assert.InDelta(t, 1.0, s.CrossReferenceMatch, 1e-12)

	empty := Scores(make([]float64, Count), &domain.ValidationRequest{})
	assert.Zero(t, empty.CrossReferenceMatch)
}
