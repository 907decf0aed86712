// Package features turns validation requests into fixed-length feature vectors.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/mssola/useragent"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Count is the length of every extracted vector.
const Count = 50

// Slot indices.
const (
	SlotDocumentQuality    = 0
	SlotDocumentSecurity   = 1
	SlotBiometricQuality   = 2
	SlotGeographicTrust    = 3
	SlotDeviceTrust        = 4
	SlotBehavioral         = 5
	SlotSessionConsistency = 6
	SlotDeviceAgent        = 7
	SlotBiometricLiveness  = 8
	SlotDeepfake           = 9
	SlotPlaceholderStart   = 10
)

// sessionSaturation is the session length treated as fully consistent.
const sessionSaturation = 300.0

// Names returns the canonical feature names, one per slot.
func Names() []string {
	names := make([]string, Count)
	names[SlotDocumentQuality] = "document_image_quality"
	names[SlotDocumentSecurity] = "document_security_features"
	names[SlotBiometricQuality] = "biometric_quality"
	names[SlotGeographicTrust] = "geographic_ip_trust"
	names[SlotDeviceTrust] = "device_trust"
	names[SlotBehavioral] = "behavioral_consistency"
	names[SlotSessionConsistency] = "temporal_session_consistency"
	names[SlotDeviceAgent] = "device_agent_trust"
	names[SlotBiometricLiveness] = "biometric_liveness"
	names[SlotDeepfake] = "deepfake_legitimacy"
	for i := SlotPlaceholderStart; i < Count; i++ {
		names[i] = fmt.Sprintf("reserved_signal_%02d", i)
	}
	return names
}

// Extractor converts requests to feature vectors.
type Extractor struct {
	now func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock injects the time source used for the placeholder slots.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// NewExtractor creates an extractor using the wall clock unless overridden.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract always returns a vector of length Count. Missing optional
// evidence leaves its slot at zero.
func (e *Extractor) Extract(req *domain.ValidationRequest) []float64 {
	f := make([]float64, Count)
	if req == nil {
		return f
	}

	if len(req.Input.Documents) > 0 {
		doc := req.Input.Documents[0]
		f[SlotDocumentQuality] = doc.ImageQualityScore
		if n := len(doc.SecurityFeatures); n > 0 {
			var sum float64
			for _, sf := range doc.SecurityFeatures {
				sum += sf.AuthenticityScore
			}
			f[SlotDocumentSecurity] = sum / float64(n)
		}
	}

	if len(req.Input.Biometrics) > 0 {
		bio := req.Input.Biometrics[0]
		f[SlotBiometricQuality] = bio.QualityScore
		f[SlotBiometricLiveness] = bio.LivenessScore
		f[SlotDeepfake] = 1 - DeepfakeProbability(bio.TemplateHash)
	}

	if geo := req.Context.Geolocation; geo != nil {
		f[SlotGeographicTrust] = 1 - geo.IPRiskScore
	}

	if dev := req.Context.Device; dev != nil {
		f[SlotDeviceTrust] = dev.TrustScore
		if dev.UserAgent != "" {
			f[SlotDeviceAgent] = agentTrust(dev.UserAgent)
		}
	}

	f[SlotBehavioral] = weightedBehavior(req.Input.BehavioralSignals)

	if s := req.Context.Session; s != nil {
		f[SlotSessionConsistency] = math.Min(1, float64(s.DurationSeconds)/sessionSaturation)
	}

	placeholder := float64(e.now().UnixNano()%1000) / 1000
	for i := SlotPlaceholderStart; i < Count; i++ {
		f[i] = placeholder
	}

	return f
}

// weightedBehavior is the confidence-weighted mean of signal values.
func weightedBehavior(signals []domain.BehavioralSignal) float64 {
	var sum, weight float64
	for _, s := range signals {
		sum += s.Value * s.Confidence
		weight += s.Confidence
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// agentTrust scores a user agent: bots are untrusted, known browsers trusted.
func agentTrust(raw string) float64 {
	ua := useragent.New(raw)
	if ua.Bot() {
		return 0
	}
	if name, _ := ua.Browser(); name == "" {
		return 0.5
	}
	return 1
}

// DeepfakeProbability derives a pseudo-probability in [0,1) from a
// template or image hash: |Σ byte_i * sin(i)| mod 1.
func DeepfakeProbability(hash string) float64 {
	var sum float64
	for i := 0; i < len(hash); i++ {
		sum += float64(hash[i]) * math.Sin(float64(i))
	}
	return math.Mod(math.Abs(sum), 1.0)
}

// Scores derives the per-dimension breakdown from a raw feature vector.
func Scores(raw []float64, req *domain.ValidationRequest) domain.DetailedScores {
	at := func(i int) float64 {
		if i < len(raw) {
			return raw[i]
		}
		return 0
	}
	return domain.DetailedScores{
		DocumentAuthenticity:  (at(SlotDocumentQuality) + at(SlotDocumentSecurity)) / 2,
		BiometricVerification: (at(SlotBiometricQuality) + at(SlotBiometricLiveness)) / 2,
		BehavioralConsistency: at(SlotBehavioral),
		GeographicConsistency: at(SlotGeographicTrust),
		DeviceTrust:           at(SlotDeviceTrust),
		TemporalConsistency:   at(SlotSessionConsistency),
		CrossReferenceMatch:   crossReference(req),
		DeepfakeDetection:     at(SlotDeepfake),
	}
}

// crossReference is the share of independent evidence sources present.
func crossReference(req *domain.ValidationRequest) float64 {
	if req == nil {
		return 0
	}
	sources := []bool{
		len(req.Input.Documents) > 0,
		len(req.Input.Biometrics) > 0,
		len(req.Input.BehavioralSignals) > 0,
		req.Context.Geolocation != nil,
		req.Context.Device != nil,
	}
	var present int
	for _, ok := range sources {
		if ok {
			present++
		}
	}
	return float64(present) / float64(len(sources))
}
