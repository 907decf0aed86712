// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Validations by type and resulting risk level
	Validations *prometheus.CounterVec

	// End-to-end validation latency
	ValidationDuration prometheus.Histogram

	// Distribution of fraud probabilities
	FraudProbability prometheus.Histogram

	// Patterns learned by type
	PatternsCreated *prometheus.CounterVec

	// Model replacements by kind: update or retrain
	ModelUpdates *prometheus.CounterVec

	// Calls rejected by access control
	AuthorizationFailures prometheus.Counter

	// Deepfake checks by outcome
	DeepfakeChecks *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_validations_total",
			Help: "Total validations by type and risk level",
		}, []string{"type", "risk_level"}),

		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_validation_duration_seconds",
			Help:    "Duration of a validation including pattern matching and persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		FraudProbability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_fraud_probability",
			Help:    "Fraud probability of completed validations",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		PatternsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_patterns_created_total",
			Help: "Fraud patterns learned by type",
		}, []string{"type"}),

		ModelUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_model_updates_total",
			Help: "Active model replacements by kind",
		}, []string{"kind"}),

		AuthorizationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_authorization_failures_total",
			Help: "Calls rejected because the caller is not authorized",
		}),

		DeepfakeChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_deepfake_checks_total",
			Help: "Deepfake checks by whether the sample was flagged",
		}, []string{"flagged"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveValidation records a completed validation.
func (m *Metrics) ObserveValidation(validationType, riskLevel string, fraudProbability float64, d time.Duration) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(validationType, riskLevel).Inc()
	m.FraudProbability.Observe(fraudProbability)
	m.ValidationDuration.Observe(d.Seconds())
}

// IncPatternCreated records a learned pattern.
func (m *Metrics) IncPatternCreated(patternType string) {
	if m != nil {
		m.PatternsCreated.WithLabelValues(patternType).Inc()
	}
}

// IncModelUpdate records a model replacement.
func (m *Metrics) IncModelUpdate(kind string) {
	if m != nil {
		m.ModelUpdates.WithLabelValues(kind).Inc()
	}
}

// IncAuthorizationFailure records a rejected call.
func (m *Metrics) IncAuthorizationFailure() {
	if m != nil {
		m.AuthorizationFailures.Inc()
	}
}

// IncDeepfakeCheck records a deepfake check.
func (m *Metrics) IncDeepfakeCheck(flagged bool) {
	if m != nil {
		m.DeepfakeChecks.WithLabelValues(strconv.FormatBool(flagged)).Inc()
	}
}
