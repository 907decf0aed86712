package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveValidation("IdentityVerification", "High", 0.6, 10*time.Millisecond)
	m.ObserveValidation("IdentityVerification", "High", 0.7, 10*time.Millisecond)
	m.IncPatternCreated("DeepfakeAttack")
	m.IncModelUpdate("retrain")
	m.IncAuthorizationFailure()
	m.IncDeepfakeCheck(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Validations.WithLabelValues("IdentityVerification", "High")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatternsCreated.WithLabelValues("DeepfakeAttack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelUpdates.WithLabelValues("retrain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthorizationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeepfakeChecks.WithLabelValues("true")))
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.IncAuthorizationFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "kestrel_authorization_failures_total 1"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveValidation("x", "y", 0.5, time.Second)
	m.IncPatternCreated("x")
	m.IncModelUpdate("x")
	m.IncAuthorizationFailure()
	m.IncDeepfakeCheck(false)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncAuthorizationFailure()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AuthorizationFailures))
}
