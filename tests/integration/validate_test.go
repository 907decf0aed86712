//go:build integration

// Package integration provides end-to-end tests for a running Kestrel server.
//
// These tests drive the complete scoring pipeline over HTTP:
//
//	Request → Features → Normalize → Forward pass → Risk tier → Patterns → Ledger
//
// Run with:
//
//	KESTREL_TEST_SECRET=<jwt secret> go test -tags=integration -v ./tests/integration/...
//
// The server must run with the same JWT secret, the default collaborator
// principal (identity-service), and a bootstrap admin matching
// KESTREL_TEST_ADMIN (default "admin").
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL      string
	Collaborator string
	Admin        string
	auth         *api.Authenticator
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()

	secret := os.Getenv("KESTREL_TEST_SECRET")
	if secret == "" {
		t.Skip("KESTREL_TEST_SECRET not set")
	}

	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	admin := os.Getenv("KESTREL_TEST_ADMIN")
	if admin == "" {
		admin = "admin"
	}
	issuer := os.Getenv("KESTREL_TEST_ISSUER")
	if issuer == "" {
		issuer = "kestrel"
	}

	auth, err := api.NewAuthenticator(domain.AuthConfig{JWTSecret: secret, Issuer: issuer})
	if err != nil {
		t.Fatalf("Failed to create authenticator: %v", err)
	}

	return TestConfig{
		BaseURL:      baseURL,
		Collaborator: "identity-service",
		Admin:        admin,
		auth:         auth,
	}
}

// call sends body to path as principal and decodes the response into out.
// It returns the status code.
func call(t *testing.T, config TestConfig, method, path, principal string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if principal != "" {
		token, err := config.auth.IssueToken(principal, time.Minute)
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func strongEvidence(identityID string) api.ValidationRequestBody {
	return api.ValidationRequestBody{
		IdentityID:     identityID,
		ValidationType: domain.ValidationIdentityVerification,
		Input: domain.ValidationInput{
			Documents: []domain.DocumentData{{
				DocumentType:      "passport",
				ImageQualityScore: 0.95,
				SecurityFeatures: []domain.SecurityFeature{
					{Name: "hologram", Present: true, AuthenticityScore: 0.95},
					{Name: "mrz", Present: true, AuthenticityScore: 0.9},
				},
			}},
			Biometrics: []domain.BiometricData{{
				BiometricType: "face",
				TemplateHash:  "9f2c1a",
				QualityScore:  0.9,
				LivenessScore: 0.95,
			}},
		},
		Context: domain.ValidationContext{
			Timestamp:   time.Now().UTC(),
			Geolocation: &domain.GeolocationData{Country: "DE", IPRiskScore: 0.05},
			Device: &domain.DeviceData{
				DeviceID:   "dev-001",
				UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
				TrustScore: 0.9,
			},
			Session: &domain.SessionData{SessionID: "sess-001", DurationSeconds: 240, PageViews: 6},
		},
	}
}

func TestValidationLifecycle(t *testing.T) {
	config := getTestConfig(t)
	identityID := "it-" + time.Now().UTC().Format("20060102150405.000000")

	var result domain.ValidationResult
	if code := call(t, config, http.MethodPost, "/v1/validations", config.Collaborator, strongEvidence(identityID), &result); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}

	if result.OverallScore < 0 || result.OverallScore > 1 {
		t.Errorf("overallScore out of range: %f", result.OverallScore)
	}
	if diff := result.OverallScore + result.FraudProbability - 1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fraudProbability must be 1 - overallScore, got %f and %f", result.OverallScore, result.FraudProbability)
	}
	if result.RiskLevel == "" {
		t.Error("Expected a risk level")
	}

	var stored domain.ValidationResult
	if code := call(t, config, http.MethodGet, "/v1/validations/"+result.RequestID, config.Collaborator, nil, &stored); code != http.StatusOK {
		t.Fatalf("Expected stored result, got %d", code)
	}
	if stored.OverallScore != result.OverallScore {
		t.Errorf("Stored score %f differs from returned %f", stored.OverallScore, result.OverallScore)
	}

	var status domain.StatusRecord
	call(t, config, http.MethodGet, "/v1/validations/"+result.RequestID+"/status", config.Collaborator, nil, &status)
	if status.Status != domain.StatusCompleted {
		t.Errorf("Expected status Completed, got %s", status.Status)
	}
}

func TestAsyncValidation(t *testing.T) {
	config := getTestConfig(t)
	identityID := "it-async-" + time.Now().UTC().Format("150405.000000")

	var queued domain.StatusRecord
	if code := call(t, config, http.MethodPost, "/v1/validations?async=true", config.Collaborator, strongEvidence(identityID), &queued); code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", code)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var status domain.StatusRecord
		call(t, config, http.MethodGet, "/v1/validations/"+queued.RequestID+"/status", config.Collaborator, nil, &status)
		switch status.Status {
		case domain.StatusCompleted:
			return
		case domain.StatusFailed:
			t.Fatalf("Validation failed: %s", status.Error)
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for async validation")
}

func TestAccessControl(t *testing.T) {
	config := getTestConfig(t)

	if code := call(t, config, http.MethodPost, "/v1/validations", "", strongEvidence("it-anon"), nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", code)
	}
	if code := call(t, config, http.MethodPost, "/v1/validations", "it-stranger", strongEvidence("it-stranger"), nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for stranger, got %d", code)
	}
	if code := call(t, config, http.MethodPost, "/v1/model/retrain", config.Collaborator, api.RetrainRequestBody{}, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for collaborator retrain, got %d", code)
	}
}

func TestRetrainRequiresMinimumExamples(t *testing.T) {
	config := getTestConfig(t)

	body := api.RetrainRequestBody{Examples: make([]api.TrainingExampleBody, domain.MinTrainingExamples-1)}
	for i := range body.Examples {
		body.Examples[i] = api.TrainingExampleBody{Features: make([]float64, 50), Label: domain.LabelLegitimate}
	}

	if code := call(t, config, http.MethodPost, "/v1/model/retrain", config.Admin, body, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", code)
	}
}

func TestDeepfakeDetection(t *testing.T) {
	config := getTestConfig(t)

	var resp api.DeepfakeResponse
	code := call(t, config, http.MethodPost, "/v1/deepfake", config.Collaborator, api.DeepfakeRequestBody{
		ImageHash: "deadbeef",
		Biometric: api.BiometricBody{BiometricType: "face", LivenessScore: 0.5},
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if resp.Score < 0 || resp.Score > 1 {
		t.Errorf("score out of range: %f", resp.Score)
	}
}
