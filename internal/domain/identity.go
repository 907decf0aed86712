package domain

import (
	"context"
	"time"
)

// IdentityProvider fetches identity evidence from the identity service.
type IdentityProvider interface {
	FetchIdentity(ctx context.Context, identityID string) (*IdentityProfile, error)
}

// IdentityProfile is the identity service's view of an identity.
type IdentityProfile struct {
	IdentityID        string             `json:"identityId"`
	Documents         []DocumentData     `json:"documents,omitempty"`
	Biometrics        []BiometricData    `json:"biometrics,omitempty"`
	BehavioralSignals []BehavioralSignal `json:"behavioralSignals,omitempty"`
	DataPoints        []DataPoint        `json:"dataPoints,omitempty"`
	Context           *ValidationContext `json:"context,omitempty"`
}

// DataPoint is a named attribute the identity service reports.
// Known types: reputation_score, account_age_days, credential_count,
// linked_wallets_count, verified_wallets_count, biometric_templates_count,
// activity_frequency.
type DataPoint struct {
	DataType   string    `json:"dataType"`
	Value      string    `json:"value"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// IdentityFetchRequest is the request-reply payload sent to the identity service.
type IdentityFetchRequest struct {
	IdentityID string `json:"identityId"`
}

// IdentityFetchResponse is the identity service's reply.
type IdentityFetchResponse struct {
	Profile *IdentityProfile `json:"profile,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ToValidationRequest builds a full validation request from a profile.
func (p *IdentityProfile) ToValidationRequest(requester string, now time.Time) *ValidationRequest {
	meta := make(map[string]string, len(p.DataPoints))
	for _, dp := range p.DataPoints {
		meta[dp.DataType] = dp.Value
	}
	req := &ValidationRequest{
		IdentityID:     p.IdentityID,
		ValidationType: ValidationIdentityVerification,
		Input: ValidationInput{
			Documents:         p.Documents,
			Biometrics:        p.Biometrics,
			BehavioralSignals: p.BehavioralSignals,
			Metadata:          meta,
		},
		Requester:   requester,
		SubmittedAt: now,
	}
	if p.Context != nil {
		req.Context = *p.Context
	}
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = now
	}
	return req
}

// IdentityConfig controls calls to the identity service.
type IdentityConfig struct {
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}
