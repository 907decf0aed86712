package domain

import (
	"fmt"
	"time"
)

// PatternType classifies a fraud signature.
type PatternType string

const (
	PatternDocumentForgery   PatternType = "DocumentForgery"
	PatternIdentityTheft     PatternType = "IdentityTheft"
	PatternSyntheticIdentity PatternType = "SyntheticIdentity"
	PatternAccountTakeover   PatternType = "AccountTakeover"
	PatternBotAttack         PatternType = "BotAttack"
	PatternCoordinatedAttack PatternType = "CoordinatedAttack"
	PatternInsiderThreat     PatternType = "InsiderThreat"
	PatternDeepfakeAttack    PatternType = "DeepfakeAttack"
)

// Valid reports whether t is a known pattern type.
func (t PatternType) Valid() bool {
	switch t {
	case PatternDocumentForgery, PatternIdentityTheft, PatternSyntheticIdentity,
		PatternAccountTakeover, PatternBotAttack, PatternCoordinatedAttack,
		PatternInsiderThreat, PatternDeepfakeAttack:
		return true
	}
	return false
}

// FraudPattern is a registry entry describing a recurring fraud signature.
type FraudPattern struct {
	ID                     string      `json:"id"`
	PatternType            PatternType `json:"patternType"`
	Indicators             []string    `json:"indicators"`
	Severity               float64     `json:"severity"`
	OccurrenceCount        int64       `json:"occurrenceCount"`
	FirstDetected          time.Time   `json:"firstDetected"`
	LastDetected           time.Time   `json:"lastDetected"`
	GeographicDistribution []string    `json:"geographicDistribution"`
	MitigationStrategies   []string    `json:"mitigationStrategies"`

	// Condition is an optional CEL boolean over the detailed scores.
	// Patterns without one use the built-in match rule.
	Condition string `json:"condition,omitempty"`
}

// NewPatternID builds a registry key for a pattern learned from an identity.
func NewPatternID(at time.Time, identityID string) string {
	return fmt.Sprintf("pattern_%d_%s", at.UnixNano(), identityID)
}

// NewDeepfakePatternID builds a registry key for a deepfake detection.
func NewDeepfakePatternID(at time.Time) string {
	return fmt.Sprintf("deepfake_%d", at.UnixNano())
}
