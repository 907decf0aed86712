// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// ModelStore persists the active fraud detection model.
type ModelStore interface {
	// GetActiveModel returns ErrNotFound when no model was ever stored.
	GetActiveModel(ctx context.Context) (*FraudDetectionModel, error)

	// ReplaceActiveModel atomically swaps the active model.
	ReplaceActiveModel(ctx context.Context, m *FraudDetectionModel) error
}

// ValidationLedger is the append-only store of validation results.
type ValidationLedger interface {
	SaveValidation(ctx context.Context, r *ValidationResult) error
	GetValidation(ctx context.Context, requestID string) (*ValidationResult, error)
	ListValidationsByIdentity(ctx context.Context, identityID string, limit int) ([]*ValidationResult, error)
}

// PatternRegistry stores known fraud patterns.
type PatternRegistry interface {
	SavePattern(ctx context.Context, p *FraudPattern) error
	GetPattern(ctx context.Context, id string) (*FraudPattern, error)
	ListPatterns(ctx context.Context) ([]*FraudPattern, error)

	// RecordPatternOccurrence bumps the occurrence count and last-detected time.
	RecordPatternOccurrence(ctx context.Context, id string, at time.Time) error
}

// TrainingStore keeps labeled examples submitted for retraining.
type TrainingStore interface {
	SaveTrainingExamples(ctx context.Context, examples []*TrainingExample) error
	CountTrainingExamples(ctx context.Context) (int, error)
}

// AdminSet is the set of principals allowed to manage the model.
type AdminSet interface {
	AddAdmin(ctx context.Context, principal string) error
	IsAdmin(ctx context.Context, principal string) (bool, error)
	ListAdmins(ctx context.Context) ([]string, error)
}

// MetricsStore holds the rolling performance metrics singleton.
type MetricsStore interface {
	GetPerformanceMetrics(ctx context.Context) (*ModelPerformanceMetrics, error)

	// RecordPrediction applies one heuristic per-call update atomically.
	RecordPrediction(ctx context.Context, correct bool, at time.Time) (*ModelPerformanceMetrics, error)

	// ApplyRetrainMetrics records a retraining evaluation atomically. The
	// rates in m replace the stored ones; TotalPredictions and
	// CorrectPredictions are added to the running counts.
	ApplyRetrainMetrics(ctx context.Context, m *ModelPerformanceMetrics) (*ModelPerformanceMetrics, error)
}

// Repository is the full persistence surface used by the service.
type Repository interface {
	ModelStore
	ValidationLedger
	PatternRegistry
	TrainingStore
	AdminSet
	MetricsStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
