package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaModels keeps every model version; exactly one row is active.
const schemaModels = `
CREATE TABLE IF NOT EXISTS models (
    id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_models_active ON models(active);
`

// schemaValidationResults is the append-only ledger. The payload column
// holds the full result; the other columns exist for lookups.
const schemaValidationResults = `
CREATE TABLE IF NOT EXISTS validation_results (
    request_id TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL,
    validation_type TEXT NOT NULL,
    overall_score DOUBLE PRECISION NOT NULL,
    fraud_probability DOUBLE PRECISION NOT NULL,
    risk_level TEXT NOT NULL,
    model_version TEXT NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_results_identity ON validation_results(identity_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_validation_results_risk ON validation_results(risk_level);
`

const schemaTrainingExamples = `
CREATE TABLE IF NOT EXISTS training_examples (
    id TEXT PRIMARY KEY,
    features TEXT NOT NULL,
    label DOUBLE PRECISION NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    split TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_training_examples_split ON training_examples(split);
`

const schemaFraudPatterns = `
CREATE TABLE IF NOT EXISTS fraud_patterns (
    id TEXT PRIMARY KEY,
    pattern_type TEXT NOT NULL,
    severity DOUBLE PRECISION NOT NULL,
    occurrence_count INTEGER NOT NULL DEFAULT 1,
    first_detected TIMESTAMP NOT NULL,
    last_detected TIMESTAMP NOT NULL,
    indicators TEXT NOT NULL,
    geographic_distribution TEXT NOT NULL,
    mitigation_strategies TEXT NOT NULL,
    match_condition TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fraud_patterns_type ON fraud_patterns(pattern_type);
`

const schemaAdmins = `
CREATE TABLE IF NOT EXISTS admins (
    principal TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
`

// schemaPerformanceMetrics is a single-row table (id = 1).
const schemaPerformanceMetrics = `
CREATE TABLE IF NOT EXISTS performance_metrics (
    id INTEGER PRIMARY KEY,
    accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
    precision_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    recall DOUBLE PRECISION NOT NULL DEFAULT 0,
    f1_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    auc_roc DOUBLE PRECISION NOT NULL DEFAULT 0,
    false_positive_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    false_negative_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_predictions INTEGER NOT NULL DEFAULT 0,
    correct_predictions INTEGER NOT NULL DEFAULT 0,
    last_updated TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaModels,
		schemaValidationResults,
		schemaTrainingExamples,
		schemaFraudPatterns,
		schemaAdmins,
		schemaPerformanceMetrics,
	}
}
