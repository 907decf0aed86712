// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}

	seed := `INSERT INTO performance_metrics (id, last_updated) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Exec(r.rebind(seed), time.Now().UTC())
	return err
}

// ---------------------------------------------------------------------------
// Model store
// ---------------------------------------------------------------------------

// GetActiveModel returns the active model or domain.ErrNotFound.
func (r *SQLRepository) GetActiveModel(ctx context.Context) (*domain.FraudDetectionModel, error) {
	query := `
		SELECT payload FROM models
		WHERE active = 1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m domain.FraudDetectionModel
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &m, nil
}

// ReplaceActiveModel deactivates the current model and stores m as active
// in a single transaction. Previous versions are kept for audit.
func (r *SQLRepository) ReplaceActiveModel(ctx context.Context, m *domain.FraudDetectionModel) error {
	if m == nil {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE models SET active = 0 WHERE active = 1`); err != nil {
		return err
	}

	insert := `INSERT INTO models (id, version, active, payload, created_at) VALUES (?, ?, 1, ?, ?)`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		uuid.New().String(), m.Version, string(payload), time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Validation ledger
// ---------------------------------------------------------------------------

// SaveValidation appends a result to the ledger. Results are never updated.
func (r *SQLRepository) SaveValidation(ctx context.Context, v *domain.ValidationResult) error {
	if v == nil || v.RequestID == "" {
		return fmt.Errorf("%w: requestID is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode validation: %w", err)
	}

	query := `
		INSERT INTO validation_results (
			request_id, identity_id, validation_type, overall_score,
			fraud_probability, risk_level, model_version, completed_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		v.RequestID, v.IdentityID, string(v.ValidationType), v.OverallScore,
		v.FraudProbability, string(v.RiskLevel), v.ModelVersion, v.CompletedAt,
		string(payload),
	)
	return err
}

// GetValidation retrieves a ledger entry by request ID.
func (r *SQLRepository) GetValidation(ctx context.Context, requestID string) (*domain.ValidationResult, error) {
	query := `SELECT payload FROM validation_results WHERE request_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), requestID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var v domain.ValidationResult
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("failed to decode validation: %w", err)
	}
	return &v, nil
}

// ListValidationsByIdentity returns the newest results for an identity first.
func (r *SQLRepository) ListValidationsByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.ValidationResult, error) {
	if identityID == "" {
		return nil, fmt.Errorf("%w: identityID is required", domain.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT payload FROM validation_results
		WHERE identity_id = ?
		ORDER BY completed_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), identityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ValidationResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v domain.ValidationResult
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("failed to decode validation: %w", err)
		}
		results = append(results, &v)
	}

	return results, rows.Err()
}

// ---------------------------------------------------------------------------
// Pattern registry
// ---------------------------------------------------------------------------

// SavePattern inserts a new fraud pattern.
func (r *SQLRepository) SavePattern(ctx context.Context, p *domain.FraudPattern) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: pattern ID is required", domain.ErrInvalidInput)
	}

	indicators, _ := json.Marshal(nonNil(p.Indicators))
	geo, _ := json.Marshal(nonNil(p.GeographicDistribution))
	mitigations, _ := json.Marshal(nonNil(p.MitigationStrategies))

	query := `
		INSERT INTO fraud_patterns (
			id, pattern_type, severity, occurrence_count, first_detected,
			last_detected, indicators, geographic_distribution,
			mitigation_strategies, match_condition
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, string(p.PatternType), p.Severity, p.OccurrenceCount,
		p.FirstDetected, p.LastDetected,
		string(indicators), string(geo), string(mitigations), p.Condition,
	)
	return err
}

const patternColumns = `
	id, pattern_type, severity, occurrence_count, first_detected,
	last_detected, indicators, geographic_distribution,
	mitigation_strategies, match_condition
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*domain.FraudPattern, error) {
	var p domain.FraudPattern
	var patternType, indicators, geo, mitigations string

	if err := row.Scan(
		&p.ID, &patternType, &p.Severity, &p.OccurrenceCount,
		&p.FirstDetected, &p.LastDetected,
		&indicators, &geo, &mitigations, &p.Condition,
	); err != nil {
		return nil, err
	}

	p.PatternType = domain.PatternType(patternType)
	json.Unmarshal([]byte(indicators), &p.Indicators)
	json.Unmarshal([]byte(geo), &p.GeographicDistribution)
	json.Unmarshal([]byte(mitigations), &p.MitigationStrategies)
	return &p, nil
}

// GetPattern retrieves a pattern by ID.
func (r *SQLRepository) GetPattern(ctx context.Context, id string) (*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns WHERE id = ?`

	p, err := scanPattern(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// ListPatterns returns the registry ordered by first detection.
func (r *SQLRepository) ListPatterns(ctx context.Context) ([]*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns ORDER BY first_detected, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.FraudPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	return patterns, rows.Err()
}

// RecordPatternOccurrence atomically bumps a pattern's occurrence count.
func (r *SQLRepository) RecordPatternOccurrence(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE fraud_patterns
		SET occurrence_count = occurrence_count + 1, last_detected = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), at, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// ---------------------------------------------------------------------------
// Training store
// ---------------------------------------------------------------------------

// SaveTrainingExamples stores a batch of examples in one transaction.
func (r *SQLRepository) SaveTrainingExamples(ctx context.Context, examples []*domain.TrainingExample) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO training_examples (id, features, label, weight, split, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ex := range examples {
		features, err := json.Marshal(ex.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ex.ID, string(features), ex.Label, ex.Weight, string(ex.Split), ex.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountTrainingExamples returns the number of stored examples.
func (r *SQLRepository) CountTrainingExamples(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_examples`).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Admin set
// ---------------------------------------------------------------------------

// AddAdmin registers a principal as admin. Adding twice is a no-op.
func (r *SQLRepository) AddAdmin(ctx context.Context, principal string) error {
	if principal == "" {
		return fmt.Errorf("%w: principal is required", domain.ErrInvalidInput)
	}

	query := `INSERT INTO admins (principal, created_at) VALUES (?, ?) ON CONFLICT (principal) DO NOTHING`
	_, err := r.db.ExecContext(ctx, r.rebind(query), principal, time.Now().UTC())
	return err
}

// IsAdmin reports whether principal is registered.
func (r *SQLRepository) IsAdmin(ctx context.Context, principal string) (bool, error) {
	if principal == "" {
		return false, nil
	}

	var n int
	query := `SELECT COUNT(*) FROM admins WHERE principal = ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), principal).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListAdmins returns all admin principals.
func (r *SQLRepository) ListAdmins(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT principal FROM admins ORDER BY created_at, principal`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		admins = append(admins, p)
	}
	return admins, rows.Err()
}

// ---------------------------------------------------------------------------
// Performance metrics
// ---------------------------------------------------------------------------

// GetPerformanceMetrics reads the metrics singleton.
func (r *SQLRepository) GetPerformanceMetrics(ctx context.Context) (*domain.ModelPerformanceMetrics, error) {
	query := `
		SELECT accuracy, precision_score, recall, f1_score, auc_roc,
			   false_positive_rate, false_negative_rate,
			   total_predictions, correct_predictions, last_updated
		FROM performance_metrics
		WHERE id = 1
	`

	var m domain.ModelPerformanceMetrics
	err := r.db.QueryRowContext(ctx, query).Scan(
		&m.Accuracy, &m.Precision, &m.Recall, &m.F1Score, &m.AUCROC,
		&m.FalsePositiveRate, &m.FalseNegativeRate,
		&m.TotalPredictions, &m.CorrectPredictions, &m.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordPrediction applies the per-call heuristic update in one statement,
// so concurrent validations never lose counts.
func (r *SQLRepository) RecordPrediction(ctx context.Context, correct bool, at time.Time) (*domain.ModelPerformanceMetrics, error) {
	inc := 0
	if correct {
		inc = 1
	}

	query := `
		UPDATE performance_metrics
		SET total_predictions = total_predictions + 1,
			correct_predictions = correct_predictions + ?,
			accuracy = (correct_predictions + ?) * 1.0 / (total_predictions + 1),
			last_updated = ?
		WHERE id = 1
	`

	if _, err := r.db.ExecContext(ctx, r.rebind(query), inc, inc, at); err != nil {
		return nil, err
	}
	return r.GetPerformanceMetrics(ctx)
}

// ApplyRetrainMetrics sets the evaluation rates and adds the evaluated
// counts in one statement, so predictions recorded meanwhile are kept.
func (r *SQLRepository) ApplyRetrainMetrics(ctx context.Context, m *domain.ModelPerformanceMetrics) (*domain.ModelPerformanceMetrics, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: metrics are required", domain.ErrInvalidInput)
	}

	query := `
		UPDATE performance_metrics
		SET accuracy = ?, precision_score = ?, recall = ?, f1_score = ?,
			auc_roc = ?, false_positive_rate = ?, false_negative_rate = ?,
			total_predictions = total_predictions + ?,
			correct_predictions = correct_predictions + ?,
			last_updated = ?
		WHERE id = 1
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.Accuracy, m.Precision, m.Recall, m.F1Score,
		m.AUCROC, m.FalsePositiveRate, m.FalseNegativeRate,
		m.TotalPredictions, m.CorrectPredictions, m.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return r.GetPerformanceMetrics(ctx)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
