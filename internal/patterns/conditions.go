package patterns

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Conditions compiles and caches CEL pattern conditions.
type Conditions struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewConditions creates the CEL environment pattern conditions run in.
func NewConditions() (*Conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("document_authenticity", cel.DoubleType),
		cel.Variable("biometric_verification", cel.DoubleType),
		cel.Variable("behavioral_consistency", cel.DoubleType),
		cel.Variable("geographic_consistency", cel.DoubleType),
		cel.Variable("device_trust", cel.DoubleType),
		cel.Variable("temporal_consistency", cel.DoubleType),
		cel.Variable("cross_reference_match", cel.DoubleType),
		cel.Variable("deepfake_detection", cel.DoubleType),
		cel.Variable("overall_score", cel.DoubleType),
		cel.Variable("fraud_probability", cel.DoubleType),
		cel.Variable("validation_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Conditions{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile checks that expr is a boolean CEL expression and caches it.
func (c *Conditions) Compile(expr string) error {
	_, err := c.program(expr)
	return err
}

// Eval runs expr against a validation result.
func (c *Conditions) Eval(expr string, result *domain.ValidationResult) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(activation(result))
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition returned %s, want bool", out.Type())
	}
	return bool(matched), nil
}

func (c *Conditions) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile condition: %v", domain.ErrInvalidInput, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: condition must return bool, got %s", domain.ErrInvalidInput, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c.mu.Lock()
	c.programs[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

func activation(r *domain.ValidationResult) map[string]any {
	s := r.DetailedScores
	return map[string]any{
		"document_authenticity":  s.DocumentAuthenticity,
		"biometric_verification": s.BiometricVerification,
		"behavioral_consistency": s.BehavioralConsistency,
		"geographic_consistency": s.GeographicConsistency,
		"device_trust":           s.DeviceTrust,
		"temporal_consistency":   s.TemporalConsistency,
		"cross_reference_match":  s.CrossReferenceMatch,
		"deepfake_detection":     s.DeepfakeDetection,
		"overall_score":          r.OverallScore,
		"fraud_probability":      r.FraudProbability,
		"validation_type":        string(r.ValidationType),
	}
}
