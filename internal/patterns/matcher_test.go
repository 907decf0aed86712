package patterns

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type memRegistry struct {
	mu       sync.Mutex
	patterns map[string]*domain.FraudPattern
	saves    int
}

func newMemRegistry(seed ...*domain.FraudPattern) *memRegistry {
	r := &memRegistry{patterns: make(map[string]*domain.FraudPattern)}
	for _, p := range seed {
		r.patterns[p.ID] = p
	}
	return r
}

func (r *memRegistry) SavePattern(_ context.Context, p *domain.FraudPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patterns[p.ID]; ok {
		return errors.New("duplicate pattern")
	}
	cp := *p
	r.patterns[p.ID] = &cp
	r.saves++
	return nil
}

func (r *memRegistry) GetPattern(_ context.Context, id string) (*domain.FraudPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patterns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRegistry) ListPatterns(_ context.Context) ([]*domain.FraudPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.FraudPattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRegistry) RecordPatternOccurrence(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patterns[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.OccurrenceCount++
	p.LastDetected = at
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMatcher(t *testing.T, reg *memRegistry, cfg domain.PatternConfig) *Matcher {
	t.Helper()
	conds, err := NewConditions()
	require.NoError(t, err)
	return NewMatcher(reg, conds, cfg, WithClock(func() time.Time { return fixedNow }))
}

func request() *domain.ValidationRequest {
	return &domain.ValidationRequest{
		IdentityID:     "id-001",
		ValidationType: domain.ValidationIdentityVerification,
		Context: domain.ValidationContext{
			Geolocation: &domain.GeolocationData{Country: "DE"},
		},
	}
}

func result(fraud float64, scores domain.DetailedScores) *domain.ValidationResult {
	return &domain.ValidationResult{
		IdentityID:       "id-001",
		ValidationType:   domain.ValidationIdentityVerification,
		OverallScore:     1 - fraud,
		FraudProbability: fraud,
		DetailedScores:   scores,
	}
}

// healthyScores matches none of the built-in rules.
func healthyScores() domain.DetailedScores {
	return domain.DetailedScores{
		DocumentAuthenticity: 0.9,
		CrossReferenceMatch:  0.8,
		DeepfakeDetection:    0.9,
	}
}

func TestBuiltinMatching(t *testing.T) {
	seed := []*domain.FraudPattern{
		{ID: "a-deepfake", PatternType: domain.PatternDeepfakeAttack, Severity: 0.9},
		{ID: "b-document", PatternType: domain.PatternDocumentForgery, Severity: 0.5},
		{ID: "c-synthetic", PatternType: domain.PatternSyntheticIdentity, Severity: 0.8},
		{ID: "d-bot", PatternType: domain.PatternBotAttack, Severity: 0.9},
	}

	tests := []struct {
		name   string
		mutate func(s *domain.DetailedScores)
		want   []string
	}{
		{"None", func(s *domain.DetailedScores) {}, nil},
		{"Deepfake", func(s *domain.DetailedScores) { s.DeepfakeDetection = 0.29 }, []string{"a-deepfake"}},
		{"DeepfakeBoundary", func(s *domain.DetailedScores) { s.DeepfakeDetection = 0.3 }, nil},
		{"Document", func(s *domain.DetailedScores) { s.DocumentAuthenticity = 0.39 }, []string{"b-document"}},
		{"CrossReference", func(s *domain.DetailedScores) { s.CrossReferenceMatch = 0.1 }, []string{"c-synthetic"}},
		{"All", func(s *domain.DetailedScores) {
			*s = domain.DetailedScores{}
		}, []string{"a-deepfake", "b-document", "c-synthetic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newMemRegistry(seed...)
			m := newTestMatcher(t, reg, domain.PatternConfig{})

			scores := healthyScores()
			tt.mutate(&scores)

			out, err := m.MatchAndLearn(context.Background(), request(), result(0.5, scores))
			require.NoError(t, err)

			var ids []string
			for _, p := range out.Matched {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Len(t, out.Factors, len(tt.want))
			for _, f := range out.Factors {
				assert.Equal(t, domain.CategoryDocumentFraud, f.Category)
			}
			assert.Nil(t, out.Created)
			assert.Zero(t, reg.saves, "matching must not write the registry")
		})
	}
}

func TestMatchDoesNotTrackOccurrencesByDefault(t *testing.T) {
	reg := newMemRegistry(&domain.FraudPattern{
		ID: "doc", PatternType: domain.PatternDocumentForgery, OccurrenceCount: 1, Severity: 0.9,
	})
	m := newTestMatcher(t, reg, domain.PatternConfig{})

	scores := healthyScores()
	scores.DocumentAuthenticity = 0.1
	_, err := m.MatchAndLearn(context.Background(), request(), result(0.5, scores))
	require.NoError(t, err)

	p, _ := reg.GetPattern(context.Background(), "doc")
	assert.Equal(t, int64(1), p.OccurrenceCount)
}

func TestMatchTracksOccurrencesWhenEnabled(t *testing.T) {
	reg := newMemRegistry(&domain.FraudPattern{
		ID: "doc", PatternType: domain.PatternDocumentForgery, OccurrenceCount: 1, Severity: 0.9,
	})
	m := newTestMatcher(t, reg, domain.PatternConfig{TrackOccurrences: true})

	scores := healthyScores()
	scores.DocumentAuthenticity = 0.1
	_, err := m.MatchAndLearn(context.Background(), request(), result(0.5, scores))
	require.NoError(t, err)

	p, _ := reg.GetPattern(context.Background(), "doc")
	assert.Equal(t, int64(2), p.OccurrenceCount)
	assert.Equal(t, fixedNow, p.LastDetected)
}

func TestSynthesis(t *testing.T) {
	tests := []struct {
		name   string
		scores domain.DetailedScores
		want   domain.PatternType
	}{
		{"DeepfakeFirst", domain.DetailedScores{DeepfakeDetection: 0.1, DocumentAuthenticity: 0.1}, domain.PatternDeepfakeAttack},
		{"DocumentSecond", domain.DetailedScores{DeepfakeDetection: 0.9, DocumentAuthenticity: 0.1}, domain.PatternDocumentForgery},
		{"CrossReferenceThird", domain.DetailedScores{DeepfakeDetection: 0.9, DocumentAuthenticity: 0.9, CrossReferenceMatch: 0.1}, domain.PatternSyntheticIdentity},
		{"Default", healthyScores(), domain.PatternSyntheticIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newMemRegistry()
			m := newTestMatcher(t, reg, domain.PatternConfig{})

			out, err := m.MatchAndLearn(context.Background(), request(), result(0.85, tt.scores))
			require.NoError(t, err)
			require.NotNil(t, out.Created)

			assert.Equal(t, 1, reg.saves, "exactly one pattern is synthesized")
			p := out.Created
			assert.Equal(t, tt.want, p.PatternType)
			assert.Equal(t, domain.NewPatternID(fixedNow, "id-001"), p.ID)
			assert.Equal(t, int64(1), p.OccurrenceCount)
			assert.Equal(t, 0.85, p.Severity)
			assert.Len(t, p.Indicators, 2)
			assert.Len(t, p.MitigationStrategies, 2)
			assert.Equal(t, []string{"DE"}, p.GeographicDistribution)
			assert.Empty(t, p.Condition)
		})
	}
}

func TestSynthesisThresholdIsStrict(t *testing.T) {
	reg := newMemRegistry()
	m := newTestMatcher(t, reg, domain.PatternConfig{})

	out, err := m.MatchAndLearn(context.Background(), request(), result(0.8, healthyScores()))
	require.NoError(t, err)
	assert.Nil(t, out.Created)
	assert.Zero(t, reg.saves)
}

func TestConditionPatterns(t *testing.T) {
	reg := newMemRegistry()
	m := newTestMatcher(t, reg, domain.PatternConfig{})
	ctx := context.Background()

	err := m.Register(ctx, &domain.FraudPattern{
		PatternType: domain.PatternBotAttack,
		Severity:    0.6,
		Condition:   `device_trust < 0.2 && validation_type == "IdentityVerification"`,
	})
	require.NoError(t, err)

	scores := healthyScores()
	scores.DeviceTrust = 0.1
	out, err := m.MatchAndLearn(ctx, request(), result(0.5, scores))
	require.NoError(t, err)
	require.Len(t, out.Matched, 1)
	assert.Equal(t, domain.PatternBotAttack, out.Matched[0].PatternType)
	assert.Equal(t, domain.RiskMedium, out.Factors[0].Severity)

	scores.DeviceTrust = 0.9
	out, err = m.MatchAndLearn(ctx, request(), result(0.5, scores))
	require.NoError(t, err)
	assert.Empty(t, out.Matched)
}

func TestRegisterRejects(t *testing.T) {
	m := newTestMatcher(t, newMemRegistry(), domain.PatternConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		p    *domain.FraudPattern
	}{
		{"Nil", nil},
		{"UnknownType", &domain.FraudPattern{PatternType: "Phishing"}},
		{"Severity", &domain.FraudPattern{PatternType: domain.PatternBotAttack, Severity: 2}},
		{"BadCEL", &domain.FraudPattern{PatternType: domain.PatternBotAttack, Condition: "this is not valid CEL !!!"}},
		{"NonBool", &domain.FraudPattern{PatternType: domain.PatternBotAttack, Condition: "overall_score * 2.0"}},
		{"UnknownVariable", &domain.FraudPattern{PatternType: domain.PatternBotAttack, Condition: "amount > 1.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Register(ctx, tt.p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestLearnDeepfake(t *testing.T) {
	reg := newMemRegistry()
	m := newTestMatcher(t, reg, domain.PatternConfig{})

	p, err := m.LearnDeepfake(context.Background(), 0.9)
	require.NoError(t, err)
	assert.Equal(t, domain.NewDeepfakePatternID(fixedNow), p.ID)
	assert.Equal(t, domain.PatternDeepfakeAttack, p.PatternType)
	assert.Equal(t, 1, reg.saves)
}
