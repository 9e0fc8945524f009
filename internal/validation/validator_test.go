package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scoreboard-engine/internal/domain"
)

func TestValidate(t *testing.T) {
	bounded := domain.ValidationRule{ID: 1, GameID: domain.Int64(1), MinScore: domain.Float64(0), MaxScore: domain.Float64(99), Active: true}
	floor := domain.ValidationRule{ID: 5, GameID: domain.Int64(1), MinScore: domain.Float64(10), Active: true}
	playtime := domain.ValidationRule{ID: 2, GameID: domain.Int64(1), MaxPlaytime: domain.Int64(600), Active: true}
	rate := domain.ValidationRule{ID: 3, Active: true, AdvancedRules: map[string]float64{
		domain.AdvancedMaxScorePerMinute: 100,
	}}
	impossible := domain.ValidationRule{ID: 4, Active: true, AdvancedRules: map[string]float64{
		domain.AdvancedImpossibleThreshold: 1000,
	}}

	tests := []struct {
		name      string
		candidate Candidate
		rules     []domain.ValidationRule
		wantValid bool
		wantCheck string
		wantRule  int64
	}{
		{
			name:      "no rules accepts",
			candidate: Candidate{Score: 1e9},
			wantValid: true,
		},
		{
			name:      "above max",
			candidate: Candidate{Score: 100, Playtime: 60},
			rules:     []domain.ValidationRule{bounded},
			wantCheck: CheckMaxScore,
			wantRule:  1,
		},
		{
			name:      "max is inclusive",
			candidate: Candidate{Score: 99, Playtime: 60},
			rules:     []domain.ValidationRule{bounded},
			wantValid: true,
		},
		{
			name:      "below min",
			candidate: Candidate{Score: 5},
			rules:     []domain.ValidationRule{floor},
			wantCheck: CheckMinScore,
			wantRule:  5,
		},
		{
			name:      "negative score rejected without rules",
			candidate: Candidate{Score: -1},
			wantCheck: CheckScoreValue,
		},
		{
			name:      "NaN rejected without rules",
			candidate: Candidate{Score: math.NaN()},
			wantCheck: CheckScoreValue,
		},
		{
			name:      "infinity rejected before rules",
			candidate: Candidate{Score: math.Inf(1)},
			rules:     []domain.ValidationRule{impossible},
			wantCheck: CheckScoreValue,
		},
		{
			name:      "negative infinity rejected",
			candidate: Candidate{Score: math.Inf(-1)},
			wantCheck: CheckScoreValue,
		},
		{
			name:      "negative playtime rejected",
			candidate: Candidate{Score: 1, Playtime: -5},
			wantCheck: CheckPlaytime,
		},
		{
			name:      "playtime too long",
			candidate: Candidate{Score: 10, Playtime: 601},
			rules:     []domain.ValidationRule{playtime},
			wantCheck: CheckMaxPlaytime,
			wantRule:  2,
		},
		{
			name:      "rate exceeded",
			candidate: Candidate{Score: 300, Playtime: 60},
			rules:     []domain.ValidationRule{rate},
			wantCheck: domain.AdvancedMaxScorePerMinute,
			wantRule:  3,
		},
		{
			name:      "rate skipped without playtime",
			candidate: Candidate{Score: 300, Playtime: 0},
			rules:     []domain.ValidationRule{rate},
			wantValid: true,
		},
		{
			name:      "impossible threshold ignores playtime",
			candidate: Candidate{Score: 1001, Playtime: 0},
			rules:     []domain.ValidationRule{impossible},
			wantCheck: domain.AdvancedImpossibleThreshold,
			wantRule:  4,
		},
		{
			name:      "first failing rule wins",
			candidate: Candidate{Score: 5000, Playtime: 10},
			rules:     []domain.ValidationRule{bounded, impossible},
			wantCheck: CheckMaxScore,
			wantRule:  1,
		},
		{
			name:      "later rule still applies",
			candidate: Candidate{Score: 50, Playtime: 10},
			rules:     []domain.ValidationRule{bounded, rate},
			wantCheck: domain.AdvancedMaxScorePerMinute,
			wantRule:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.candidate, tt.rules)
			assert.Equal(t, tt.wantValid, v.Valid)
			if tt.wantValid {
				assert.NoError(t, v.Err())
				return
			}
			assert.Equal(t, tt.wantCheck, v.Check)
			assert.Equal(t, tt.wantRule, v.RuleID)
			assert.NotEmpty(t, v.Reason)
			assert.True(t, domain.IsValidationError(v.Err()))
		})
	}
}

func TestValidate_MaxReasonMentionsBound(t *testing.T) {
	rule := domain.ValidationRule{ID: 1, GameID: domain.Int64(1), MinScore: domain.Float64(0), MaxScore: domain.Float64(99), Active: true}

	v := Validate(Candidate{Score: 100, Playtime: 60}, []domain.ValidationRule{rule})

	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "maximum 99")
}

func TestSuspicious_IgnoresBounds(t *testing.T) {
	rule := domain.ValidationRule{ID: 1, MaxScore: domain.Float64(10), Active: true, AdvancedRules: map[string]float64{
		domain.AdvancedImpossibleThreshold: 500,
	}}

	assert.True(t, Suspicious(Candidate{Score: 100}, []domain.ValidationRule{rule}).Valid)
	assert.False(t, Suspicious(Candidate{Score: 501}, []domain.ValidationRule{rule}).Valid)
	assert.True(t, Suspicious(Candidate{Score: 1e6}, []domain.ValidationRule{{ID: 2, Active: true}}).Valid)
}
