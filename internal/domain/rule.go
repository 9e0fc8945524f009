package domain

import "time"

// Names of the advanced checks a rule may carry.
const (
	AdvancedMaxScorePerMinute   = "max_score_per_minute"
	AdvancedImpossibleThreshold = "impossible_threshold"
)

// ValidationRule bounds the scores accepted for one game, or for every game
// when GameID is nil.
type ValidationRule struct {
	ID              int64              `json:"id"`
	GameID          *int64             `json:"game_id"`
	MinScore        *float64           `json:"min_score"`
	MaxScore        *float64           `json:"max_score"`
	MaxPlaytime     *int64             `json:"max_playtime_seconds"`
	ScoreMultiplier float64            `json:"score_multiplier"`
	AdvancedRules   map[string]float64 `json:"advanced_rules,omitempty"`
	Active          bool               `json:"is_active"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Global reports whether the rule applies to all games.
func (r *ValidationRule) Global() bool {
	return r.GameID == nil
}

// AppliesTo reports whether the rule is active and matches gameID.
func (r *ValidationRule) AppliesTo(gameID int64) bool {
	if !r.Active {
		return false
	}
	return r.GameID == nil || *r.GameID == gameID
}

// Advanced returns the named advanced check and whether it is configured.
func (r *ValidationRule) Advanced(name string) (float64, bool) {
	v, ok := r.AdvancedRules[name]
	return v, ok
}

// Clone returns a deep copy.
func (r ValidationRule) Clone() ValidationRule {
	out := r
	if r.GameID != nil {
		v := *r.GameID
		out.GameID = &v
	}
	if r.MinScore != nil {
		v := *r.MinScore
		out.MinScore = &v
	}
	if r.MaxScore != nil {
		v := *r.MaxScore
		out.MaxScore = &v
	}
	if r.MaxPlaytime != nil {
		v := *r.MaxPlaytime
		out.MaxPlaytime = &v
	}
	if r.AdvancedRules != nil {
		out.AdvancedRules = make(map[string]float64, len(r.AdvancedRules))
		for k, v := range r.AdvancedRules {
			out.AdvancedRules[k] = v
		}
	}
	return out
}

// Verdict is the outcome of evaluating a candidate score.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	RuleID int64  `json:"rule_id,omitempty"`
	Check  string `json:"check,omitempty"`
}

// Err returns nil for an accepted verdict and a ValidationError otherwise.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return &ValidationError{RuleID: v.RuleID, Check: v.Check, Reason: v.Reason}
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
