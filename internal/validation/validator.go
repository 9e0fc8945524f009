// Package validation evaluates candidate scores against validation rules.
package validation

import (
	"fmt"
	"math"

	"github.com/scoreboard-engine/internal/domain"
)

// Check names reported in a rejected verdict.
const (
	CheckMinScore    = "min_score"
	CheckMaxScore    = "max_score"
	CheckMaxPlaytime = "max_playtime"
	CheckScoreValue  = "score_value"
	CheckPlaytime    = "playtime"
)

// Candidate is the part of a submission the rules look at
type Candidate struct {
	Score    float64
	Playtime int64
}

// Validate checks c against rules in the order given. Each rule is checked in
// full (bounds, playtime, then advanced checks) before the next one, and the
// first failing check decides the verdict. No rules means accept, but a
// non-finite or negative candidate is always rejected.
func Validate(c Candidate, rules []domain.ValidationRule) domain.Verdict {
	if v := checkCandidate(c); !v.Valid {
		return v
	}
	for i := range rules {
		if v := checkRule(c, &rules[i]); !v.Valid {
			return v
		}
	}
	return domain.Verdict{Valid: true}
}

// Suspicious checks only the advanced rules. It is used to re-evaluate stored
// scores whose bounds were already checked at submission time.
func Suspicious(c Candidate, rules []domain.ValidationRule) domain.Verdict {
	for i := range rules {
		if v := checkAdvanced(c, &rules[i]); !v.Valid {
			return v
		}
	}
	return domain.Verdict{Valid: true}
}

func checkCandidate(c Candidate) domain.Verdict {
	switch {
	case math.IsNaN(c.Score) || math.IsInf(c.Score, 0):
		return domain.Verdict{Check: CheckScoreValue, Reason: "score must be a finite number"}
	case c.Score < 0:
		return domain.Verdict{Check: CheckScoreValue, Reason: fmt.Sprintf("score %v is negative", c.Score)}
	case c.Playtime < 0:
		return domain.Verdict{Check: CheckPlaytime, Reason: fmt.Sprintf("playtime %ds is negative", c.Playtime)}
	}
	return domain.Verdict{Valid: true}
}

func checkRule(c Candidate, r *domain.ValidationRule) domain.Verdict {
	if r.MinScore != nil && c.Score < *r.MinScore {
		return reject(r, CheckMinScore, fmt.Sprintf("score %v is below minimum %v", c.Score, *r.MinScore))
	}
	if r.MaxScore != nil && c.Score > *r.MaxScore {
		return reject(r, CheckMaxScore, fmt.Sprintf("score %v exceeds maximum %v", c.Score, *r.MaxScore))
	}
	if r.MaxPlaytime != nil && c.Playtime > *r.MaxPlaytime {
		return reject(r, CheckMaxPlaytime, fmt.Sprintf("playtime %ds exceeds maximum %ds", c.Playtime, *r.MaxPlaytime))
	}
	return checkAdvanced(c, r)
}

func checkAdvanced(c Candidate, r *domain.ValidationRule) domain.Verdict {
	if limit, ok := r.Advanced(domain.AdvancedMaxScorePerMinute); ok && c.Playtime > 0 {
		rate := c.Score / float64(c.Playtime) * 60
		if rate > limit {
			return reject(r, domain.AdvancedMaxScorePerMinute,
				fmt.Sprintf("score rate %.2f per minute exceeds maximum %v", rate, limit))
		}
	}
	if limit, ok := r.Advanced(domain.AdvancedImpossibleThreshold); ok && c.Score > limit {
		return reject(r, domain.AdvancedImpossibleThreshold,
			fmt.Sprintf("score %v exceeds impossible threshold %v", c.Score, limit))
	}
	return domain.Verdict{Valid: true}
}

func reject(r *domain.ValidationRule, check, reason string) domain.Verdict {
	return domain.Verdict{Valid: false, Reason: reason, RuleID: r.ID, Check: check}
}
