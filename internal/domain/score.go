package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Difficulty is the closed set of difficulty tags a score can carry
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// ParseDifficulty normalizes a difficulty tag; empty defaults to medium.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case "":
		return DifficultyMedium, nil
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyExpert:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, s)
}

// Metrics holds free-form, game-specific telemetry. Values are JSON
// primitives (string, finite number, bool or nil). An empty map is stored
// as nil.
type Metrics map[string]any

// Check reports the first key whose value is not a flat primitive.
func (m Metrics) Check() error {
	for k, v := range m {
		switch x := v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
		case float64:
			if !finite(x) {
				return fmt.Errorf("%w: metric %q must be a finite number", ErrInvalidRequest, k)
			}
		case float32:
			if !finite(float64(x)) {
				return fmt.Errorf("%w: metric %q must be a finite number", ErrInvalidRequest, k)
			}
		default:
			return fmt.Errorf("%w: metric %q must be a string, number, bool or null", ErrInvalidRequest, k)
		}
	}
	return nil
}

// Clone returns a deep copy. Empty maps become nil.
func (m Metrics) Clone() Metrics {
	if len(m) == 0 {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case Metrics:
		return map[string]any(x.Clone())
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Score is one persisted submission.
type Score struct {
	ID             int64      `json:"id"`
	PlayerID       int64      `json:"user_id"`
	GameID         int64      `json:"game_id"`
	SessionID      string     `json:"session_id"`
	Value          float64    `json:"score_value"`
	Playtime       int64      `json:"playtime_seconds"`
	Difficulty     Difficulty `json:"difficulty_level"`
	Metrics        Metrics    `json:"additional_metrics,omitempty"`
	Valid          bool       `json:"is_valid"`
	ValidationHash string     `json:"validation_hash"`
	AchievedAt     time.Time  `json:"achieved_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ScoreSubmission represents a request to submit a score
type ScoreSubmission struct {
	PlayerID   int64      `json:"player_id"`
	GameID     int64      `json:"game_id"`
	Score      float64    `json:"score_value"`
	SessionID  string     `json:"session_id,omitempty"`
	Playtime   int64      `json:"playtime_seconds,omitempty"`
	Difficulty Difficulty `json:"difficulty_level,omitempty"`
	Metrics    Metrics    `json:"additional_metrics,omitempty"`
}

// Check validates the shape of a submission before any rule is consulted
func (s *ScoreSubmission) Check() error {
	if s.PlayerID <= 0 || s.GameID <= 0 {
		return fmt.Errorf("%w: player_id and game_id are required", ErrInvalidRequest)
	}
	if !finite(s.Score) {
		return fmt.Errorf("%w: score_value must be a finite number", ErrInvalidRequest)
	}
	if s.Score < 0 {
		return fmt.Errorf("%w: score_value must be non-negative", ErrInvalidRequest)
	}
	if s.Playtime < 0 {
		return fmt.Errorf("%w: playtime_seconds must be non-negative", ErrInvalidRequest)
	}
	d, err := ParseDifficulty(string(s.Difficulty))
	if err != nil {
		return err
	}
	s.Difficulty = d
	if err := s.Metrics.Check(); err != nil {
		return err
	}
	if len(s.Metrics) == 0 {
		s.Metrics = nil
	}
	return nil
}

// BatchScoreSubmission represents multiple score submissions
type BatchScoreSubmission struct {
	Scores []ScoreSubmission `json:"scores"`
}

// SubmitResult is returned for an accepted or rejected submission
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	ScoreID  int64  `json:"score_id,omitempty"`
	Rank     int64  `json:"rank_position,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ScoreAccepted is emitted after a submission commits
type ScoreAccepted struct {
	ScoreID    int64     `json:"score_id"`
	PlayerID   int64     `json:"player_id"`
	GameID     int64     `json:"game_id"`
	Score      float64   `json:"score_value"`
	Rank       int64     `json:"rank_position"`
	NewBest    bool      `json:"new_best"`
	Points     int       `json:"points"`
	AchievedAt time.Time `json:"achieved_at"`
}

// ScoreFilter narrows ledger scans. Zero values mean "any".
type ScoreFilter struct {
	PlayerID  int64
	GameID    int64
	ValidOnly bool
	Since     time.Time
	Until     time.Time
}

// Matches reports whether s passes the filter.
func (f ScoreFilter) Matches(s *Score) bool {
	if f.PlayerID != 0 && s.PlayerID != f.PlayerID {
		return false
	}
	if f.GameID != 0 && s.GameID != f.GameID {
		return false
	}
	if f.ValidOnly && !s.Valid {
		return false
	}
	if !f.Since.IsZero() && s.AchievedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !s.AchievedAt.Before(f.Until) {
		return false
	}
	return true
}
