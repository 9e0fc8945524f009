package domain

import (
	"fmt"
	"time"
)

// TimeWindow names the period a ranking is computed over
type TimeWindow string

const (
	WindowDaily   TimeWindow = "daily"
	WindowWeekly  TimeWindow = "weekly"
	WindowAllTime TimeWindow = "all_time"
)

// Windows lists every ranking window in a fixed order.
var Windows = []TimeWindow{WindowDaily, WindowWeekly, WindowAllTime}

// ParseTimeWindow accepts the window names used on the wire. An empty string
// means all-time.
func ParseTimeWindow(s string) (TimeWindow, error) {
	switch TimeWindow(s) {
	case "", WindowAllTime, "all-time", "alltime":
		return WindowAllTime, nil
	case WindowDaily:
		return WindowDaily, nil
	case WindowWeekly:
		return WindowWeekly, nil
	}
	return "", fmt.Errorf("%w: unknown time window %q", ErrInvalidRequest, s)
}

// All-time rankings span this fixed range.
var (
	AllTimeStart = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	AllTimeEnd   = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// Period is the half-open interval [Start, End) a window covers.
type Period struct {
	Window TimeWindow `json:"window"`
	Start  time.Time  `json:"start"`
	End    time.Time  `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Calendar computes window boundaries in a fixed location with a configurable
// first day of the week.
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

// DefaultCalendar uses UTC and Monday-based weeks.
func DefaultCalendar() Calendar {
	return Calendar{Location: time.UTC, WeekStart: time.Monday}
}

// PeriodAt returns the period of window that contains now. Boundaries are
// derived from now on every call so an idle process never writes into an
// expired day or week.
func (c Calendar) PeriodAt(window TimeWindow, now time.Time) Period {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch window {
	case WindowDaily:
		return Period{Window: window, Start: dayStart, End: dayStart.AddDate(0, 0, 1)}
	case WindowWeekly:
		offset := (int(local.Weekday()) - int(c.WeekStart) + 7) % 7
		start := dayStart.AddDate(0, 0, -offset)
		return Period{Window: window, Start: start, End: start.AddDate(0, 0, 7)}
	default:
		return Period{Window: WindowAllTime, Start: AllTimeStart, End: AllTimeEnd}
	}
}

// RankingEntry is one cached leaderboard row for a (game, window, player).
// AchievedAt and ScoreID always describe the score held in Score.
type RankingEntry struct {
	GameID      int64      `json:"game_id"`
	PlayerID    int64      `json:"player_id"`
	Window      TimeWindow `json:"time_period"`
	Rank        int64      `json:"rank_position"`
	Score       float64    `json:"score_value"`
	ScoreID     int64      `json:"score_id"`
	AchievedAt  time.Time  `json:"achieved_at"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	LastUpdated time.Time  `json:"last_updated"`
}

// LeaderboardRow is a ranking row joined with the score that produced it
type LeaderboardRow struct {
	Rank       int64      `json:"rank"`
	PlayerID   int64      `json:"player_id"`
	Score      float64    `json:"score_value"`
	ScoreID    int64      `json:"score_id"`
	AchievedAt time.Time  `json:"achieved_at"`
	Difficulty Difficulty `json:"difficulty_level"`
	Playtime   int64      `json:"playtime_seconds"`
}

// PlayerRank is a player's standing within one window
type PlayerRank struct {
	GameID       int64      `json:"game_id"`
	PlayerID     int64      `json:"player_id"`
	Window       TimeWindow `json:"time_period"`
	Rank         int64      `json:"rank_position"`
	Score        float64    `json:"score_value"`
	AchievedAt   time.Time  `json:"achieved_at"`
	TotalPlayers int64      `json:"total_players"`
	Percentile   float64    `json:"percentile"`
}

// PersonalBest is the per-(player, game) aggregate of accepted scores
type PersonalBest struct {
	PlayerID     int64     `json:"user_id"`
	GameID       int64     `json:"game_id"`
	BestScore    float64   `json:"best_score"`
	BestRank     int64     `json:"best_rank"`
	AchievedAt   time.Time `json:"achieved_at"`
	TotalPlays   int64     `json:"total_plays"`
	AverageScore float64   `json:"average_score"`
	LastPlayedAt time.Time `json:"last_played_at"`
}

// Game is a registered game that scores can be submitted for
type Game struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GameStats contains statistics about a game's valid scores
type GameStats struct {
	GameID                 int64                `json:"game_id"`
	TotalPlays             int64                `json:"total_plays"`
	UniquePlayers          int64                `json:"unique_players"`
	AverageScore           float64              `json:"average_score"`
	HighScore              float64              `json:"high_score"`
	LowScore               float64              `json:"low_score"`
	PlaysToday             int64                `json:"plays_today"`
	DifficultyDistribution map[Difficulty]int64 `json:"difficulty_distribution"`
}

// GlobalStats summarizes every game
type GlobalStats struct {
	TotalPlayers       int64   `json:"total_players"`
	ActiveGames        int64   `json:"active_games"`
	TotalScores        int64   `json:"total_scores"`
	GlobalAverageScore float64 `json:"global_average_score"`
}
