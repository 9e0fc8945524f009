package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/ledger"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/rules"
	"github.com/scoreboard-engine/internal/storage"
	"github.com/scoreboard-engine/internal/validation"
)

// Submission outcomes reported to the recorder
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Recorder counts submission outcomes
type Recorder interface {
	SubmissionObserved(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) SubmissionObserved(string) {}

// LeaderboardService provides business logic for leaderboard operations
type LeaderboardService struct {
	store    storage.Store
	rules    *rules.Store
	ledger   *ledger.Ledger
	engine   *ranking.Engine
	tracker  *personalbest.Tracker
	config   *config.LeaderboardConfig
	recorder Recorder
	logger   *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	store storage.Store,
	ruleStore *rules.Store,
	ledger *ledger.Ledger,
	engine *ranking.Engine,
	tracker *personalbest.Tracker,
	cfg *config.LeaderboardConfig,
	recorder Recorder,
	logger *slog.Logger,
) *LeaderboardService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &LeaderboardService{
		store:    store,
		rules:    ruleStore,
		ledger:   ledger,
		engine:   engine,
		tracker:  tracker,
		config:   cfg,
		recorder: recorder,
		logger:   logger,
	}
}

// SubmitScore validates a submission against the game's active rules and,
// when it passes, records it. A rejected submission returns a result with the
// reason together with a *domain.ValidationError.
func (s *LeaderboardService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmitResult, error) {
	if err := sub.Check(); err != nil {
		s.recorder.SubmissionObserved(OutcomeFailed)
		return nil, err
	}

	active, err := s.activeRules(ctx, sub.GameID)
	if err != nil {
		s.recorder.SubmissionObserved(OutcomeFailed)
		return nil, err
	}

	verdict := validation.Validate(validation.Candidate{Score: sub.Score, Playtime: sub.Playtime}, active)
	if !verdict.Valid {
		s.recorder.SubmissionObserved(OutcomeRejected)
		s.logger.Info("score rejected",
			"player_id", sub.PlayerID,
			"game_id", sub.GameID,
			"rule_id", verdict.RuleID,
			"check", verdict.Check,
		)
		return &domain.SubmitResult{Accepted: false, Reason: verdict.Reason}, verdict.Err()
	}

	receipt, err := s.ledger.Submit(ctx, sub)
	if err != nil {
		s.recorder.SubmissionObserved(OutcomeFailed)
		return nil, err
	}
	if receipt.Duplicate {
		s.recorder.SubmissionObserved(OutcomeDuplicate)
	} else {
		s.recorder.SubmissionObserved(OutcomeAccepted)
	}

	return &domain.SubmitResult{
		Accepted: true,
		ScoreID:  receipt.Score.ID,
		Rank:     receipt.Ranks[domain.WindowAllTime],
	}, nil
}

// activeRules checks that the game exists and returns its applicable rules
func (s *LeaderboardService) activeRules(ctx context.Context, gameID int64) ([]domain.ValidationRule, error) {
	var out []domain.ValidationRule
	err := s.store.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetGame(ctx, gameID); err != nil {
			return err
		}
		var err error
		out, err = rules.Active(ctx, tx, gameID)
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("load rules", err)
	}
	return out, nil
}

// BatchItemResult is the outcome of one entry of a batch submission
type BatchItemResult struct {
	Index  int                  `json:"index"`
	Result *domain.SubmitResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
	Failed bool                 `json:"-"` // not stored and not rejected; safe to retry
}

// SubmitScoreBatch submits multiple scores; every entry is processed
// independently.
func (s *LeaderboardService) SubmitScoreBatch(ctx context.Context, batch domain.BatchScoreSubmission) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(batch.Scores))
	for i, submission := range batch.Scores {
		item := BatchItemResult{Index: i}
		res, err := s.SubmitScore(ctx, submission)
		item.Result = res
		if err != nil {
			item.Error = batchError(err)
			if item.Error == domain.ErrInternalError.Error() {
				item.Failed = true
				s.logger.Error("failed to submit score in batch",
					"player_id", submission.PlayerID,
					"game_id", submission.GameID,
					"error", err,
				)
			}
		}
		results = append(results, item)
	}
	return results
}

// batchError is the text reported for a failed batch entry. Storage and
// other internal failures are reported generically.
func batchError(err error) string {
	switch {
	case domain.IsValidationError(err),
		domain.IsNotFoundError(err),
		errors.Is(err, domain.ErrInvalidRequest):
		return err.Error()
	}
	return domain.ErrInternalError.Error()
}

// ValidateOnly evaluates a candidate without persisting anything
func (s *LeaderboardService) ValidateOnly(ctx context.Context, gameID int64, score float64, playtime int64) (domain.Verdict, error) {
	active, err := s.activeRules(ctx, gameID)
	if err != nil {
		return domain.Verdict{}, err
	}
	return validation.Validate(validation.Candidate{Score: score, Playtime: playtime}, active), nil
}

func (s *LeaderboardService) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return limit
}

// TopScores returns the best rows of a game's leaderboard in window
func (s *LeaderboardService) TopScores(ctx context.Context, gameID int64, window domain.TimeWindow, limit int, difficulty domain.Difficulty) ([]domain.LeaderboardRow, error) {
	if _, err := s.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := s.engine.Top(ctx, gameID, window, s.clampLimit(limit), difficulty)
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}
	return rows, nil
}

// PlayerRank returns a player's rank and percentile in window
func (s *LeaderboardService) PlayerRank(ctx context.Context, playerID, gameID int64, window domain.TimeWindow) (*domain.PlayerRank, error) {
	if _, err := s.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	return s.engine.PlayerRank(ctx, gameID, playerID, window)
}

// CompareUsers returns the ranks of several players in one leaderboard,
// best first. Players without a ranking are omitted.
func (s *LeaderboardService) CompareUsers(ctx context.Context, playerIDs []int64, gameID int64, window domain.TimeWindow) ([]domain.PlayerRank, error) {
	if len(playerIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one player is required", domain.ErrInvalidRequest)
	}
	if len(playerIDs) > s.config.CompareMaxPlayers {
		return nil, fmt.Errorf("%w: at most %d players can be compared", domain.ErrInvalidRequest, s.config.CompareMaxPlayers)
	}
	if _, err := s.GetGame(ctx, gameID); err != nil {
		return nil, err
	}

	out := make([]domain.PlayerRank, 0, len(playerIDs))
	seen := make(map[int64]bool, len(playerIDs))
	for _, id := range playerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		pr, err := s.engine.PlayerRank(ctx, gameID, id, window)
		if domain.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *pr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// PersonalBests returns a player's per-game personal bests
func (s *LeaderboardService) PersonalBests(ctx context.Context, playerID int64) ([]domain.PersonalBest, error) {
	return s.tracker.List(ctx, s.store, playerID)
}

// UserScores returns a player's valid scores, highest first, optionally for
// one game only.
func (s *LeaderboardService) UserScores(ctx context.Context, playerID, gameID int64, limit int) ([]domain.Score, error) {
	if limit <= 0 {
		limit = s.config.UserScoresLimit
	}
	if limit > s.config.UserScoresMaxLimit {
		limit = s.config.UserScoresMaxLimit
	}

	var scores []domain.Score
	err := s.store.View(ctx, func(tx storage.Tx) error {
		if gameID != 0 {
			if _, err := tx.GetGame(ctx, gameID); err != nil {
				return err
			}
		}
		var err error
		scores, err = tx.ListScores(ctx, domain.ScoreFilter{PlayerID: playerID, GameID: gameID, ValidOnly: true})
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("list user scores", err)
	}

	// best first; equal scores most recent first
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		if !a.AchievedAt.Equal(b.AchievedAt) {
			return a.AchievedAt.After(b.AchievedAt)
		}
		return a.ID > b.ID
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// GameStats returns statistics for a game's valid scores
func (s *LeaderboardService) GameStats(ctx context.Context, gameID int64) (*domain.GameStats, error) {
	var scores []domain.Score
	err := s.store.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetGame(ctx, gameID); err != nil {
			return err
		}
		var err error
		scores, err = tx.ListScores(ctx, domain.ScoreFilter{GameID: gameID, ValidOnly: true})
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("game stats", err)
	}

	stats := &domain.GameStats{
		GameID:                 gameID,
		DifficultyDistribution: make(map[domain.Difficulty]int64),
	}
	today := s.engine.Period(domain.WindowDaily)
	players := make(map[int64]bool)
	var sum float64
	for i, sc := range scores {
		stats.TotalPlays++
		sum += sc.Value
		players[sc.PlayerID] = true
		stats.DifficultyDistribution[sc.Difficulty]++
		if today.Contains(sc.AchievedAt) {
			stats.PlaysToday++
		}
		if i == 0 || sc.Value > stats.HighScore {
			stats.HighScore = sc.Value
		}
		if i == 0 || sc.Value < stats.LowScore {
			stats.LowScore = sc.Value
		}
	}
	stats.UniquePlayers = int64(len(players))
	if stats.TotalPlays > 0 {
		stats.AverageScore = sum / float64(stats.TotalPlays)
	}
	return stats, nil
}

// GlobalStats summarizes every game
func (s *LeaderboardService) GlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	var scores []domain.Score
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		scores, err = tx.ListScores(ctx, domain.ScoreFilter{ValidOnly: true})
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("global stats", err)
	}

	stats := &domain.GlobalStats{}
	players := make(map[int64]bool)
	games := make(map[int64]bool)
	var sum float64
	for _, sc := range scores {
		players[sc.PlayerID] = true
		games[sc.GameID] = true
		sum += sc.Value
	}
	stats.TotalPlayers = int64(len(players))
	stats.ActiveGames = int64(len(games))
	stats.TotalScores = int64(len(scores))
	if len(scores) > 0 {
		stats.GlobalAverageScore = sum / float64(len(scores))
	}
	return stats, nil
}

// RegisterGame creates a game scores can be submitted for
func (s *LeaderboardService) RegisterGame(ctx context.Context, name, description string) (*domain.Game, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: game name is required", domain.ErrInvalidRequest)
	}
	g := &domain.Game{Name: name, Description: description, CreatedAt: s.engine.Now().UTC()}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		return tx.PutGame(ctx, g)
	})
	if err != nil {
		return nil, domain.NewStorageError("register game", err)
	}
	s.logger.Info("game registered", "game_id", g.ID, "name", g.Name)
	return g, nil
}

// GetGame returns a game by ID
func (s *LeaderboardService) GetGame(ctx context.Context, gameID int64) (*domain.Game, error) {
	var g *domain.Game
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		g, err = tx.GetGame(ctx, gameID)
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("get game", err)
	}
	return g, nil
}

// ListGames returns all games
func (s *LeaderboardService) ListGames(ctx context.Context) ([]domain.Game, error) {
	var games []domain.Game
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		games, err = tx.ListGames(ctx)
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("list games", err)
	}
	return games, nil
}

// SaveRule creates or updates a validation rule
func (s *LeaderboardService) SaveRule(ctx context.Context, r *domain.ValidationRule) error {
	return s.rules.Save(ctx, r)
}

// SetRuleActive activates or deactivates a validation rule
func (s *LeaderboardService) SetRuleActive(ctx context.Context, ruleID int64, active bool) error {
	return s.rules.SetActive(ctx, ruleID, active)
}

// ListRules returns every validation rule
func (s *LeaderboardService) ListRules(ctx context.Context) ([]domain.ValidationRule, error) {
	return s.rules.List(ctx)
}

// InvalidateScore excludes a score from rankings and personal bests
func (s *LeaderboardService) InvalidateScore(ctx context.Context, scoreID int64) (*domain.Score, error) {
	return s.ledger.Invalidate(ctx, scoreID)
}

// RevalidateScore restores an invalidated score
func (s *LeaderboardService) RevalidateScore(ctx context.Context, scoreID int64) (*domain.Score, error) {
	return s.ledger.Revalidate(ctx, scoreID)
}

// Ready reports whether the store answers
func (s *LeaderboardService) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.ListGames(ctx)
		return err
	})
}
