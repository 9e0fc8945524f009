// Package personalbest maintains the per-(player, game) best score, play count
// and running average.
package personalbest

import (
	"context"
	"log/slog"
	"time"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/storage"
)

// Tracker updates personal bests inside the caller's transaction
type Tracker struct {
	logger *slog.Logger
}

// NewTracker creates a tracker
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Record folds an accepted score into the pair's personal best and reports
// whether it set a new best.
func (t *Tracker) Record(ctx context.Context, tx storage.PersonalBestTx, s *domain.Score) (*domain.PersonalBest, bool, error) {
	pb, err := tx.GetPersonalBest(ctx, s.PlayerID, s.GameID)
	switch {
	case domain.IsNotFoundError(err):
		pb = &domain.PersonalBest{
			PlayerID:     s.PlayerID,
			GameID:       s.GameID,
			BestScore:    s.Value,
			AchievedAt:   s.AchievedAt,
			TotalPlays:   1,
			AverageScore: s.Value,
			LastPlayedAt: s.AchievedAt,
		}
		if err := tx.SavePersonalBest(ctx, pb); err != nil {
			return nil, false, domain.NewStorageError("save personal best", err)
		}
		return pb, true, nil
	case err != nil:
		return nil, false, domain.NewStorageError("get personal best", err)
	}

	improved := apply(pb, s.Value, s.AchievedAt)
	if err := tx.SavePersonalBest(ctx, pb); err != nil {
		return nil, false, domain.NewStorageError("save personal best", err)
	}
	return pb, improved, nil
}

// apply updates the running aggregates with one more accepted score.
func apply(pb *domain.PersonalBest, value float64, at time.Time) bool {
	plays := float64(pb.TotalPlays)
	pb.AverageScore = (pb.AverageScore*plays + value) / (plays + 1)
	pb.TotalPlays++
	if at.After(pb.LastPlayedAt) {
		pb.LastPlayedAt = at
	}
	if value > pb.BestScore {
		pb.BestScore = value
		pb.AchievedAt = at
		return true
	}
	return false
}

// SetBestRank stores the rank reached with the current best score.
func (t *Tracker) SetBestRank(ctx context.Context, tx storage.PersonalBestTx, playerID, gameID, rank int64) error {
	pb, err := tx.GetPersonalBest(ctx, playerID, gameID)
	if err != nil {
		return domain.NewStorageError("get personal best", err)
	}
	pb.BestRank = rank
	if err := tx.SavePersonalBest(ctx, pb); err != nil {
		return domain.NewStorageError("save personal best", err)
	}
	return nil
}

// Recompute rebuilds the pair's personal best from its remaining valid scores,
// deleting the row when none are left. The stored best rank is kept when the
// best score is unchanged and cleared otherwise.
func (t *Tracker) Recompute(ctx context.Context, tx storage.Tx, playerID, gameID int64) error {
	scores, err := tx.ListScores(ctx, domain.ScoreFilter{PlayerID: playerID, GameID: gameID, ValidOnly: true})
	if err != nil {
		return domain.NewStorageError("list scores", err)
	}

	prev, err := tx.GetPersonalBest(ctx, playerID, gameID)
	if err != nil && !domain.IsNotFoundError(err) {
		return domain.NewStorageError("get personal best", err)
	}

	if len(scores) == 0 {
		if prev == nil {
			return nil
		}
		t.logger.Debug("personal best removed", "player_id", playerID, "game_id", gameID)
		return domain.NewStorageError("delete personal best", tx.DeletePersonalBest(ctx, playerID, gameID))
	}

	pb := &domain.PersonalBest{PlayerID: playerID, GameID: gameID}
	var sum float64
	for i, s := range scores {
		sum += s.Value
		if i == 0 || s.Value > pb.BestScore || (s.Value == pb.BestScore && s.AchievedAt.Before(pb.AchievedAt)) {
			pb.BestScore = s.Value
			pb.AchievedAt = s.AchievedAt
		}
		if s.AchievedAt.After(pb.LastPlayedAt) {
			pb.LastPlayedAt = s.AchievedAt
		}
	}
	pb.TotalPlays = int64(len(scores))
	pb.AverageScore = sum / float64(len(scores))
	if prev != nil && prev.BestScore == pb.BestScore {
		pb.BestRank = prev.BestRank
	}

	if err := tx.SavePersonalBest(ctx, pb); err != nil {
		return domain.NewStorageError("save personal best", err)
	}
	return nil
}

// List returns the personal bests of playerID
func (t *Tracker) List(ctx context.Context, store storage.Store, playerID int64) ([]domain.PersonalBest, error) {
	var out []domain.PersonalBest
	err := store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListPersonalBests(ctx, playerID)
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("list personal bests", err)
	}
	return out, nil
}
