// Package ledger persists submitted scores and keeps personal bests and
// rankings in step with them.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/storage"
)

// RewardPoints is credited to the player for every accepted score
const RewardPoints = 10

// Notifier is told about scores after they commit
type Notifier interface {
	ScoreAccepted(ctx context.Context, event domain.ScoreAccepted) error
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) ScoreAccepted(context.Context, domain.ScoreAccepted) error { return nil }

// Receipt describes a committed submission
type Receipt struct {
	Score        domain.Score
	Ranks        map[domain.TimeWindow]int64
	PersonalBest domain.PersonalBest
	NewBest      bool
	// Duplicate is set when the session was already recorded; nothing was
	// written and Score is the earlier submission.
	Duplicate bool
}

// Ledger is the only writer of scores
type Ledger struct {
	store    storage.Store
	engine   *ranking.Engine
	tracker  *personalbest.Tracker
	notifier Notifier
	logger   *slog.Logger
}

// New creates a ledger. A nil notifier disables notifications.
func New(store storage.Store, engine *ranking.Engine, tracker *personalbest.Tracker, notifier Notifier, logger *slog.Logger) *Ledger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Ledger{
		store:    store,
		engine:   engine,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger,
	}
}

// Submit persists an already validated submission as a valid score and
// applies it to the player's personal best and every current ranking window.
// Either all of it commits or none of it does.
func (l *Ledger) Submit(ctx context.Context, sub domain.ScoreSubmission) (*Receipt, error) {
	unlock := l.engine.LockGame(sub.GameID)
	defer unlock()

	now := l.engine.Now().UTC()
	score := domain.Score{
		PlayerID:   sub.PlayerID,
		GameID:     sub.GameID,
		SessionID:  sub.SessionID,
		Value:      sub.Score,
		Playtime:   sub.Playtime,
		Difficulty: sub.Difficulty,
		Metrics:    sub.Metrics.Clone(),
		Valid:      true,
		AchievedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if score.SessionID == "" {
		score.SessionID = uuid.NewString()
	}
	if score.Difficulty == "" {
		score.Difficulty = domain.DifficultyMedium
	}
	score.ValidationHash = ValidationHash(score.PlayerID, score.GameID, score.Value, now)

	var receipt Receipt
	err := l.store.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetGame(ctx, score.GameID); err != nil {
			return err
		}
		if sub.SessionID != "" {
			prior, err := findSession(ctx, tx, &score)
			if err != nil {
				return err
			}
			if prior != nil {
				receipt = *prior
				return nil
			}
		}
		if err := tx.InsertScore(ctx, &score); err != nil {
			return domain.NewStorageError("insert score", err)
		}

		pb, improved, err := l.tracker.Record(ctx, tx, &score)
		if err != nil {
			return fmt.Errorf("recording personal best: %w", err)
		}

		ranks, err := l.engine.ApplyScore(ctx, tx, &score)
		if err != nil {
			return err
		}

		if improved {
			if rank, ok := ranks[domain.WindowAllTime]; ok {
				if err := l.tracker.SetBestRank(ctx, tx, score.PlayerID, score.GameID, rank); err != nil {
					return err
				}
				pb.BestRank = rank
			}
		}

		receipt = Receipt{Score: score, Ranks: ranks, PersonalBest: *pb, NewBest: improved}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submitting score: %w", err)
	}
	if receipt.Duplicate {
		l.logger.Info("duplicate session ignored", "score_id", receipt.Score.ID, "player_id", sub.PlayerID, "game_id", sub.GameID)
		return &receipt, nil
	}

	l.logger.Debug("score accepted",
		"score_id", score.ID,
		"player_id", score.PlayerID,
		"game_id", score.GameID,
		"rank", receipt.Ranks[domain.WindowAllTime],
	)

	l.engine.Publish(ctx, score.GameID)
	l.notify(ctx, &receipt)
	return &receipt, nil
}

func (l *Ledger) notify(ctx context.Context, r *Receipt) {
	event := domain.ScoreAccepted{
		ScoreID:    r.Score.ID,
		PlayerID:   r.Score.PlayerID,
		GameID:     r.Score.GameID,
		Score:      r.Score.Value,
		Rank:       r.Ranks[domain.WindowAllTime],
		NewBest:    r.NewBest,
		Points:     RewardPoints,
		AchievedAt: r.Score.AchievedAt,
	}
	if err := l.notifier.ScoreAccepted(ctx, event); err != nil {
		l.logger.Warn("failed to deliver score event", "score_id", r.Score.ID, "error", err)
	}
}

// Invalidate marks a score invalid and recomputes the rankings of its game
// and the owner's personal best.
func (l *Ledger) Invalidate(ctx context.Context, scoreID int64) (*domain.Score, error) {
	return l.setValidity(ctx, scoreID, false)
}

// Revalidate marks a previously invalidated score valid again.
func (l *Ledger) Revalidate(ctx context.Context, scoreID int64) (*domain.Score, error) {
	return l.setValidity(ctx, scoreID, true)
}

func (l *Ledger) setValidity(ctx context.Context, scoreID int64, valid bool) (*domain.Score, error) {
	var gameID int64
	err := l.store.View(ctx, func(tx storage.Tx) error {
		s, err := tx.GetScore(ctx, scoreID)
		if err != nil {
			return err
		}
		gameID = s.GameID
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("get score", err)
	}

	unlock := l.engine.LockGame(gameID)
	defer unlock()

	var out *domain.Score
	err = l.store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.SetScoreValidity(ctx, scoreID, valid, l.engine.Now().UTC()); err != nil {
			return err
		}
		s, err := tx.GetScore(ctx, scoreID)
		if err != nil {
			return err
		}
		if err := l.engine.RebuildGame(ctx, tx, s.GameID); err != nil {
			return err
		}
		if err := l.tracker.Recompute(ctx, tx, s.PlayerID, s.GameID); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setting score %d validity: %w", scoreID, err)
	}

	l.logger.Info("score validity changed", "score_id", scoreID, "game_id", gameID, "valid", valid)
	l.engine.Publish(ctx, gameID)
	return out, nil
}

// findSession returns a receipt for an earlier score of the same player and
// game carrying the same session id, or nil.
func findSession(ctx context.Context, tx storage.Tx, s *domain.Score) (*Receipt, error) {
	scores, err := tx.ListScores(ctx, domain.ScoreFilter{PlayerID: s.PlayerID, GameID: s.GameID})
	if err != nil {
		return nil, domain.NewStorageError("list scores", err)
	}
	for _, prior := range scores {
		if prior.SessionID != s.SessionID {
			continue
		}
		r := &Receipt{Score: prior, Ranks: map[domain.TimeWindow]int64{}, Duplicate: true}
		entries, err := tx.ListRankingEntries(ctx, s.GameID, "")
		if err != nil {
			return nil, domain.NewStorageError("list ranking entries", err)
		}
		for _, e := range entries {
			if e.PlayerID == s.PlayerID {
				r.Ranks[e.Window] = e.Rank
			}
		}
		if pb, err := tx.GetPersonalBest(ctx, s.PlayerID, s.GameID); err == nil {
			r.PersonalBest = *pb
		} else if !domain.IsNotFoundError(err) {
			return nil, domain.NewStorageError("get personal best", err)
		}
		return r, nil
	}
	return nil, nil
}

// ValidationHash is the audit digest stored with every score.
func ValidationHash(playerID, gameID int64, value float64, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(playerID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(gameID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatFloat(value, 'f', -1, 64)))
	h.Write([]byte{':'})
	h.Write([]byte(at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
