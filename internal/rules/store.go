// Package rules manages the validation rules scores are checked against.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/storage"
)

// Store reads and writes validation rules
type Store struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a rule store
func NewStore(store storage.Store, logger *slog.Logger) *Store {
	return &Store{store: store, logger: logger, now: time.Now}
}

// ForGame returns the active rules matching gameID, game-specific rules first
// and then global ones, each group ordered by id.
func ForGame(all []domain.ValidationRule, gameID int64) []domain.ValidationRule {
	var specific, global []domain.ValidationRule
	for _, r := range all {
		if !r.AppliesTo(gameID) {
			continue
		}
		if r.Global() {
			global = append(global, r)
		} else {
			specific = append(specific, r)
		}
	}
	return append(specific, global...)
}

// Active returns the rules that apply to gameID within tx.
func Active(ctx context.Context, tx storage.RuleTx, gameID int64) ([]domain.ValidationRule, error) {
	all, err := tx.ListRules(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list rules", err)
	}
	return ForGame(all, gameID), nil
}

// ActiveRules returns the rules that apply to gameID
func (s *Store) ActiveRules(ctx context.Context, gameID int64) ([]domain.ValidationRule, error) {
	var out []domain.ValidationRule
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = Active(ctx, tx, gameID)
		return err
	})
	return out, err
}

// List returns every rule, active or not
func (s *Store) List(ctx context.Context) ([]domain.ValidationRule, error) {
	var out []domain.ValidationRule
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListRules(ctx)
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError("list rules", err)
	}
	return out, nil
}

// Save creates a rule (zero ID) or replaces an existing one
func (s *Store) Save(ctx context.Context, r *domain.ValidationRule) error {
	if err := checkRule(r); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		if r.GameID != nil {
			if _, err := tx.GetGame(ctx, *r.GameID); err != nil {
				return err
			}
		}
		if r.ID != 0 {
			existing, err := tx.GetRule(ctx, r.ID)
			if err != nil {
				return err
			}
			r.CreatedAt = existing.CreatedAt
		} else {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		return tx.SaveRule(ctx, r)
	})
	if err != nil {
		return domain.NewStorageError("save rule", err)
	}
	s.logger.Info("validation rule saved", "rule_id", r.ID, "global", r.Global(), "active", r.Active)
	return nil
}

// SetActive toggles a rule without touching its bounds
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		r, err := tx.GetRule(ctx, id)
		if err != nil {
			return err
		}
		r.Active = active
		r.UpdatedAt = s.now().UTC()
		return tx.SaveRule(ctx, r)
	})
	if err != nil {
		return domain.NewStorageError("set rule active", err)
	}
	s.logger.Info("validation rule toggled", "rule_id", id, "active", active)
	return nil
}

func checkRule(r *domain.ValidationRule) error {
	if r.MinScore != nil && r.MaxScore != nil && *r.MinScore > *r.MaxScore {
		return fmt.Errorf("%w: min_score %v exceeds max_score %v", domain.ErrInvalidRequest, *r.MinScore, *r.MaxScore)
	}
	if r.MaxPlaytime != nil && *r.MaxPlaytime < 0 {
		return fmt.Errorf("%w: max_playtime_seconds must be non-negative", domain.ErrInvalidRequest)
	}
	for name := range r.AdvancedRules {
		switch name {
		case domain.AdvancedMaxScorePerMinute, domain.AdvancedImpossibleThreshold:
		default:
			return fmt.Errorf("%w: unknown advanced rule %q", domain.ErrInvalidRequest, name)
		}
	}
	if r.ScoreMultiplier == 0 {
		r.ScoreMultiplier = 1
	}
	return nil
}
