// Package storage defines the persistence port the engine depends on.
package storage

import (
	"context"
	"time"

	"github.com/scoreboard-engine/internal/domain"
)

// Store runs transactions against the engine's state. An error returned by fn
// or by the commit rolls back every write made through the Tx.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is a unit of work over games, scores, rules, personal bests and the
// ranking cache. A Tx must not be used after its callback returns.
type Tx interface {
	GameTx
	ScoreTx
	RuleTx
	PersonalBestTx
	RankingTx
}

type GameTx interface {
	// PutGame inserts or replaces a game. A zero ID is assigned.
	PutGame(ctx context.Context, g *domain.Game) error
	GetGame(ctx context.Context, id int64) (*domain.Game, error)
	ListGames(ctx context.Context) ([]domain.Game, error)
	DeleteAllGames(ctx context.Context) error
}

type ScoreTx interface {
	// InsertScore persists s. A zero ID is assigned; a non-zero ID is kept.
	InsertScore(ctx context.Context, s *domain.Score) error
	GetScore(ctx context.Context, id int64) (*domain.Score, error)
	SetScoreValidity(ctx context.Context, id int64, valid bool, at time.Time) error
	ListScores(ctx context.Context, filter domain.ScoreFilter) ([]domain.Score, error)
	DeleteAllScores(ctx context.Context) error
}

type RuleTx interface {
	// SaveRule inserts a rule with a zero ID or replaces an existing one.
	SaveRule(ctx context.Context, r *domain.ValidationRule) error
	GetRule(ctx context.Context, id int64) (*domain.ValidationRule, error)
	ListRules(ctx context.Context) ([]domain.ValidationRule, error)
	DeleteAllRules(ctx context.Context) error
}

type PersonalBestTx interface {
	GetPersonalBest(ctx context.Context, playerID, gameID int64) (*domain.PersonalBest, error)
	SavePersonalBest(ctx context.Context, pb *domain.PersonalBest) error
	DeletePersonalBest(ctx context.Context, playerID, gameID int64) error
	// ListPersonalBests returns rows for playerID, or every row when it is zero.
	ListPersonalBests(ctx context.Context, playerID int64) ([]domain.PersonalBest, error)
	DeleteAllPersonalBests(ctx context.Context) error
}

type RankingTx interface {
	UpsertRankingEntry(ctx context.Context, e *domain.RankingEntry) error
	// ListRankingEntries returns the rows of (game, window). A zero gameID
	// lists every game; an empty window lists every window.
	ListRankingEntries(ctx context.Context, gameID int64, window domain.TimeWindow) ([]domain.RankingEntry, error)
	// DeleteRankingEntries removes rows of (game, window) whose period started
	// before the given time; a zero time removes all of them.
	DeleteRankingEntries(ctx context.Context, gameID int64, window domain.TimeWindow, before time.Time) error
	DeleteAllRankingEntries(ctx context.Context) error
}

// BoardLocker is implemented by transactions of stores shared between
// processes. LockBoard blocks until the caller holds (game, window) and
// releases it when the transaction ends.
type BoardLocker interface {
	LockBoard(ctx context.Context, gameID int64, window domain.TimeWindow) error
}
