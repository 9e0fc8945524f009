// Package ranking computes dense leaderboard ranks per game and time window
// and keeps the ranking cache in the store up to date.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/storage"
)

// ErrCacheMiss is returned by a Mirror that holds no board for the key
var ErrCacheMiss = errors.New("ranking cache miss")

// Mirror is a read-optimized copy of the ranking cache. The store stays
// authoritative; mirror failures are logged and reads fall back to the store.
type Mirror interface {
	ReplaceBoard(ctx context.Context, gameID int64, period domain.Period, rows []domain.LeaderboardRow) error
	// Top returns up to limit rows of the board, all rows when limit <= 0.
	Top(ctx context.Context, gameID int64, period domain.Period, limit int) ([]domain.LeaderboardRow, error)
}

// RebuildObserver receives the duration of each full rebuild
type RebuildObserver interface {
	ObserveRebuild(d time.Duration)
}

type boardKey struct {
	game   int64
	window domain.TimeWindow
}

// Engine maintains the ranking cache
type Engine struct {
	store    storage.Store
	calendar domain.Calendar
	mirror   Mirror
	observer RebuildObserver
	logger   *slog.Logger
	now      func() time.Time

	// all is held shared by per-game work and exclusively by work that spans
	// every game (full rebuild, restore).
	all    sync.RWMutex
	mu     sync.Mutex
	boards map[boardKey]*sync.Mutex
}

// Option configures an Engine
type Option func(*Engine)

// WithMirror publishes every changed board to m after commit
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRebuildObserver reports rebuild durations
func WithRebuildObserver(o RebuildObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates a ranking engine
func NewEngine(store storage.Store, calendar domain.Calendar, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		calendar: calendar,
		logger:   logger,
		now:      time.Now,
		boards:   make(map[boardKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine clock's current time
func (e *Engine) Now() time.Time {
	return e.now()
}

// Period returns the current period of window
func (e *Engine) Period(window domain.TimeWindow) domain.Period {
	return e.calendar.PeriodAt(window, e.now())
}

func (e *Engine) boardLock(k boardKey) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.boards[k]
	if !ok {
		m = &sync.Mutex{}
		e.boards[k] = m
	}
	return m
}

// LockGame serializes ranking work on every window of gameID. The returned
// function releases the locks.
func (e *Engine) LockGame(gameID int64) func() {
	e.all.RLock()
	locks := make([]*sync.Mutex, 0, len(domain.Windows))
	// domain.Windows has a fixed order, so every caller acquires in the same order.
	for _, w := range domain.Windows {
		m := e.boardLock(boardKey{gameID, w})
		m.Lock()
		locks = append(locks, m)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
		e.all.RUnlock()
	}
}

// LockAll excludes every per-game operation until the returned function runs.
func (e *Engine) LockAll() func() {
	e.all.Lock()
	return e.all.Unlock
}

// TryLockAll is LockAll without waiting.
func (e *Engine) TryLockAll() (func(), bool) {
	if !e.all.TryLock() {
		return nil, false
	}
	return e.all.Unlock, true
}

// ApplyScore folds an accepted score into every window whose current period
// contains it and returns the player's resulting rank per window. The caller
// must hold LockGame for the score's game.
func (e *Engine) ApplyScore(ctx context.Context, tx storage.Tx, s *domain.Score) (map[domain.TimeWindow]int64, error) {
	now := e.now()
	ranks := make(map[domain.TimeWindow]int64, len(domain.Windows))
	for _, w := range domain.Windows {
		period := e.calendar.PeriodAt(w, now)
		if !period.Contains(s.AchievedAt) {
			continue
		}
		rank, err := e.applyWindow(ctx, tx, s, period, now)
		if err != nil {
			return nil, fmt.Errorf("updating %s ranking: %w", w, err)
		}
		ranks[w] = rank
	}
	return ranks, nil
}

// lockBoard takes the store-level lock on (game, window) when tx has one.
func lockBoard(ctx context.Context, tx storage.Tx, gameID int64, window domain.TimeWindow) error {
	l, ok := tx.(storage.BoardLocker)
	if !ok {
		return nil
	}
	if err := l.LockBoard(ctx, gameID, window); err != nil {
		return domain.NewStorageError("lock ranking board", err)
	}
	return nil
}

func (e *Engine) applyWindow(ctx context.Context, tx storage.Tx, s *domain.Score, period domain.Period, now time.Time) (int64, error) {
	if err := lockBoard(ctx, tx, s.GameID, period.Window); err != nil {
		return 0, err
	}
	if err := tx.DeleteRankingEntries(ctx, s.GameID, period.Window, period.Start); err != nil {
		return 0, domain.NewStorageError("delete stale ranking entries", err)
	}
	rows, err := tx.ListRankingEntries(ctx, s.GameID, period.Window)
	if err != nil {
		return 0, domain.NewStorageError("list ranking entries", err)
	}

	prevRank := make(map[int64]int64, len(rows))
	found := false
	for i := range rows {
		prevRank[rows[i].PlayerID] = rows[i].Rank
		if rows[i].PlayerID != s.PlayerID {
			continue
		}
		found = true
		if s.Value > rows[i].Score {
			rows[i].Score = s.Value
			rows[i].ScoreID = s.ID
			rows[i].AchievedAt = s.AchievedAt
			rows[i].LastUpdated = now
			prevRank[s.PlayerID] = -1
		}
	}
	if !found {
		rows = append(rows, domain.RankingEntry{
			GameID:      s.GameID,
			PlayerID:    s.PlayerID,
			Window:      period.Window,
			Score:       s.Value,
			ScoreID:     s.ID,
			AchievedAt:  s.AchievedAt,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			LastUpdated: now,
		})
		prevRank[s.PlayerID] = -1
	}

	DenseRank(rows)

	var rank int64
	for i := range rows {
		r := &rows[i]
		if r.PlayerID == s.PlayerID {
			rank = r.Rank
		}
		if prevRank[r.PlayerID] == r.Rank {
			continue
		}
		r.LastUpdated = now
		if err := tx.UpsertRankingEntry(ctx, r); err != nil {
			return 0, domain.NewStorageError("upsert ranking entry", err)
		}
	}
	return rank, nil
}

// DenseRank sorts rows by score descending, earliest achievement first on
// ties, and assigns dense ranks: equal scores share a rank and the next
// distinct score gets the following number.
func DenseRank(rows []domain.RankingEntry) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.AchievedAt.Equal(b.AchievedAt) {
			return a.AchievedAt.Before(b.AchievedAt)
		}
		return a.PlayerID < b.PlayerID
	})
	var rank int64
	for i := range rows {
		if i == 0 || rows[i].Score != rows[i-1].Score {
			rank++
		}
		rows[i].Rank = rank
	}
}

// RebuildGame recomputes every window of gameID from the valid scores in the
// ledger, replacing the game's cached rows. The caller must hold LockGame or
// LockAll.
func (e *Engine) RebuildGame(ctx context.Context, tx storage.Tx, gameID int64) error {
	now := e.now()
	for _, w := range domain.Windows {
		if err := lockBoard(ctx, tx, gameID, w); err != nil {
			return err
		}
		period := e.calendar.PeriodAt(w, now)
		scores, err := tx.ListScores(ctx, domain.ScoreFilter{
			GameID:    gameID,
			ValidOnly: true,
			Since:     period.Start,
			Until:     period.End,
		})
		if err != nil {
			return domain.NewStorageError("list scores", err)
		}

		rows := bestPerPlayer(scores, period, now)
		DenseRank(rows)

		if err := tx.DeleteRankingEntries(ctx, gameID, w, time.Time{}); err != nil {
			return domain.NewStorageError("delete ranking entries", err)
		}
		for i := range rows {
			if err := tx.UpsertRankingEntry(ctx, &rows[i]); err != nil {
				return domain.NewStorageError("upsert ranking entry", err)
			}
		}
	}
	return nil
}

// bestPerPlayer keeps each player's highest score; among equal highest
// scores the most recent one is kept.
func bestPerPlayer(scores []domain.Score, period domain.Period, now time.Time) []domain.RankingEntry {
	best := make(map[int64]*domain.Score)
	for i := range scores {
		s := &scores[i]
		cur, ok := best[s.PlayerID]
		if !ok || s.Value > cur.Value || (s.Value == cur.Value && s.AchievedAt.After(cur.AchievedAt)) {
			best[s.PlayerID] = s
		}
	}
	rows := make([]domain.RankingEntry, 0, len(best))
	for _, s := range best {
		rows = append(rows, domain.RankingEntry{
			GameID:      s.GameID,
			PlayerID:    s.PlayerID,
			Window:      period.Window,
			Score:       s.Value,
			ScoreID:     s.ID,
			AchievedAt:  s.AchievedAt,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			LastUpdated: now,
		})
	}
	return rows
}

// Rebuild recomputes the rankings of gameID, or of every game when gameID is
// zero, in one transaction and publishes the result to the mirror.
func (e *Engine) Rebuild(ctx context.Context, gameID int64) error {
	start := time.Now()
	var unlock func()
	if gameID == 0 {
		unlock = e.LockAll()
	} else {
		unlock = e.LockGame(gameID)
	}
	defer unlock()

	var games []int64
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		games, err = e.rebuildScope(ctx, tx, gameID)
		return err
	})
	if err != nil {
		return fmt.Errorf("rebuilding rankings: %w", err)
	}

	d := time.Since(start)
	if e.observer != nil {
		e.observer.ObserveRebuild(d)
	}
	e.logger.Info("rankings rebuilt", "game_id", gameID, "games", len(games), "duration", d)
	e.Publish(ctx, games...)
	return nil
}

// RebuildInTx is Rebuild inside the caller's transaction; the caller holds
// the matching locks and publishes after commit. It returns the rebuilt games.
func (e *Engine) RebuildInTx(ctx context.Context, tx storage.Tx, gameID int64) ([]int64, error) {
	return e.rebuildScope(ctx, tx, gameID)
}

func (e *Engine) rebuildScope(ctx context.Context, tx storage.Tx, gameID int64) ([]int64, error) {
	if gameID != 0 {
		if _, err := tx.GetGame(ctx, gameID); err != nil {
			return nil, err
		}
		return []int64{gameID}, e.RebuildGame(ctx, tx, gameID)
	}
	games, err := tx.ListGames(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list games", err)
	}
	ids := make([]int64, 0, len(games))
	for _, g := range games {
		if err := e.RebuildGame(ctx, tx, g.ID); err != nil {
			return nil, fmt.Errorf("game %d: %w", g.ID, err)
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// Publish copies the current boards of the given games to the mirror.
// Failures are logged only.
func (e *Engine) Publish(ctx context.Context, gameIDs ...int64) {
	if e.mirror == nil || len(gameIDs) == 0 {
		return
	}
	for _, gameID := range gameIDs {
		for _, w := range domain.Windows {
			period := e.Period(w)
			rows, err := e.board(ctx, gameID, period)
			if err != nil {
				e.logger.Warn("failed to read board for mirror", "game_id", gameID, "window", w, "error", err)
				continue
			}
			if err := e.mirror.ReplaceBoard(ctx, gameID, period, rows); err != nil {
				e.logger.Warn("failed to mirror board", "game_id", gameID, "window", w, "error", err)
			}
		}
	}
}

// board reads the ordered rows of the current period joined with their scores.
func (e *Engine) board(ctx context.Context, gameID int64, period domain.Period) ([]domain.LeaderboardRow, error) {
	var rows []domain.LeaderboardRow
	err := e.store.View(ctx, func(tx storage.Tx) error {
		entries, err := currentEntries(ctx, tx, gameID, period)
		if err != nil {
			return err
		}
		rows = make([]domain.LeaderboardRow, 0, len(entries))
		for _, en := range entries {
			row := domain.LeaderboardRow{
				Rank:       en.Rank,
				PlayerID:   en.PlayerID,
				Score:      en.Score,
				ScoreID:    en.ScoreID,
				AchievedAt: en.AchievedAt,
			}
			if s, err := tx.GetScore(ctx, en.ScoreID); err == nil {
				row.Difficulty = s.Difficulty
				row.Playtime = s.Playtime
			} else if !domain.IsNotFoundError(err) {
				return domain.NewStorageError("get score", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

func currentEntries(ctx context.Context, tx storage.RankingTx, gameID int64, period domain.Period) ([]domain.RankingEntry, error) {
	entries, err := tx.ListRankingEntries(ctx, gameID, period.Window)
	if err != nil {
		return nil, domain.NewStorageError("list ranking entries", err)
	}
	out := entries[:0]
	for _, en := range entries {
		if en.PeriodStart.Equal(period.Start) {
			out = append(out, en)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		if !out[i].AchievedAt.Equal(out[j].AchievedAt) {
			return out[i].AchievedAt.Before(out[j].AchievedAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out, nil
}

// Top returns the best rows of (game, window), optionally restricted to one
// difficulty. The mirror is consulted first.
func (e *Engine) Top(ctx context.Context, gameID int64, window domain.TimeWindow, limit int, difficulty domain.Difficulty) ([]domain.LeaderboardRow, error) {
	period := e.Period(window)
	fetch := limit
	if difficulty != "" {
		fetch = 0
	}

	var rows []domain.LeaderboardRow
	var err error
	if e.mirror != nil {
		rows, err = e.mirror.Top(ctx, gameID, period, fetch)
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			e.logger.Warn("ranking mirror read failed", "game_id", gameID, "window", window, "error", err)
		}
	}
	if e.mirror == nil || err != nil {
		rows, err = e.board(ctx, gameID, period)
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		if difficulty != "" && r.Difficulty != difficulty {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PlayerRank returns the standing of playerID within (game, window).
func (e *Engine) PlayerRank(ctx context.Context, gameID, playerID int64, window domain.TimeWindow) (*domain.PlayerRank, error) {
	period := e.Period(window)
	var out *domain.PlayerRank
	err := e.store.View(ctx, func(tx storage.Tx) error {
		entries, err := currentEntries(ctx, tx, gameID, period)
		if err != nil {
			return err
		}
		for _, en := range entries {
			if en.PlayerID != playerID {
				continue
			}
			total := int64(len(entries))
			out = &domain.PlayerRank{
				GameID:       gameID,
				PlayerID:     playerID,
				Window:       window,
				Rank:         en.Rank,
				Score:        en.Score,
				AchievedAt:   en.AchievedAt,
				TotalPlayers: total,
				Percentile:   Percentile(en.Rank, total),
			}
			return nil
		}
		return domain.NewNotFound("ranking entry", fmt.Sprintf("player %d in %s", playerID, window))
	})
	return out, err
}

// Percentile is the share of players ranked below rank, rounded to two
// decimals.
func Percentile(rank, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(total-rank) / float64(total) * 100
	return math.Round(p*100) / 100
}
