// Package memory implements storage.Store in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/storage"
)

type pbKey struct {
	player int64
	game   int64
}

type boardKey struct {
	game   int64
	window domain.TimeWindow
}

type state struct {
	games    map[int64]domain.Game
	scores   map[int64]domain.Score
	rules    map[int64]domain.ValidationRule
	bests    map[pbKey]domain.PersonalBest
	rankings map[boardKey]map[int64]domain.RankingEntry

	// score ids per (player, game) and per game, in insertion order
	byPair map[pbKey][]int64
	byGame map[int64][]int64

	nextGame  int64
	nextScore int64
	nextRule  int64
}

func newState() *state {
	return &state{
		games:    make(map[int64]domain.Game),
		scores:   make(map[int64]domain.Score),
		rules:    make(map[int64]domain.ValidationRule),
		bests:    make(map[pbKey]domain.PersonalBest),
		rankings: make(map[boardKey]map[int64]domain.RankingEntry),
		byPair:   make(map[pbKey][]int64),
		byGame:   make(map[int64][]int64),
	}
}

// Store keeps all state in maps. Update writes in place and records an undo
// step per change; a failed transaction replays the steps in reverse.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("view", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.state, readOnly: true})
}

func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("update", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.state}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
		t.done = true
	}()
	if err := fn(t); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Close() error { return nil }

type tx struct {
	st       *state
	readOnly bool
	done     bool
	undo     []func()
}

func (t *tx) writable(op string) error {
	if t.readOnly {
		return domain.NewStorageError(op, errReadOnly)
	}
	if t.done {
		return domain.NewStorageError(op, errTxDone)
	}
	return nil
}

func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

type txError string

func (e txError) Error() string { return string(e) }

const (
	errReadOnly    txError = "write in read-only transaction"
	errTxDone      txError = "transaction already finished"
	errDuplicateID txError = "duplicate id"
)

func restoreEntry[K comparable, V any](m map[K]V, k K) func() {
	prev, ok := m[k]
	return func() {
		if ok {
			m[k] = prev
		} else {
			delete(m, k)
		}
	}
}

// Games

func (t *tx) PutGame(_ context.Context, g *domain.Game) error {
	if err := t.writable("put game"); err != nil {
		return err
	}
	st, next := t.st, t.st.nextGame
	t.onRollback(func() { st.nextGame = next })
	if g.ID == 0 {
		st.nextGame++
		g.ID = st.nextGame
	} else if g.ID > st.nextGame {
		st.nextGame = g.ID
	}
	t.onRollback(restoreEntry(st.games, g.ID))
	st.games[g.ID] = *g
	return nil
}

func (t *tx) GetGame(_ context.Context, id int64) (*domain.Game, error) {
	g, ok := t.st.games[id]
	if !ok {
		return nil, domain.NewNotFound("game", id)
	}
	return &g, nil
}

func (t *tx) ListGames(_ context.Context) ([]domain.Game, error) {
	out := make([]domain.Game, 0, len(t.st.games))
	for _, g := range t.st.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteAllGames(_ context.Context) error {
	if err := t.writable("delete games"); err != nil {
		return err
	}
	st, prev := t.st, t.st.games
	t.onRollback(func() { st.games = prev })
	st.games = make(map[int64]domain.Game)
	return nil
}

// Scores

func (t *tx) InsertScore(_ context.Context, s *domain.Score) error {
	if err := t.writable("insert score"); err != nil {
		return err
	}
	st := t.st
	if _, ok := st.scores[s.ID]; ok && s.ID != 0 {
		return domain.NewStorageError("insert score", errDuplicateID)
	}
	next := st.nextScore
	t.onRollback(func() { st.nextScore = next })
	if s.ID == 0 {
		st.nextScore++
		s.ID = st.nextScore
	} else if s.ID > st.nextScore {
		st.nextScore = s.ID
	}

	stored := *s
	stored.Metrics = s.Metrics.Clone()
	id, gameID := s.ID, s.GameID
	st.scores[id] = stored
	t.onRollback(func() { delete(st.scores, id) })

	pair := pbKey{s.PlayerID, gameID}
	prevPair, prevGame := st.byPair[pair], st.byGame[gameID]
	st.byPair[pair] = append(prevPair, id)
	st.byGame[gameID] = append(prevGame, id)
	t.onRollback(func() {
		st.byPair[pair] = prevPair
		st.byGame[gameID] = prevGame
	})
	return nil
}

func (t *tx) GetScore(_ context.Context, id int64) (*domain.Score, error) {
	s, ok := t.st.scores[id]
	if !ok {
		return nil, domain.NewNotFound("score", id)
	}
	s.Metrics = s.Metrics.Clone()
	return &s, nil
}

func (t *tx) SetScoreValidity(_ context.Context, id int64, valid bool, at time.Time) error {
	if err := t.writable("set score validity"); err != nil {
		return err
	}
	s, ok := t.st.scores[id]
	if !ok {
		return domain.NewNotFound("score", id)
	}
	t.onRollback(restoreEntry(t.st.scores, id))
	s.Valid = valid
	s.UpdatedAt = at
	t.st.scores[id] = s
	return nil
}

func (t *tx) ListScores(_ context.Context, filter domain.ScoreFilter) ([]domain.Score, error) {
	var out []domain.Score
	add := func(s domain.Score) {
		if !filter.Matches(&s) {
			return
		}
		s.Metrics = s.Metrics.Clone()
		out = append(out, s)
	}

	switch {
	case filter.PlayerID != 0 && filter.GameID != 0:
		for _, id := range t.st.byPair[pbKey{filter.PlayerID, filter.GameID}] {
			add(t.st.scores[id])
		}
	case filter.GameID != 0:
		for _, id := range t.st.byGame[filter.GameID] {
			add(t.st.scores[id])
		}
	default:
		for _, s := range t.st.scores {
			add(s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteAllScores(_ context.Context) error {
	if err := t.writable("delete scores"); err != nil {
		return err
	}
	st := t.st
	scores, byPair, byGame := st.scores, st.byPair, st.byGame
	t.onRollback(func() {
		st.scores, st.byPair, st.byGame = scores, byPair, byGame
	})
	st.scores = make(map[int64]domain.Score)
	st.byPair = make(map[pbKey][]int64)
	st.byGame = make(map[int64][]int64)
	return nil
}

// Rules

func (t *tx) SaveRule(_ context.Context, r *domain.ValidationRule) error {
	if err := t.writable("save rule"); err != nil {
		return err
	}
	st, next := t.st, t.st.nextRule
	t.onRollback(func() { st.nextRule = next })
	if r.ID == 0 {
		st.nextRule++
		r.ID = st.nextRule
	} else if r.ID > st.nextRule {
		st.nextRule = r.ID
	}
	t.onRollback(restoreEntry(st.rules, r.ID))
	st.rules[r.ID] = r.Clone()
	return nil
}

func (t *tx) GetRule(_ context.Context, id int64) (*domain.ValidationRule, error) {
	r, ok := t.st.rules[id]
	if !ok {
		return nil, domain.NewNotFound("validation rule", id)
	}
	out := r.Clone()
	return &out, nil
}

func (t *tx) ListRules(_ context.Context) ([]domain.ValidationRule, error) {
	out := make([]domain.ValidationRule, 0, len(t.st.rules))
	for _, r := range t.st.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteAllRules(_ context.Context) error {
	if err := t.writable("delete rules"); err != nil {
		return err
	}
	st, prev := t.st, t.st.rules
	t.onRollback(func() { st.rules = prev })
	st.rules = make(map[int64]domain.ValidationRule)
	return nil
}

// Personal bests

func (t *tx) GetPersonalBest(_ context.Context, playerID, gameID int64) (*domain.PersonalBest, error) {
	pb, ok := t.st.bests[pbKey{playerID, gameID}]
	if !ok {
		return nil, domain.NewNotFound("personal best", pbKey{playerID, gameID})
	}
	return &pb, nil
}

func (t *tx) SavePersonalBest(_ context.Context, pb *domain.PersonalBest) error {
	if err := t.writable("save personal best"); err != nil {
		return err
	}
	k := pbKey{pb.PlayerID, pb.GameID}
	t.onRollback(restoreEntry(t.st.bests, k))
	t.st.bests[k] = *pb
	return nil
}

func (t *tx) DeletePersonalBest(_ context.Context, playerID, gameID int64) error {
	if err := t.writable("delete personal best"); err != nil {
		return err
	}
	k := pbKey{playerID, gameID}
	t.onRollback(restoreEntry(t.st.bests, k))
	delete(t.st.bests, k)
	return nil
}

func (t *tx) ListPersonalBests(_ context.Context, playerID int64) ([]domain.PersonalBest, error) {
	var out []domain.PersonalBest
	for k, pb := range t.st.bests {
		if playerID != 0 && k.player != playerID {
			continue
		}
		out = append(out, pb)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayerID != out[j].PlayerID {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].GameID < out[j].GameID
	})
	return out, nil
}

func (t *tx) DeleteAllPersonalBests(_ context.Context) error {
	if err := t.writable("delete personal bests"); err != nil {
		return err
	}
	st, prev := t.st, t.st.bests
	t.onRollback(func() { st.bests = prev })
	st.bests = make(map[pbKey]domain.PersonalBest)
	return nil
}

// Rankings

func (t *tx) UpsertRankingEntry(_ context.Context, e *domain.RankingEntry) error {
	if err := t.writable("upsert ranking entry"); err != nil {
		return err
	}
	st, k := t.st, boardKey{e.GameID, e.Window}
	board, ok := st.rankings[k]
	if !ok {
		board = make(map[int64]domain.RankingEntry)
		st.rankings[k] = board
		t.onRollback(func() { delete(st.rankings, k) })
	}
	t.onRollback(restoreEntry(board, e.PlayerID))
	board[e.PlayerID] = *e
	return nil
}

func (t *tx) ListRankingEntries(_ context.Context, gameID int64, window domain.TimeWindow) ([]domain.RankingEntry, error) {
	var out []domain.RankingEntry
	if gameID != 0 && window != "" {
		for _, e := range t.st.rankings[boardKey{gameID, window}] {
			out = append(out, e)
		}
	} else {
		for k, board := range t.st.rankings {
			if gameID != 0 && k.game != gameID {
				continue
			}
			if window != "" && k.window != window {
				continue
			}
			for _, e := range board {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.GameID != b.GameID {
			return a.GameID < b.GameID
		}
		if a.Window != b.Window {
			return a.Window < b.Window
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.PlayerID < b.PlayerID
	})
	return out, nil
}

func (t *tx) DeleteRankingEntries(_ context.Context, gameID int64, window domain.TimeWindow, before time.Time) error {
	if err := t.writable("delete ranking entries"); err != nil {
		return err
	}
	board := t.st.rankings[boardKey{gameID, window}]
	for player, e := range board {
		if before.IsZero() || e.PeriodStart.Before(before) {
			t.onRollback(restoreEntry(board, player))
			delete(board, player)
		}
	}
	return nil
}

func (t *tx) DeleteAllRankingEntries(_ context.Context) error {
	if err := t.writable("delete ranking entries"); err != nil {
		return err
	}
	st, prev := t.st, t.st.rankings
	t.onRollback(func() { st.rankings = prev })
	st.rankings = make(map[boardKey]map[int64]domain.RankingEntry)
	return nil
}
