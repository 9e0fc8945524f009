package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/memory"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/storage"
)

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.ScoreAccepted
	err    error
}

func (n *recordingNotifier) ScoreAccepted(_ context.Context, e domain.ScoreAccepted) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

// failingStore fails ranking writes inside Update.
type failingStore struct {
	storage.Store
}

func (s failingStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Store.Update(ctx, func(tx storage.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	storage.Tx
}

func (failingTx) UpsertRankingEntry(context.Context, *domain.RankingEntry) error {
	return errors.New("disk full")
}

func newLedger(t *testing.T, store storage.Store, n Notifier) *Ledger {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), func(tx storage.Tx) error {
		return tx.PutGame(context.Background(), &domain.Game{Name: "g"})
	}))
	clock := func() time.Time { return testNow }
	engine := ranking.NewEngine(store, domain.DefaultCalendar(), discard(), ranking.WithClock(clock))
	return New(store, engine, personalbest.NewTracker(discard()), n, discard())
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	l := newLedger(t, memory.NewStore(), n)

	r, err := l.Submit(ctx, domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 10, Metrics: domain.Metrics{"kills": 3.0}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), r.Score.ID)
	assert.True(t, r.Score.Valid)
	assert.NotEmpty(t, r.Score.SessionID)
	assert.Len(t, r.Score.ValidationHash, 64)
	assert.Equal(t, domain.DifficultyMedium, r.Score.Difficulty)
	assert.Equal(t, 3.0, r.Score.Metrics["kills"])
	assert.True(t, r.NewBest)
	assert.Equal(t, map[domain.TimeWindow]int64{
		domain.WindowDaily: 1, domain.WindowWeekly: 1, domain.WindowAllTime: 1,
	}, r.Ranks)
	assert.Equal(t, int64(1), r.PersonalBest.BestRank)

	r, err = l.Submit(ctx, domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 20})
	require.NoError(t, err)
	assert.Equal(t, 20.0, r.PersonalBest.BestScore)
	assert.Equal(t, int64(2), r.PersonalBest.TotalPlays)
	assert.Equal(t, 15.0, r.PersonalBest.AverageScore)

	require.Len(t, n.events, 2)
	assert.Equal(t, RewardPoints, n.events[1].Points)
	assert.Equal(t, int64(2), n.events[1].ScoreID)
}

func TestSubmit_MetricsAreCopied(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	l := newLedger(t, store, nil)

	metrics := domain.Metrics{"kills": 3.0, "loadout": map[string]any{"gun": "rifle"}}
	r, err := l.Submit(ctx, domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 10, Metrics: metrics})
	require.NoError(t, err)

	metrics["kills"] = 99.0
	metrics["loadout"].(map[string]any)["gun"] = "shotgun"

	require.NoError(t, store.View(ctx, func(tx storage.Tx) error {
		stored, err := tx.GetScore(ctx, r.Score.ID)
		require.NoError(t, err)
		assert.Equal(t, 3.0, stored.Metrics["kills"])
		assert.Equal(t, "rifle", stored.Metrics["loadout"].(map[string]any)["gun"])
		return nil
	}))
}

func TestSubmit_UnknownGame(t *testing.T) {
	l := newLedger(t, memory.NewStore(), nil)

	_, err := l.Submit(context.Background(), domain.ScoreSubmission{PlayerID: 1, GameID: 5, Score: 1})
	assert.True(t, domain.IsNotFoundError(err))
}

func TestSubmit_DuplicateSession(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	l := newLedger(t, memory.NewStore(), n)

	first, err := l.Submit(ctx, domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 10, SessionID: "s-1"})
	require.NoError(t, err)
	again, err := l.Submit(ctx, domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 99, SessionID: "s-1"})
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Score.ID, again.Score.ID)
	assert.Equal(t, 10.0, again.Score.Value)
	assert.Equal(t, int64(1), again.Ranks[domain.WindowAllTime])
	assert.Equal(t, int64(1), again.PersonalBest.TotalPlays)
	assert.Len(t, n.events, 1)
}

func TestSubmit_RollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	l := newLedger(t, failingStore{mem}, nil)

	_, err := l.Submit(ctx, domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)

	require.NoError(t, mem.View(ctx, func(tx storage.Tx) error {
		scores, err := tx.ListScores(ctx, domain.ScoreFilter{})
		require.NoError(t, err)
		assert.Empty(t, scores)
		bests, err := tx.ListPersonalBests(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, bests)
		entries, err := tx.ListRankingEntries(ctx, 0, "")
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestSubmit_NotifierFailureIsNotFatal(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	l := newLedger(t, memory.NewStore(), n)

	r, err := l.Submit(context.Background(), domain.ScoreSubmission{PlayerID: 1, GameID: 1, Score: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Score.ID)
}

func TestInvalidateAndRevalidate(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	l := newLedger(t, mem, nil)

	for p, v := range map[int64]float64{1: 90, 2: 70, 3: 50} {
		_, err := l.Submit(ctx, domain.ScoreSubmission{PlayerID: p, GameID: 1, Score: v})
		require.NoError(t, err)
	}
	top := func() map[int64]int64 {
		rows, err := l.engine.Top(ctx, 1, domain.WindowAllTime, 0, "")
		require.NoError(t, err)
		out := map[int64]int64{}
		for _, r := range rows {
			out[r.PlayerID] = r.Rank
		}
		return out
	}
	var scoreOf1 int64
	require.NoError(t, mem.View(ctx, func(tx storage.Tx) error {
		scores, err := tx.ListScores(ctx, domain.ScoreFilter{PlayerID: 1})
		scoreOf1 = scores[0].ID
		return err
	}))

	s, err := l.Invalidate(ctx, scoreOf1)
	require.NoError(t, err)
	assert.False(t, s.Valid)
	assert.Equal(t, map[int64]int64{2: 1, 3: 2}, top())
	require.NoError(t, mem.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetPersonalBest(ctx, 1, 1)
		assert.True(t, domain.IsNotFoundError(err))
		return nil
	}))

	s, err = l.Revalidate(ctx, scoreOf1)
	require.NoError(t, err)
	assert.True(t, s.Valid)
	assert.Equal(t, map[int64]int64{1: 1, 2: 2, 3: 3}, top())

	_, err = l.Invalidate(ctx, 404)
	assert.True(t, domain.IsNotFoundError(err))
}

func TestValidationHash(t *testing.T) {
	a := ValidationHash(1, 2, 10.5, testNow)
	assert.Equal(t, a, ValidationHash(1, 2, 10.5, testNow))
	assert.NotEqual(t, a, ValidationHash(1, 2, 10.5, testNow.Add(time.Nanosecond)))
	assert.NotEqual(t, a, ValidationHash(2, 1, 10.5, testNow))
}
