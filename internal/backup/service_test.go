package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/ledger"
	"github.com/scoreboard-engine/internal/memory"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/storage"
)

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	store   *memory.Store
	engine  *ranking.Engine
	ledger  *ledger.Ledger
	service *Service
	dir     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	clock := func() time.Time { return testNow }
	engine := ranking.NewEngine(store, domain.DefaultCalendar(), discard(), ranking.WithClock(clock))
	tracker := personalbest.NewTracker(discard())
	dir := t.TempDir()
	return &env{
		store:   store,
		engine:  engine,
		ledger:  ledger.New(store, engine, tracker, nil, discard()),
		service: NewService(store, engine, tracker, dir, discard(), WithClock(clock)),
		dir:     dir,
	}
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.Update(ctx, func(tx storage.Tx) error {
		for _, name := range []string{"tetris", "snake"} {
			if err := tx.PutGame(ctx, &domain.Game{Name: name, CreatedAt: testNow}); err != nil {
				return err
			}
		}
		return tx.SaveRule(ctx, &domain.ValidationRule{
			GameID:        domain.Int64(1),
			MaxScore:      domain.Float64(1000),
			Active:        true,
			AdvancedRules: map[string]float64{domain.AdvancedImpossibleThreshold: 500},
			CreatedAt:     testNow,
			UpdatedAt:     testNow,
		})
	}))
	subs := []domain.ScoreSubmission{
		{PlayerID: 1, GameID: 1, Score: 50, Playtime: 30, Metrics: domain.Metrics{"lines": 12.0, "mode": "marathon"}},
		{PlayerID: 2, GameID: 1, Score: 80, Difficulty: domain.DifficultyHard},
		{PlayerID: 3, GameID: 1, Score: 80},
		{PlayerID: 1, GameID: 2, Score: 7},
		{PlayerID: 1, GameID: 1, Score: 20},
	}
	for _, sub := range subs {
		_, err := e.ledger.Submit(ctx, sub)
		require.NoError(t, err)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newEnv(t)
	src.seed(t)

	res, err := src.service.CreateBackup(ctx, domain.ScopeFull)
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
	assert.Positive(t, res.SizeBytes)
	assert.Equal(t, map[string]int{
		"games": 2, "scores": 5, "personal_bests": 4, "validation_rules": 1, "rankings": 12,
	}, res.Counts)

	dst := newEnv(t)
	restored, err := dst.service.RestoreBackup(ctx, res.Path, domain.ScopeFull)
	require.NoError(t, err)
	assert.Equal(t, res.Counts, restored.Counts)

	want, err := src.service.Export(ctx, domain.ScopeFull)
	require.NoError(t, err)
	got, err := dst.service.Export(ctx, domain.ScopeFull)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}

	// The restored ledger keeps accepting submissions after the highest id.
	r, err := dst.ledger.Submit(ctx, domain.ScoreSubmission{PlayerID: 9, GameID: 2, Score: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(6), r.Score.ID)
}

func TestRestore_PartialScopeLeavesOthers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seed(t)

	snap, err := e.service.Export(ctx, domain.ScopeValidationRules)
	require.NoError(t, err)
	require.Len(t, snap.ValidationRules, 1)
	assert.Empty(t, snap.Scores)

	// Change the live rules, then roll them back.
	require.NoError(t, e.store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveRule(ctx, &domain.ValidationRule{MaxScore: domain.Float64(1), Active: true})
	}))
	_, err = e.service.Restore(ctx, snap, domain.ScopeValidationRules)
	require.NoError(t, err)

	require.NoError(t, e.store.View(ctx, func(tx storage.Tx) error {
		rs, err := tx.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rs, 1)
		scores, err := tx.ListScores(ctx, domain.ScoreFilter{})
		require.NoError(t, err)
		assert.Len(t, scores, 5)
		return nil
	}))

	_, err = e.service.Restore(ctx, snap, domain.ScopeScores)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRestore_ConflictsWithRankingWork(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seed(t)
	snap, err := e.service.Export(ctx, domain.ScopeFull)
	require.NoError(t, err)

	unlock := e.engine.LockGame(1)
	_, err = e.service.Restore(ctx, snap, domain.ScopeFull)
	unlock()

	var conflict *domain.ConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

type brokenStore struct {
	storage.Store
}

func (brokenStore) View(context.Context, func(storage.Tx) error) error {
	return errors.New("connection refused")
}

func TestCreateBackup_NoArtifactOnFailure(t *testing.T) {
	e := newEnv(t)
	svc := NewService(brokenStore{e.store}, e.engine, personalbest.NewTracker(discard()), e.dir, discard())

	_, err := svc.CreateBackup(context.Background(), domain.ScopeFull)
	require.ErrorIs(t, err, domain.ErrStorage)

	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListBackupsAndStats(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seed(t)

	_, err := e.service.CreateBackup(ctx, domain.ScopeScores)
	require.NoError(t, err)
	e.service.now = func() time.Time { return testNow.Add(time.Hour) }
	_, err = e.service.CreateBackup(ctx, domain.ScopeFull)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, filePrefix+"broken"+fileSuffix), []byte("{"), 0o644))

	infos, err := e.service.ListBackups()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, domain.ScopeFull, infos[0].Scope)
	assert.Equal(t, domain.ScopeScores, infos[1].Scope)
	assert.Equal(t, 5, infos[1].Counts["scores"])

	stats, err := e.service.BackupStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBackups)
	assert.Equal(t, infos[0].SizeBytes+infos[1].SizeBytes, stats.TotalSizeBytes)
	assert.Equal(t, domain.ScopeFull, stats.Newest.Scope)
	assert.Equal(t, 1, stats.ByScope[domain.ScopeScores])
}

func TestCleanupOldBackups(t *testing.T) {
	e := newEnv(t)
	e.service.now = time.Now

	old := filepath.Join(e.dir, filePrefix+"old_full"+fileSuffix)
	fresh := filepath.Join(e.dir, filePrefix+"fresh_full"+fileSuffix)
	other := filepath.Join(e.dir, "notes.txt")
	staleTmp := filepath.Join(e.dir, tempPrefix+"123"+tempSuffix)
	freshTmp := filepath.Join(e.dir, tempPrefix+"456"+tempSuffix)
	for _, p := range []string{old, fresh, other, staleTmp, freshTmp} {
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}
	past := time.Now().Add(-40 * 24 * time.Hour)
	for _, p := range []string{old, other, staleTmp} {
		require.NoError(t, os.Chtimes(p, past, past))
	}

	removed, err := e.service.CleanupOldBackups(30)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old, staleTmp}, removed)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, staleTmp)
	assert.FileExists(t, fresh)
	assert.FileExists(t, freshTmp)
	assert.FileExists(t, other)

	_, err = e.service.CleanupOldBackups(0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRestoreBackup_MissingArtifact(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	_, err := e.service.RestoreBackup(context.Background(), filepath.Join(e.dir, filePrefix+"missing"+fileSuffix), domain.ScopeFull)
	require.Error(t, err)
	assert.True(t, domain.IsNotFoundError(err))
	assert.NotContains(t, err.Error(), e.dir)

	require.NoError(t, e.store.View(context.Background(), func(tx storage.Tx) error {
		scores, err := tx.ListScores(context.Background(), domain.ScoreFilter{})
		require.NoError(t, err)
		assert.Len(t, scores, 5)
		return nil
	}))
}

func TestInvalidateSuspiciousScores(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seed(t)

	// Tighten the impossible threshold below the 80s.
	require.NoError(t, e.store.Update(ctx, func(tx storage.Tx) error {
		r, err := tx.GetRule(ctx, 1)
		if err != nil {
			return err
		}
		r.AdvancedRules[domain.AdvancedImpossibleThreshold] = 60
		return tx.SaveRule(ctx, r)
	}))

	res, err := e.service.InvalidateSuspiciousScores(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Checked)
	assert.ElementsMatch(t, []int64{2, 3}, res.Invalidated)

	rows, err := e.engine.Top(ctx, 1, domain.WindowAllTime, 0, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].PlayerID)
	assert.Equal(t, int64(1), rows[0].Rank)

	require.NoError(t, e.store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetPersonalBest(ctx, 2, 1)
		assert.True(t, domain.IsNotFoundError(err))
		return nil
	}))

	// Game 2 has no advanced rules and is never flagged.
	res, err = e.service.InvalidateSuspiciousScores(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Invalidated)
}
