// Package backup exports and restores the engine's state and runs the
// maintenance routines that keep rankings consistent with the ledger.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/rules"
	"github.com/scoreboard-engine/internal/storage"
	"github.com/scoreboard-engine/internal/validation"
)

const (
	filePrefix = "leaderboard_backup_"
	fileSuffix = ".json"
	tempPrefix = ".backup-"
	tempSuffix = ".tmp"
	timeLayout = "20060102_150405.000000"
)

// CacheFlusher drops every mirrored board
type CacheFlusher interface {
	Flush(ctx context.Context) error
}

// Observer is notified of maintenance outcomes
type Observer interface {
	BackupCreated(scope domain.BackupScope)
	ScoresInvalidated(n int)
}

// Service runs backups, restores and maintenance sweeps
type Service struct {
	store   storage.Store
	engine  *ranking.Engine
	tracker *personalbest.Tracker
	dir     string
	flusher CacheFlusher
	obs     Observer
	logger  *slog.Logger
	now     func() time.Time

	// maint guards backup and restore against each other.
	maint sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithCacheFlusher flushes the ranking mirror after a restore
func WithCacheFlusher(f CacheFlusher) Option {
	return func(s *Service) { s.flusher = f }
}

// WithObserver reports maintenance outcomes
func WithObserver(o Observer) Option {
	return func(s *Service) { s.obs = o }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a backup service writing artifacts into dir
func NewService(store storage.Store, engine *ranking.Engine, tracker *personalbest.Tracker, dir string, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		engine:  engine,
		tracker: tracker,
		dir:     dir,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the artifact directory
func (s *Service) Dir() string {
	return s.dir
}

func (s *Service) tryMaintenance(op string) (func(), error) {
	if !s.maint.TryLock() {
		return nil, &domain.ConflictError{Reason: op + ": another backup or restore is running"}
	}
	return s.maint.Unlock, nil
}

// Export reads the collections selected by scope into a snapshot
func (s *Service) Export(ctx context.Context, scope domain.BackupScope) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{
		Manifest: domain.Manifest{CreatedAt: s.now().UTC(), Scope: scope, Version: domain.SnapshotVersion},
	}
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if scope.Includes(domain.ScopeScores) {
			if snap.Games, err = tx.ListGames(ctx); err != nil {
				return err
			}
			if snap.Scores, err = tx.ListScores(ctx, domain.ScoreFilter{}); err != nil {
				return err
			}
		}
		if scope.Includes(domain.ScopePersonalBests) {
			if snap.PersonalBests, err = tx.ListPersonalBests(ctx, 0); err != nil {
				return err
			}
		}
		if scope.Includes(domain.ScopeValidationRules) {
			if snap.ValidationRules, err = tx.ListRules(ctx); err != nil {
				return err
			}
		}
		if scope.Includes(domain.ScopeRankings) {
			if snap.RankingEntries, err = tx.ListRankingEntries(ctx, 0, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("export", err)
	}
	return snap, nil
}

// CreateBackup writes a snapshot of scope into the artifact directory. The
// artifact appears under its final name only once it is completely written.
func (s *Service) CreateBackup(ctx context.Context, scope domain.BackupScope) (*domain.BackupResult, error) {
	unlock, err := s.tryMaintenance("backup")
	if err != nil {
		return nil, err
	}
	defer unlock()

	snap, err := s.Export(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("creating backup: %w", err)
	}

	path, size, err := s.write(snap)
	if err != nil {
		return nil, fmt.Errorf("creating backup: %w", err)
	}

	if s.obs != nil {
		s.obs.BackupCreated(scope)
	}
	result := &domain.BackupResult{
		Path:      path,
		Scope:     scope,
		SizeBytes: size,
		Counts:    snap.Counts(),
		CreatedAt: snap.Manifest.CreatedAt,
	}
	s.logger.Info("backup created", "scope", scope, "path", path, "size_bytes", size)
	return result, nil
}

func (s *Service) write(snap *domain.Snapshot) (string, int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating backup dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		cleanup()
		return "", 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", 0, fmt.Errorf("syncing snapshot: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		cleanup()
		return "", 0, fmt.Errorf("stat snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("closing snapshot: %w", err)
	}

	name := filePrefix + snap.Manifest.CreatedAt.Format(timeLayout) + "_" + string(snap.Manifest.Scope) + fileSuffix
	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("renaming snapshot: %w", err)
	}
	return path, info.Size(), nil
}

// ReadSnapshot decodes an artifact
func ReadSnapshot(path string) (*domain.Snapshot, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NewNotFound("backup", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	var snap domain.Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding backup %s: %w", filepath.Base(path), err)
	}
	if snap.Manifest.Scope == "" {
		return nil, fmt.Errorf("%w: backup %s has no manifest scope", domain.ErrInvalidRequest, filepath.Base(path))
	}
	return &snap, nil
}

// RestoreBackup applies the artifact at path
func (s *Service) RestoreBackup(ctx context.Context, path string, scope domain.BackupScope) (*domain.RestoreResult, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, snap, scope)
}

// Restore clears the live collections selected by scope and re-inserts the
// snapshot's records verbatim. It needs exclusive access to the engine and
// fails with a ConflictError when any ranking work is in flight.
func (s *Service) Restore(ctx context.Context, snap *domain.Snapshot, scope domain.BackupScope) (*domain.RestoreResult, error) {
	if scope != domain.ScopeFull && !snap.Manifest.Scope.Includes(scope) {
		return nil, fmt.Errorf("%w: %s backup does not contain %s", domain.ErrInvalidRequest, snap.Manifest.Scope, scope)
	}
	if scope == domain.ScopeFull && snap.Manifest.Scope != domain.ScopeFull {
		scope = snap.Manifest.Scope
	}

	unlock, err := s.tryMaintenance("restore")
	if err != nil {
		return nil, err
	}
	defer unlock()

	unlockAll, ok := s.engine.TryLockAll()
	if !ok {
		return nil, &domain.ConflictError{Reason: "restore: rankings are being updated"}
	}
	defer unlockAll()

	counts := make(map[string]int)
	var games []int64
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		if scope.Includes(domain.ScopeScores) {
			if err := restoreScores(ctx, tx, snap, scope == domain.ScopeFull); err != nil {
				return err
			}
			counts["games"] = len(snap.Games)
			counts[string(domain.ScopeScores)] = len(snap.Scores)
		}
		if scope.Includes(domain.ScopePersonalBests) {
			if err := tx.DeleteAllPersonalBests(ctx); err != nil {
				return err
			}
			for i := range snap.PersonalBests {
				if err := tx.SavePersonalBest(ctx, &snap.PersonalBests[i]); err != nil {
					return err
				}
			}
			counts[string(domain.ScopePersonalBests)] = len(snap.PersonalBests)
		}
		if scope.Includes(domain.ScopeValidationRules) {
			if err := tx.DeleteAllRules(ctx); err != nil {
				return err
			}
			for i := range snap.ValidationRules {
				r := snap.ValidationRules[i].Clone()
				if err := tx.SaveRule(ctx, &r); err != nil {
					return err
				}
			}
			counts[string(domain.ScopeValidationRules)] = len(snap.ValidationRules)
		}
		if scope.Includes(domain.ScopeRankings) {
			if err := tx.DeleteAllRankingEntries(ctx); err != nil {
				return err
			}
			for i := range snap.RankingEntries {
				if err := tx.UpsertRankingEntry(ctx, &snap.RankingEntries[i]); err != nil {
					return err
				}
			}
			counts[string(domain.ScopeRankings)] = len(snap.RankingEntries)
		}

		all, err := tx.ListGames(ctx)
		if err != nil {
			return err
		}
		for _, g := range all {
			games = append(games, g.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restoring backup: %w", domain.NewStorageError("restore", err))
	}

	if s.flusher != nil {
		if err := s.flusher.Flush(ctx); err != nil {
			s.logger.Warn("failed to flush ranking mirror", "error", err)
		}
	}
	s.engine.Publish(ctx, games...)

	s.logger.Info("backup restored", "scope", scope, "counts", counts)
	return &domain.RestoreResult{Scope: scope, Counts: counts}, nil
}

func restoreScores(ctx context.Context, tx storage.Tx, snap *domain.Snapshot, full bool) error {
	if err := tx.DeleteAllScores(ctx); err != nil {
		return err
	}
	if full {
		if err := tx.DeleteAllGames(ctx); err != nil {
			return err
		}
	}
	for i := range snap.Games {
		g := snap.Games[i]
		if err := tx.PutGame(ctx, &g); err != nil {
			return err
		}
	}
	for i := range snap.Scores {
		sc := snap.Scores[i]
		sc.Metrics = sc.Metrics.Clone()
		if err := tx.InsertScore(ctx, &sc); err != nil {
			return err
		}
	}
	return nil
}

// ListBackups describes every artifact in the directory, newest first.
// Unreadable artifacts are skipped.
func (s *Service) ListBackups() ([]domain.BackupInfo, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}

	out := make([]domain.BackupInfo, 0, len(paths))
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		snap, err := ReadSnapshot(path)
		if err != nil {
			s.logger.Warn("skipping unreadable backup", "path", path, "error", err)
			continue
		}
		out = append(out, domain.BackupInfo{
			Path:       path,
			Name:       filepath.Base(path),
			Scope:      snap.Manifest.Scope,
			SizeBytes:  fi.Size(),
			CreatedAt:  snap.Manifest.CreatedAt,
			ModifiedAt: fi.ModTime(),
			Counts:     snap.Counts(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// BackupStats summarizes the artifact directory
func (s *Service) BackupStats() (*domain.BackupStats, error) {
	infos, err := s.ListBackups()
	if err != nil {
		return nil, err
	}
	stats := &domain.BackupStats{ByScope: make(map[domain.BackupScope]int)}
	for i := range infos {
		stats.TotalBackups++
		stats.TotalSizeBytes += infos[i].SizeBytes
		stats.ByScope[infos[i].Scope]++
	}
	if len(infos) > 0 {
		stats.Newest = &infos[0]
		stats.Oldest = &infos[len(infos)-1]
	}
	return stats, nil
}

// CleanupOldBackups removes artifacts last modified more than retentionDays
// ago and returns the removed paths. Temp files left behind by an interrupted
// backup are swept by the same cutoff.
func (s *Service) CleanupOldBackups(retentionDays int) ([]string, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("%w: retention days must be positive", domain.ErrInvalidRequest)
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(isArtifact(name) || isTemp(name)) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove old backup", "path", path, "error", err)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		s.logger.Info("old backups removed", "count", len(removed), "retention_days", retentionDays)
	}
	return removed, nil
}

func isArtifact(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// RebuildRankingsCache recomputes the rankings of gameID, or of every game
// when gameID is zero.
func (s *Service) RebuildRankingsCache(ctx context.Context, gameID int64) error {
	return s.engine.Rebuild(ctx, gameID)
}

// InvalidateSuspiciousScores re-checks every valid score, optionally limited
// to one player and/or game, against the advanced rules of its game and
// invalidates the ones that now fail. Affected rankings and personal bests
// are recomputed in the same transaction.
func (s *Service) InvalidateSuspiciousScores(ctx context.Context, playerID, gameID int64) (*domain.SweepResult, error) {
	var unlock func()
	if gameID != 0 {
		unlock = s.engine.LockGame(gameID)
	} else {
		unlock = s.engine.LockAll()
	}
	defer unlock()

	result := &domain.SweepResult{}
	affectedGames := make(map[int64]bool)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		all, err := tx.ListRules(ctx)
		if err != nil {
			return err
		}
		scores, err := tx.ListScores(ctx, domain.ScoreFilter{PlayerID: playerID, GameID: gameID, ValidOnly: true})
		if err != nil {
			return err
		}

		type pair struct{ player, game int64 }
		affected := make(map[pair]bool)
		byGame := make(map[int64][]domain.ValidationRule)
		now := s.now().UTC()
		for _, sc := range scores {
			result.Checked++
			applicable, ok := byGame[sc.GameID]
			if !ok {
				applicable = rules.ForGame(all, sc.GameID)
				byGame[sc.GameID] = applicable
			}
			v := validation.Suspicious(validation.Candidate{Score: sc.Value, Playtime: sc.Playtime}, applicable)
			if v.Valid {
				continue
			}
			if err := tx.SetScoreValidity(ctx, sc.ID, false, now); err != nil {
				return err
			}
			s.logger.Info("suspicious score invalidated", "score_id", sc.ID, "player_id", sc.PlayerID, "game_id", sc.GameID, "reason", v.Reason)
			result.Invalidated = append(result.Invalidated, sc.ID)
			affected[pair{sc.PlayerID, sc.GameID}] = true
			affectedGames[sc.GameID] = true
		}

		for g := range affectedGames {
			if err := s.engine.RebuildGame(ctx, tx, g); err != nil {
				return err
			}
		}
		for p := range affected {
			if err := s.tracker.Recompute(ctx, tx, p.player, p.game); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalidating suspicious scores: %w", domain.NewStorageError("sweep", err))
	}

	if s.obs != nil && len(result.Invalidated) > 0 {
		s.obs.ScoresInvalidated(len(result.Invalidated))
	}
	games := make([]int64, 0, len(affectedGames))
	for g := range affectedGames {
		games = append(games, g)
	}
	s.engine.Publish(ctx, games...)
	return result, nil
}
