package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
)

// Maintainer runs the maintenance routines
type Maintainer interface {
	RebuildRankingsCache(ctx context.Context, gameID int64) error
	InvalidateSuspiciousScores(ctx context.Context, playerID, gameID int64) (*domain.SweepResult, error)
	CreateBackup(ctx context.Context, scope domain.BackupScope) (*domain.BackupResult, error)
	CleanupOldBackups(retentionDays int) ([]string, error)
}

// MaintenanceWorker rebuilds rankings and sweeps suspicious scores on a
// fixed interval and, when enabled, writes a scheduled full backup.
type MaintenanceWorker struct {
	maintainer Maintainer
	config     *config.MaintenanceConfig
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewMaintenanceWorker creates a new maintenance worker
func NewMaintenanceWorker(
	maintainer Maintainer,
	cfg *config.MaintenanceConfig,
	logger *slog.Logger,
) *MaintenanceWorker {
	return &MaintenanceWorker{
		maintainer: maintainer,
		config:     cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background maintenance process
func (w *MaintenanceWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("maintenance worker started",
		"interval", w.config.Interval,
		"backup_enabled", w.config.BackupEnabled,
		"backup_interval", w.config.BackupInterval,
	)

	go w.run(ctx)
	return nil
}

// Stop stops the background maintenance process and waits for the current
// cycle to finish
func (w *MaintenanceWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("maintenance worker stopped")
	return nil
}

// run is the main worker loop
func (w *MaintenanceWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	var backupC <-chan time.Time
	if w.config.BackupEnabled {
		backupTicker := time.NewTicker(w.config.BackupInterval)
		defer backupTicker.Stop()
		backupC = backupTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-backupC:
			w.RunBackup(ctx)
		}
	}
}

// RunOnce rebuilds every ranking and then invalidates suspicious scores
func (w *MaintenanceWorker) RunOnce(ctx context.Context) {
	w.logger.Info("starting maintenance cycle")
	startTime := time.Now()

	if err := w.maintainer.RebuildRankingsCache(ctx, 0); err != nil {
		w.logger.Error("failed to rebuild rankings", "error", err)
	}

	invalidated := 0
	res, err := w.maintainer.InvalidateSuspiciousScores(ctx, 0, 0)
	if err != nil {
		w.logger.Error("failed to sweep suspicious scores", "error", err)
	} else {
		invalidated = len(res.Invalidated)
	}

	w.logger.Info("maintenance cycle completed",
		"duration", time.Since(startTime),
		"invalidated", invalidated,
	)
}

// RunBackup writes a full backup and prunes artifacts past retention
func (w *MaintenanceWorker) RunBackup(ctx context.Context) {
	res, err := w.maintainer.CreateBackup(ctx, domain.ScopeFull)
	switch {
	case errors.Is(err, domain.ErrConflict):
		w.logger.Warn("scheduled backup skipped", "error", err)
		return
	case err != nil:
		w.logger.Error("scheduled backup failed", "error", err)
		return
	}
	w.logger.Info("scheduled backup written", "path", res.Path, "size_bytes", res.SizeBytes)

	removed, err := w.maintainer.CleanupOldBackups(w.config.RetentionDays)
	if err != nil {
		w.logger.Error("failed to clean up old backups", "error", err)
		return
	}
	if len(removed) > 0 {
		w.logger.Info("old backups removed", "count", len(removed))
	}
}

// IsRunning returns whether the worker is currently running
func (w *MaintenanceWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
