// Package app assembles the engine's components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scoreboard-engine/internal/backup"
	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/kafka"
	"github.com/scoreboard-engine/internal/ledger"
	"github.com/scoreboard-engine/internal/memory"
	"github.com/scoreboard-engine/internal/metrics"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/postgres"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/redis"
	"github.com/scoreboard-engine/internal/rules"
	"github.com/scoreboard-engine/internal/service"
	"github.com/scoreboard-engine/internal/storage"
)

// App holds the wired components
type App struct {
	Config    *config.Config
	Store     storage.Store
	Cache     *redis.RankingCache
	Publisher *kafka.Publisher
	Metrics   *metrics.Metrics
	Engine    *ranking.Engine
	Tracker   *personalbest.Tracker
	Rules     *rules.Store
	Ledger    *ledger.Ledger
	Service   *service.LeaderboardService
	Backups   *backup.Service

	logger  *slog.Logger
	closers []func() error
}

// New connects the configured backends and wires every component. Kafka
// publishing is attached only when withPublisher is set.
func New(ctx context.Context, cfg *config.Config, withPublisher bool, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New(), logger: logger}

	calendar, err := calendarFrom(&cfg.Leaderboard)
	if err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := []ranking.Option{ranking.WithRebuildObserver(a.Metrics)}
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err := redis.NewRankingCache(&cfg.Redis, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Cache = cache
		a.closers = append(a.closers, cache.Close)
		engineOpts = append(engineOpts, ranking.WithMirror(cache))
	}

	var notifier ledger.Notifier = ledger.NopNotifier{}
	if withPublisher && cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
		notifier = pub
	}

	a.Engine = ranking.NewEngine(a.Store, calendar, logger, engineOpts...)
	a.Tracker = personalbest.NewTracker(logger)
	a.Rules = rules.NewStore(a.Store, logger)
	a.Ledger = ledger.New(a.Store, a.Engine, a.Tracker, notifier, logger)
	a.Service = service.NewLeaderboardService(
		a.Store,
		a.Rules,
		a.Ledger,
		a.Engine,
		a.Tracker,
		&cfg.Leaderboard,
		a.Metrics,
		logger,
	)

	backupOpts := []backup.Option{backup.WithObserver(a.Metrics)}
	if a.Cache != nil {
		backupOpts = append(backupOpts, backup.WithCacheFlusher(a.Cache))
	}
	a.Backups = backup.NewService(a.Store, a.Engine, a.Tracker, cfg.Maintenance.BackupDir, logger, backupOpts...)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Storage.Driver {
	case config.DriverPostgres:
		a.logger.Info("connecting to PostgreSQL", "host", a.Config.Postgres.Host, "database", a.Config.Postgres.Database)
		repo, err := postgres.NewRepository(&a.Config.Postgres, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.RunMigrations(ctx); err != nil {
			return err
		}
		a.Store = repo
	default:
		a.Store = memory.NewStore()
		a.closers = append(a.closers, a.Store.Close)
	}
	return nil
}

func calendarFrom(cfg *config.LeaderboardConfig) (domain.Calendar, error) {
	loc, err := cfg.Location()
	if err != nil {
		return domain.Calendar{}, err
	}
	weekStart, err := cfg.FirstWeekday()
	if err != nil {
		return domain.Calendar{}, err
	}
	return domain.Calendar{Location: loc, WeekStart: weekStart}, nil
}

// Close releases every backend in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close component", "error", err)
		}
	}
	a.closers = nil
}

// Warm rebuilds every ranking so the mirror matches the store after start
func (a *App) Warm(ctx context.Context) error {
	if err := a.Engine.Rebuild(ctx, 0); err != nil {
		return fmt.Errorf("warming rankings: %w", err)
	}
	return nil
}
