package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/scoreboard-engine/internal/app"
	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/handler"
	"github.com/scoreboard-engine/internal/kafka"
	"github.com/scoreboard-engine/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, true, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	logger.Info("storage ready", "driver", cfg.Storage.Driver, "redis_mirror", a.Cache != nil)

	// Rebuild rankings on startup so the mirror and stale periods are current
	if err := a.Warm(ctx); err != nil {
		logger.Warn("failed to rebuild rankings on startup", "error", err)
	}

	// Start maintenance worker
	maintenanceWorker := worker.NewMaintenanceWorker(a.Backups, &cfg.Maintenance, logger)
	if cfg.Maintenance.Enabled {
		if err := maintenanceWorker.Start(ctx); err != nil {
			logger.Error("failed to start maintenance worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for high-load score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.SubmissionsTopic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, a.Service, a.Metrics, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	httpHandler := handler.NewHandler(a.Service, a.Backups, handler.Options{
		AdminToken:          cfg.Server.AdminToken,
		SubmitRatePerSecond: cfg.Leaderboard.SubmitRatePerSecond,
		SubmitBurst:         cfg.Leaderboard.SubmitBurst,
		MaxBatchSize:        cfg.Leaderboard.MaxBatchSize,
		Metrics:             a.Metrics.Handler(),
	}, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop maintenance worker
	if err := maintenanceWorker.Stop(); err != nil {
		logger.Error("failed to stop maintenance worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
