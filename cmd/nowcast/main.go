// Command nowcast runs the heavy-rainfall nowcasting service: a scheduler that
// fires a cycle every CYCLE_INTERVAL, plus the HTTP query and admin API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	httpadapter "github.com/couchcryptid/storm-nowcast-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-nowcast-service/internal/adapter/kafka"
	"github.com/couchcryptid/storm-nowcast-service/internal/adapter/mapbox"
	"github.com/couchcryptid/storm-nowcast-service/internal/adapter/radar"
	redisadapter "github.com/couchcryptid/storm-nowcast-service/internal/adapter/redis"
	"github.com/couchcryptid/storm-nowcast-service/internal/adapter/telegram"
	"github.com/couchcryptid/storm-nowcast-service/internal/config"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/pipeline"
	"github.com/couchcryptid/storm-nowcast-service/internal/prediction"
	"github.com/couchcryptid/storm-nowcast-service/internal/registry"
	"github.com/couchcryptid/storm-nowcast-service/internal/scheduler"
	"github.com/couchcryptid/storm-nowcast-service/internal/store"
	"github.com/couchcryptid/storm-nowcast-service/internal/training"
	"github.com/couchcryptid/storm-nowcast-service/internal/warning"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("nowcast service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeWith(logger, "store", st.Close)
	logger.Info("store opened", "driver", cfg.StoreDriver)

	reg := registry.New(cfg.ArtifactRoot, cfg.Catalogue(), registry.DefaultTrainConfig(), logger, metrics)
	if _, err := reg.LoadAll(ctx); err != nil {
		return err
	}
	if cfg.ModelWatch {
		go func() {
			if err := reg.Watch(ctx, cfg.ModelReloadDebounce); err != nil {
				logger.Error("model watcher stopped", "error", err)
			}
		}()
	}

	jobs, readiness, closeJobs, err := openJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeJobs()
	trainer := training.NewManager(reg, jobs, logger, metrics)
	if err := trainer.Recover(ctx); err != nil {
		logger.Error("recover training jobs", "error", err)
	}

	warnings := warning.New(st, newNotifier(cfg, logger), warning.Config{
		ThresholdMMH:        cfg.ThresholdMMH,
		DedupWindow:         cfg.DedupWindow,
		NotificationTimeout: cfg.NotificationTimeout,
	}, logger, metrics, locatorOptions(cfg, logger, metrics)...)

	radarClient := radar.NewClient(cfg.RadarBaseURL, cfg.RadarTimeout, logger)
	stages := pipeline.Stages{
		Ingestor:  radarClient,
		Detector:  radarClient,
		Features:  radarClient,
		Models:    func() pipeline.Models { return reg.Snapshot() },
		Predictor: prediction.New(logger, metrics),
		Warnings:  warnings,
		Store:     st,
	}
	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg, logger, metrics)
		defer closeWith(logger, "kafka publisher", publisher.Close)
		stages.Publisher = publisher
		logger.Info("kafka publishing enabled",
			"predictions_topic", cfg.KafkaPredictionsTopic,
			"warnings_topic", cfg.KafkaWarningsTopic,
		)
	}

	orchestrator := pipeline.New(stages, pipeline.Config{
		Horizons:       cfg.Horizons,
		Workers:        cfg.CellWorkers,
		IngestAttempts: 3,
		IngestBackoff:  time.Second,
	}, logger, metrics)
	sched := scheduler.New(orchestrator, cfg.CycleInterval, nil, logger, metrics)

	checks := readinessChecks{orchestrator, st}
	if readiness != nil {
		checks = append(checks, readiness)
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.API{
		Ready:               checks,
		Models:              func() []registry.EntryInfo { return reg.Snapshot().Entries() },
		Training:            trainer,
		Records:             st,
		Cycles:              orchestrator,
		Horizons:            cfg.Horizons,
		ActiveWarningWindow: cfg.ActiveWarningWindow,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scheduler. An in-flight cycle finishes after ctx is cancelled.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	waitFor(shutdownCtx, logger, "in-flight cycle", func() { <-schedDone })
	waitFor(shutdownCtx, logger, "warning notifications", warnings.Wait)
	waitFor(shutdownCtx, logger, "training job", trainer.Wait)

	logger.Info("shutdown complete")
	return nil
}

func openJobStore(ctx context.Context, cfg *config.Config) (training.JobStore, sharedobs.ReadinessChecker, func(), error) {
	if cfg.JobStore != "redis" {
		return training.NewMemoryStore(), nil, func() {}, nil
	}
	rs, err := redisadapter.NewJobStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return rs, rs, func() { closeWith(slog.Default(), "redis job store", rs.Close) }, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) warning.Notifier {
	if cfg.TelegramEnabled {
		n, err := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err == nil {
			return n
		}
		logger.Error("telegram notifier unavailable, falling back to log notifier", "error", err)
	}
	return warning.NewLogNotifier(logger)
}

func locatorOptions(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) []warning.Option {
	if !cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox geocoding disabled")
		return nil
	}
	metrics.GeocodeEnabled.Set(1)
	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	return []warning.Option{warning.WithLocator(mapbox.NewCachedLocator(client, cfg.MapboxCacheSize, metrics))}
}

// readinessChecks is ready when every member is.
type readinessChecks []sharedobs.ReadinessChecker

func (rc readinessChecks) CheckReadiness(ctx context.Context) error {
	for _, c := range rc {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func waitFor(ctx context.Context, logger *slog.Logger, what string, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timeout reached", "waiting_for", what)
	}
}

func closeWith(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("close error", "component", name, "error", err)
	}
}
