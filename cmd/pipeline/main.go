// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command pipeline is the entry point for the Machiyomi release pipeline.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire sources, filter, channels, and dispatchers.
//  7. Start the cycle scheduler and the ops HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taibuivan/machiyomi/internal/api"
	"github.com/taibuivan/machiyomi/internal/core/audit"
	"github.com/taibuivan/machiyomi/internal/core/cursor"
	"github.com/taibuivan/machiyomi/internal/core/delivery"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/core/work"
	"github.com/taibuivan/machiyomi/internal/ingest/catalog"
	"github.com/taibuivan/machiyomi/internal/ingest/feed"
	"github.com/taibuivan/machiyomi/internal/ingest/filter"
	"github.com/taibuivan/machiyomi/internal/ingest/normalize"
	"github.com/taibuivan/machiyomi/internal/ingest/source"
	"github.com/taibuivan/machiyomi/internal/notify/calendar"
	"github.com/taibuivan/machiyomi/internal/notify/dispatch"
	"github.com/taibuivan/machiyomi/internal/notify/message"
	"github.com/taibuivan/machiyomi/internal/pipeline"
	"github.com/taibuivan/machiyomi/internal/platform/config"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
	"github.com/taibuivan/machiyomi/internal/platform/migration"
	pgstore "github.com/taibuivan/machiyomi/internal/platform/postgres"
	redisstore "github.com/taibuivan/machiyomi/internal/platform/redis"
	"github.com/taibuivan/machiyomi/pkg/backoff"
)

func main() {
	runOnce := flag.Bool("once", false, "run a single pipeline cycle and exit")
	flag.Parse()

	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("[Machiyomi] pipeline_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Duration("cycle_interval", cfg.CycleInterval),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Repositories ───────────────────────────────────────────────────
	workRepository := work.NewRepository(pool)
	releaseRepository := release.NewRepository(pool)
	cursorRepository := cursor.NewRepository(pool)
	deliveryRepository := delivery.NewRepository(pool)
	auditRepository := audit.NewRepository(pool)

	recorder := audit.NewRecorder(auditRepository, log)
	normalizer := normalize.NewService(workRepository, releaseRepository, log)

	// ── 7. Sources ────────────────────────────────────────────────────────
	adapters := buildAdapters(cfg, log)
	if len(adapters) == 0 {
		log.Warn("no_sources_configured")
	}

	// ── 8. Filter Rules ───────────────────────────────────────────────────
	rules, err := filter.NewLoader(cfg.FilterRulesPath, log)
	must(log, err, "load filter rules")

	// ── 9. Notification Channels ──────────────────────────────────────────
	policy := backoff.Policy{Base: constants.BackoffBase, Cap: constants.BackoffCap}

	var dispatchers []*dispatch.Dispatcher
	for _, channel := range buildChannels(cfg, log) {
		dispatchers = append(dispatchers, dispatch.NewDispatcher(
			channel, releaseRepository, deliveryRepository, recorder,
			policy, cfg.MaxRetries, cfg.DispatchBatch, log,
		))
	}
	if len(dispatchers) == 0 {
		log.Warn("no_channels_configured")
	}

	// ── 10. Pipeline + Scheduler ──────────────────────────────────────────
	pipe := pipeline.New(
		adapters, cursorRepository, normalizer, rules,
		releaseRepository, recorder, dispatchers, rdb,
		pipeline.Options{
			PollWorkers:      cfg.PollWorkers,
			FailureThreshold: constants.DefaultSourceFailureThreshold,
			Suspension:       constants.DefaultSourceSuspension,
		},
		log,
	)

	lock := pipeline.NewCycleLock(rdb, cfg.CycleBudget+time.Minute)
	scheduler := pipeline.NewScheduler(pipe, lock, cfg.CycleInterval, cfg.CycleBudget, log)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if *runOnce {
		scheduler.RunOnce(runCtx)
		log.Info("single_cycle_completed")
		return
	}

	// ── 11. Ops HTTP Server ───────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	sourceNames := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		sourceNames = append(sourceNames, adapter.Name())
	}

	server := api.NewServer(cfg, log, api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Ops: api.NewOpsHandler(
			auditRepository, workRepository, releaseRepository, deliveryRepository,
			rdb, sourceNames, log,
		),
	})

	// ── 12. Run + Graceful Shutdown ───────────────────────────────────────
	go scheduler.Run(runCtx)

	go func() {
		if err := rules.Watch(runCtx); err != nil {
			log.Error("rules_watch_failed", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Stop the scheduler first: in-flight cycle work observes cancellation
	// between operations and the interrupted remainder is retried next run.
	runCancel()

	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("pipeline stopped cleanly")
}

// buildAdapters constructs every configured source adapter.
func buildAdapters(cfg *config.Config, log *slog.Logger) []source.Adapter {
	var adapters []source.Adapter

	if cfg.CatalogBaseURL != "" {
		adapters = append(adapters, catalog.New(
			cfg.CatalogBaseURL, cfg.CatalogCallsPerMin, cfg.CatalogPageSize,
			cfg.CatalogLookaheadDay, constants.ExternalCallTimeout,
		))
	}

	minSpacing := time.Duration(cfg.FeedMinPollSecond) * time.Second
	for _, entry := range cfg.FeedSources {
		name, url, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found || name == "" || url == "" {
			log.Warn("feed_source_malformed", slog.String("entry", entry))
			continue
		}
		adapters = append(adapters, feed.New(name, url, minSpacing, constants.ExternalCallTimeout))
	}

	return adapters
}

// buildChannels constructs every channel with usable credentials. A channel
// without credentials is skipped, not failed.
func buildChannels(cfg *config.Config, log *slog.Logger) []dispatch.Channel {
	var channels []dispatch.Channel

	if cfg.MessageChannelEnabled() {
		client := message.NewClient(cfg.MessageBaseURL, cfg.MessageAPIKey, constants.ExternalCallTimeout)
		channels = append(channels, message.NewChannel(client, cfg.MessageRecipient, cfg.MessageSender))
	} else {
		log.Info("message_channel_disabled")
	}

	if cfg.CalendarChannelEnabled() {
		client, err := calendar.NewClient(
			cfg.CalendarBaseURL, cfg.CalendarID, cfg.CalendarIssuer,
			cfg.CalendarTokenScope, cfg.CalendarKeyPath, constants.ExternalCallTimeout,
		)
		if err != nil {
			// A bad service-account key disables the channel rather than the
			// whole pipeline. Message delivery keeps working.
			log.Error("calendar_channel_init_failed", slog.Any("error", err))
		} else {
			channels = append(channels, calendar.NewChannel(client))
		}
	} else {
		log.Info("calendar_channel_disabled")
	}

	return channels
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
