// Package main is the entry point for the livpulse ingestion server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/config"
	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/logging"
	"github.com/JonMunkholm/livpulse/internal/observability"
	"github.com/JonMunkholm/livpulse/internal/realtime"
	redisstore "github.com/JonMunkholm/livpulse/internal/redis"
	"github.com/JonMunkholm/livpulse/internal/schema"
	"github.com/JonMunkholm/livpulse/internal/store/postgres"
	"github.com/JonMunkholm/livpulse/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited properly")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.CollectorAddr)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics, installed before any instrumented component is built.
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	// Database
	pool, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool)
	defer store.Close()

	if cfg.Database.MigrateOnStart {
		slog.Info("running database migrations")
		if err := postgres.Migrate(store.DB()); err != nil {
			return err
		}
	}
	slog.Info("connected to database")

	checks := map[string]web.HealthCheck{"database": store.Ping}

	// Live notifications: local hub, optionally fanned out through redis.
	hub := realtime.NewHub()
	defer hub.Close()

	var (
		notifier    core.Notifier = hub
		staging     core.Staging
		broadcaster *redisstore.Broadcaster
		redisClient *redisstore.Client
	)

	if cfg.Redis.URL != "" {
		redisClient, err = redisstore.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checks["redis"] = redisClient.Ping

		if cfg.Redis.PubSub {
			broadcaster = redisstore.NewBroadcaster(redisClient, cfg.Redis.Channel)
			notifier = broadcaster
		}
	}

	switch cfg.StagingBackend() {
	case "redis":
		staging = redisstore.NewStaging(redisClient, cfg.Staging.ProgressTTL, cfg.Staging.ResultTTL)
	case "memory":
		staging = core.NewMemoryStaging(cfg.Staging.MemoryCapacity, cfg.Staging.ProgressTTL, cfg.Staging.ResultTTL)
	default:
		slog.Warn("staging disabled, uploads cannot be reviewed or committed")
		staging = core.NopStaging{}
	}
	slog.Info("staging ready", "backend", cfg.StagingBackend(), "pubsub", broadcaster != nil)

	service := core.NewService(core.Deps{
		Registry: schema.Default(),
		Staging:  staging,
		Notifier: notifier,
		Records:  store,
		History:  store,
	}, core.Options{
		BatchSize:        cfg.Upload.BatchSize,
		ProgressInterval: cfg.Upload.ProgressInterval,
		PreviewRows:      cfg.Upload.PreviewRows,
		InlineErrors:     cfg.Upload.InlineErrors,
		MaxConcurrent:    cfg.Upload.MaxConcurrent,
		MaxWait:          cfg.Upload.MaxWaitTime,
		TaskTimeout:      cfg.Upload.Timeout,
		CommitTimeout:    cfg.Upload.CommitTimeout,
	})
	registerUploadGauge(service)

	slog.Info("data types registered", "types", service.Registry().Types())

	verifier := auth.NewVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	server := web.NewServer(cfg, service, verifier, web.Options{
		Hub:     hub,
		Metrics: metricsHandler,
		Checks:  checks,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if broadcaster != nil {
		g.Go(func() error {
			return broadcaster.Listen(gctx, func(env redisstore.Envelope) {
				hub.Deliver(env.UserID, env.Event, env.Payload)
			})
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerUploadGauge exposes the number of running upload tasks, read only
// when metrics are scraped.
func registerUploadGauge(service *core.Service) {
	meter := otel.Meter("github.com/JonMunkholm/livpulse/cmd/server")
	_, err := meter.Int64ObservableGauge("livpulse_uploads_active",
		metric.WithDescription("Upload tasks currently processing"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(service.LimiterStatus().Active))
			return nil
		}),
	)
	if err != nil {
		slog.Warn("failed to register upload gauge", "error", err)
	}
}
