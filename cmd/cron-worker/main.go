package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/reviewflow-backend/internal/cron"
	"github.com/angelmondragon/reviewflow-backend/internal/integrations"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db"
	"github.com/angelmondragon/reviewflow-backend/pkg/instance"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/metrics"
	"github.com/angelmondragon/reviewflow-backend/pkg/migrate"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	integrationService, _, integrationRepo, err := integrations.NewFromConfig(cfg, dbClient, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire integrations", err)
		os.Exit(1)
	}

	refreshJob, err := cron.NewTokenRefreshJob(cron.TokenRefreshJobParams{
		Logger:       logg,
		Integrations: integrationRepo,
		Refresher:    integrationService,
		Horizon:      cfg.Cron.RefreshHorizon,
		BatchSize:    cfg.Cron.ResyncBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create token refresh job", err)
		os.Exit(1)
	}
	resyncJob, err := cron.NewLocationResyncJob(cron.LocationResyncJobParams{
		Logger:       logg,
		Integrations: integrationRepo,
		Syncer:       integrationService,
		BatchSize:    cfg.Cron.ResyncBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create location resync job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron", cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(refreshJob, resyncJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
