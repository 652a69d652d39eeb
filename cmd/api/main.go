package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/reviewflow-backend/api/controllers"
	"github.com/angelmondragon/reviewflow-backend/api/routes"
	"github.com/angelmondragon/reviewflow-backend/internal/dispatch"
	"github.com/angelmondragon/reviewflow-backend/internal/ingestion"
	"github.com/angelmondragon/reviewflow-backend/internal/integrations"
	"github.com/angelmondragon/reviewflow-backend/internal/ledger"
	"github.com/angelmondragon/reviewflow-backend/internal/notifications"
	"github.com/angelmondragon/reviewflow-backend/internal/testsend"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db"
	"github.com/angelmondragon/reviewflow-backend/pkg/instance"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/metrics"
	"github.com/angelmondragon/reviewflow-backend/pkg/migrate"
	"github.com/angelmondragon/reviewflow-backend/pkg/pubsub"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
)

const webhookGuardScope = "webhook"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	health := map[string]controllers.Pinger{"db": dbClient, "redis": redisClient}

	var pubsubClient *pubsub.Client
	if strings.EqualFold(strings.TrimSpace(cfg.Dispatch.SenderMode), notifications.SenderModePubSub) {
		pubsubClient, err = pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		health["pubsub"] = pubsubClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	dispatchMetrics := metrics.NewDispatchMetrics(registry)

	integrationService, locationService, _, err := integrations.NewFromConfig(cfg, dbClient, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire integrations", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sender, err := notifications.NewFromConfig(cfg.Dispatch, pubsubClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification sender", err)
		os.Exit(1)
	}
	renderer, err := notifications.NewRenderer(cfg.Dispatch.MessageTemplate)
	if err != nil {
		logg.Error(context.Background(), "failed to parse message template", err)
		os.Exit(1)
	}

	gate, err := dispatch.NewGate(dispatch.GateParams{
		Ledger:   ledgerService,
		Sender:   sender,
		Renderer: renderer,
		Locks:    redisClient,
		Metrics:  dispatchMetrics,
		Config:   cfg.Dispatch,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatch gate", err)
		os.Exit(1)
	}

	guard, err := ingestion.NewIdempotencyGuard(redisClient, cfg.Providers.EventTTL, webhookGuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	gateway, err := ingestion.NewGateway(ingestion.GatewayParams{
		Registry:      integrationService.Registry(),
		Integrations:  integrationService,
		Locations:     locationService,
		Ledger:        ledgerService,
		Gate:          gate,
		Guard:         guard,
		Metrics:       dispatchMetrics,
		DefaultRegion: cfg.Dispatch.DefaultRegion,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ingestion gateway", err)
		os.Exit(1)
	}

	testSendService, err := testsend.NewService(testsend.ServiceParams{
		DB:            dbClient,
		Repo:          testsend.NewRepository(dbClient.DB()),
		Integrations:  integrationService,
		Sender:        sender,
		Renderer:      renderer,
		Config:        cfg.TestSend,
		DefaultRegion: cfg.Dispatch.DefaultRegion,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create test send service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Services{
			Health:       health,
			Idempotency:  redisClient,
			Metrics:      registry,
			Integrations: integrationService,
			Locations:    locationService,
			Ledger:       ledgerService,
			TestSend:     testSendService,
			Gateway:      gateway,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
