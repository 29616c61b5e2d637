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
	"time"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-alert-service/internal/adapter/mapbox"
	"github.com/couchcryptid/hazard-alert-service/internal/alert"
	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/pipeline"
	"github.com/couchcryptid/hazard-alert-service/internal/source"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
	"github.com/couchcryptid/hazard-alert-service/internal/store/postgres"
	"github.com/couchcryptid/hazard-alert-service/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	logger.Info("store opened", "driver", cfg.StoreDriver)

	specs, err := cfg.Sources()
	if err != nil {
		logger.Error("failed to load sources", "error", err)
		os.Exit(1)
	}
	adapters, err := source.Build(specs, logger)
	if err != nil {
		logger.Error("invalid source catalog", "error", err)
		os.Exit(1)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var snapshots pipeline.Snapshotter
	var redisSnapshots *cache.RedisSnapshotter[[]domain.HazardEvent]
	if cfg.RedisAddr != "" {
		redisSnapshots, err = cache.NewRedisSnapshotter[[]domain.HazardEvent](ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		snapshots = redisSnapshots
		logger.Info("cache snapshots enabled", "addr", cfg.RedisAddr)
	}

	var (
		eventPublisher        pipeline.EventPublisher
		notificationPublisher alert.NotificationPublisher
		kafkaPublisher        *kafkaadapter.Publisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher = kafkaadapter.NewPublisher(kafkaadapter.PublisherConfig{
			Brokers:            cfg.KafkaBrokers,
			EventsTopic:        cfg.KafkaEventsTopic,
			NotificationsTopic: cfg.KafkaNotificationsTopic,
		}, metrics, logger)
		eventPublisher, notificationPublisher = kafkaPublisher, kafkaPublisher
		logger.Info("event stream enabled", "brokers", cfg.KafkaBrokers)
	}

	matcher := alert.NewMatcher(st, alert.Policy{NotifyAllWhenUnconfigured: cfg.NotifyAllWhenUnconfigured},
		clock, logger, metrics, notificationPublisher)
	dispatcher := alert.NewDispatcher(matcher, alert.DispatcherConfig{
		Delay:      cfg.AlertDispatchDelay,
		MaxRetries: cfg.AlertMaxRetries,
	}, clock, logger, metrics)

	deps := pipeline.Deps{
		Store:     st,
		Cache:     cache.New[[]domain.HazardEvent](clock),
		Clock:     clock,
		Logger:    logger,
		Metrics:   metrics,
		Geocoder:  geocoder,
		Snapshots: snapshots,
		Publisher: eventPublisher,
		Alerts:    dispatcher,
	}
	ttls := map[domain.Kind]time.Duration{
		domain.KindEarthquake: cfg.QuakeCacheTTL,
		domain.KindStorm:      cfg.StormCacheTTL,
		domain.KindFlood:      cfg.FloodCacheTTL,
	}
	byKind := source.ByKind(adapters)
	orchestrators := make([]*pipeline.Orchestrator, 0, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		orchestrators = append(orchestrators, pipeline.NewOrchestrator(kind, byKind[kind], ttls[kind], deps))
		logger.Info("hazard pipeline configured", "kind", kind, "sources", len(byKind[kind]))
	}

	p := pipeline.New(orchestrators, map[domain.Kind]time.Duration{
		domain.KindEarthquake: cfg.QuakePollInterval,
		domain.KindStorm:      cfg.StormPollInterval,
		domain.KindFlood:      cfg.FloodPollInterval,
	}, logger, metrics)

	if cfg.OperatorToken == "" {
		logger.Warn("OPERATOR_TOKEN not set, synthetic event endpoints disabled")
	}
	api := httpadapter.NewAPI(p, st, cfg.OperatorToken, clock, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the polling scheduler.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	dispatcher.Close()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if redisSnapshots != nil {
		if err := redisSnapshots.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
