package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/api"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels/stayhub"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/config"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/database"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/events"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/export"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/logging"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/metrics"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/reconcile"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/repository"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/scheduler"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/service"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	catalog, err := loadCatalog(&logger)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	locks, locksCloser := initLocks(cfg, &logger)
	if locksCloser != nil {
		defer locksCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()
	registry := channels.DefaultRegistry()
	adapters := channels.NewAdapterSet(
		stayhub.New(cfg.Channels.StayHub.BaseURL, &logger),
	)

	reconciler := reconcile.NewEngine(db, eventBus, &logger)

	pool := worker.NewPool(db, locks, adapters, reconciler, catalog, eventBus, worker.Config{
		Workers:           cfg.Sync.WorkerCount,
		HorizonDays:       cfg.Sync.HorizonDays,
		Cadence:           cfg.Sync.Cadence(),
		AdapterTimeout:    cfg.Sync.AdapterTimeout(),
		FailureThreshold:  cfg.Sync.FailureThreshold,
		CalendarBatchSize: cfg.Sync.CalendarBatchSize,
	}, &logger)

	sched := scheduler.New(db, locks, pool, scheduler.Options{
		Cadence:      cfg.Sync.Cadence(),
		Tick:         cfg.Sync.SchedulerTick(),
		ManualWindow: cfg.Sync.ManualSyncWindow(),
	}, &logger)

	connectionSvc := service.NewConnectionService(db, registry, adapters, locks, sched,
		eventBus, catalog, cfg.Sync.AdapterTimeout(), &logger)
	statusSvc := service.NewStatusService(db, catalog)
	exporter := export.NewExporter(db, catalog, cfg.Exports.Path, &logger)

	httpServer := api.NewHTTPServer(cfg.API, connectionSvc, statusSvc, db, sched, exporter, &logger)

	startMetrics(ctx, cfg, &logger)

	go pool.Run(ctx)
	go sched.Run(ctx)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func loadCatalog(logger *zerolog.Logger) (*service.Catalog, error) {
	listingsPath := os.Getenv("LISTINGS_PATH")
	if listingsPath == "" {
		listingsPath = "configs/listings.yaml"
	}

	listings, err := config.LoadListings(listingsPath)
	if err != nil {
		logger.Error().Err(err).Str("listings_path", listingsPath).Msg("load listings")
		return nil, err
	}

	logger.Info().Int("listings", len(listings)).Msg("listing catalog loaded")
	return service.NewCatalog(listings), nil
}

// initLocks prefers Redis; without it, or when Redis degrades at runtime,
// the advisory locks fall back to the in-process store.
func initLocks(cfg *config.Config, logger *zerolog.Logger) (domain.LockRepository, io.Closer) {
	memory := repository.NewMemoryLockRepository()
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory locks")
		return memory, nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), client); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-memory locks")
		_ = client.Close()
		return memory, nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	primary := repository.NewRedisLockRepository(client)
	return repository.NewFailoverLockRepository(primary, memory, logger), client
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.Enabled {
			logger.Warn().Msg("api disabled in config, not serving http")
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("sync engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("sync engine stopped")
	return nil
}
