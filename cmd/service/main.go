package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/config"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/geo"
	httphandler "github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/http"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/policy"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/provider"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/refresh"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/scheduler"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/service"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
)

const (
	geoResolveTimeout     = 10 * time.Second
	upstreamCallTimeout   = 30 * time.Second
	snapshotCacheTTL      = time.Hour
	inFlightCheckInterval = 250 * time.Millisecond
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx := context.Background()
	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	if err := pg.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	var dataStore store.Store = pg
	if cfg.MemcachedEnabled {
		cached, err := store.NewCachedStore(pg, cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, snapshotCacheTTL)
		if err != nil {
			logger.Fatal("memcached", zap.Error(err))
		}
		dataStore = cached
		logger.Info("snapshot cache: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	}

	resolver := geo.NewHTTPResolver(geoResolveTimeout)

	providers, err := buildProviders(cfg)
	if err != nil {
		logger.Fatal("providers", zap.Error(err))
	}
	registry := provider.NewRegistry(providers...)

	freshness, err := policy.NewFreshnessPolicy(cfg.SignalTTLs)
	if err != nil {
		logger.Fatal("freshness policy", zap.Error(err))
	}

	coordinator := refresh.NewCoordinator(dataStore, registry, cfg.RefreshTimeout, logger)
	orchestrator, err := service.NewOrchestrator(dataStore, resolver, coordinator, freshness, cfg.SignalTypes, logger)
	if err != nil {
		logger.Fatal("orchestrator", zap.Error(err))
	}

	sweeper := scheduler.New(orchestrator, cfg.SweepInterval, cfg.SweepMaxAge, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("sweep scheduler", zap.Error(err))
	}
	logger.Info("sweep scheduler started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("max_age", cfg.SweepMaxAge))

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(orchestrator, dataStore, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    limiter,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
		// WriteTimeout sits above RequestTimeout so the timeout middleware
		// answers first and the client sees a JSON error, not a dropped conn.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("signal_types", len(cfg.SignalTypes)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err))
	}

	dataStore.Close()
	logger.Info("shutdown complete")
}

// buildProviders constructs one provider per configured signal type.
func buildProviders(cfg *config.Config) ([]provider.Provider, error) {
	out := make([]provider.Provider, 0, len(cfg.SignalTypes))
	for _, st := range cfg.SignalTypes {
		switch st {
		case models.SignalWastewater:
			out = append(out, provider.NewWastewaterProvider(cfg.SocrataAppToken, upstreamCallTimeout))
		case models.SignalNSSPEDVisit:
			out = append(out, provider.NewNSSPProvider(cfg.SocrataAppToken, cfg.NSSPPathogen, cfg.NSSPWeeks, upstreamCallTimeout))
		case models.SignalILINet:
			out = append(out, provider.NewILINetProvider(cfg.NSSPWeeks, upstreamCallTimeout))
		case models.SignalSeverity:
			out = append(out, provider.NewSeverityProvider(cfg.NSSPWeeks, upstreamCallTimeout))
		default:
			return nil, fmt.Errorf("no provider for signal type %q", st)
		}
	}
	return out, nil
}
