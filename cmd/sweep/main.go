package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/config"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/geo"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/policy"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/provider"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/refresh"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/service"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
)

const (
	geoResolveTimeout   = 10 * time.Second
	upstreamCallTimeout = 30 * time.Second
)

// sweep walks every recently requested ZIP once and refreshes stale signals.
// Meant for cron or manual runs; the long-running service schedules the same
// pass internally.
func main() {
	maxAge := flag.Duration("max-age", 0, "only sweep ZIPs requested within this window (default: sweep.max_age from config)")
	force := flag.Bool("force", false, "refresh every signal regardless of freshness")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline for the sweep pass")
	flag.Parse()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, *maxAge, *force, *timeout); err != nil {
		logger.Error("sweep failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, maxAge time.Duration, force bool, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if maxAge <= 0 {
		maxAge = cfg.SweepMaxAge
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pg.Close()
	if err := pg.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	freshness, err := policy.NewFreshnessPolicy(cfg.SignalTTLs)
	if err != nil {
		return fmt.Errorf("freshness policy: %w", err)
	}
	coordinator := refresh.NewCoordinator(pg, provider.NewRegistry(providers...), cfg.RefreshTimeout, logger)
	orchestrator, err := service.NewOrchestrator(pg, geo.NewHTTPResolver(geoResolveTimeout), coordinator, freshness, cfg.SignalTypes, logger)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	report, err := orchestrator.Sweep(ctx, maxAge, force)
	if err != nil {
		return err
	}
	logger.Info("sweep complete",
		zap.Int("zips_examined", report.ZipsExamined),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return nil
}

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
