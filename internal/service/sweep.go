package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
)

// SweepReport summarizes one background refresh pass.
type SweepReport struct {
	ZipsExamined int `json:"zips_examined"`
	Refreshed    int `json:"refreshed"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
}

// Sweep refreshes stale signals for every ZIP requested within maxAge. With
// force set, freshness is ignored and every signal is refreshed. Individual
// failures are logged and counted, never fatal; ZIPs are walked sequentially
// to keep the upstream load gentle.
func (o *Orchestrator) Sweep(ctx context.Context, maxAge time.Duration, force bool) (SweepReport, error) {
	observability.SweepRunsTotal.Inc()
	now := time.Now().UTC()

	recs, err := o.store.ListRecentlyRequested(ctx, now.Add(-maxAge))
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, rec := range recs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.ZipsExamined++

		g, gerr := o.resolver.Resolve(ctx, rec.ZipCode)
		if gerr != nil {
			o.logger.Warn("sweep: geography resolution failed",
				zap.String("zip", rec.ZipCode), zap.Error(gerr))
			report.Failed += len(o.signalTypes)
			observability.SweepRefreshesTotal.WithLabelValues("failure").Add(float64(len(o.signalTypes)))
			continue
		}

		for _, st := range o.signalTypes {
			if !force {
				stale, serr := o.signalNeedsRefresh(ctx, rec.ZipCode, st, now)
				if serr != nil {
					o.logger.Warn("sweep: staleness check failed",
						zap.String("zip", rec.ZipCode), zap.String("signalType", string(st)), zap.Error(serr))
					report.Failed++
					observability.SweepRefreshesTotal.WithLabelValues("failure").Inc()
					continue
				}
				if !stale {
					report.Skipped++
					observability.SweepRefreshesTotal.WithLabelValues("skipped").Inc()
					continue
				}
			}

			if _, rerr := o.coordinator.Refresh(ctx, g, st); rerr != nil {
				o.logger.Warn("sweep: refresh failed",
					zap.String("zip", rec.ZipCode), zap.String("signalType", string(st)), zap.Error(rerr))
				report.Failed++
				observability.SweepRefreshesTotal.WithLabelValues("failure").Inc()
				continue
			}
			report.Refreshed++
			observability.SweepRefreshesTotal.WithLabelValues("success").Inc()
		}
	}

	o.logger.Info("sweep complete",
		zap.Int("zips", report.ZipsExamined),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// signalNeedsRefresh reports whether the latest snapshot for (zip, st) is
// missing or past its TTL.
func (o *Orchestrator) signalNeedsRefresh(ctx context.Context, zip string, st models.SignalType, now time.Time) (bool, error) {
	prior, err := o.store.GetLatest(ctx, zip, st)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return o.policy.IsStale(st, prior.GeneratedAt, now)
}
