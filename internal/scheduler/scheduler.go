// Package scheduler runs the periodic background refresh sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/service"
)

// Scheduler periodically sweeps recently requested ZIPs, refreshing whatever
// has gone stale since the last pass.
type Scheduler struct {
	scheduler *gocron.Scheduler
	orch      *service.Orchestrator
	interval  time.Duration
	maxAge    time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. interval is the gap between sweep passes; maxAge
// is the recently-requested window each pass covers.
func New(orch *service.Orchestrator, interval, maxAge time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		orch:      orch,
		interval:  interval,
		maxAge:    maxAge,
		logger:    logger,
	}
}

// Start schedules the sweep job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		s.logger.Info("scheduled sweep starting", zap.Duration("maxAge", s.maxAge))

		// Each pass gets its own deadline so a hung pass cannot pile up
		// behind the next one.
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()

		report, err := s.orch.Sweep(ctx, s.maxAge, false)
		if err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled sweep finished",
			zap.Int("zips", report.ZipsExamined),
			zap.Int("refreshed", report.Refreshed),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped))
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future passes.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
