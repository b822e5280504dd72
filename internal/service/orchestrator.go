// Package service orchestrates the read-through cache over stored snapshots,
// upstream refreshes, and staleness policy.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/geo"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/policy"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/refresh"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/validation"
)

// ErrUnknownSignal is returned when a caller requests a signal type the
// service is not configured to serve.
var ErrUnknownSignal = errors.New("unknown signal type")

// Orchestrator serves aggregate signal results for a ZIP. Fresh snapshots are
// served as-is; stale or missing ones trigger a synchronous refresh, with the
// prior snapshot as fallback when the refresh fails.
type Orchestrator struct {
	store       store.Store
	resolver    geo.Resolver
	coordinator *refresh.Coordinator
	policy      *policy.FreshnessPolicy
	signalTypes []models.SignalType
	logger      *zap.Logger
}

// NewOrchestrator creates an Orchestrator serving signalTypes, which must all
// have TTL entries in pol.
func NewOrchestrator(st store.Store, resolver geo.Resolver, coord *refresh.Coordinator, pol *policy.FreshnessPolicy, signalTypes []models.SignalType, logger *zap.Logger) (*Orchestrator, error) {
	if len(signalTypes) == 0 {
		return nil, fmt.Errorf("orchestrator: no signal types configured")
	}
	for _, t := range signalTypes {
		if _, err := pol.TTL(t); err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:       st,
		resolver:    resolver,
		coordinator: coord,
		policy:      pol,
		signalTypes: signalTypes,
		logger:      logger,
	}, nil
}

// SignalTypes returns the configured signal types, in request order.
func (o *Orchestrator) SignalTypes() []models.SignalType {
	out := make([]models.SignalType, len(o.signalTypes))
	copy(out, o.signalTypes)
	return out
}

// GetLatest returns the aggregate result for zip, refreshing any stale or
// missing signals first. Identical repeated calls within the TTL window serve
// from the store without touching upstream. With no types given, every
// configured signal type is composed; otherwise only the requested subset.
func (o *Orchestrator) GetLatest(ctx context.Context, zip string, types ...models.SignalType) (*models.AggregateResult, error) {
	return o.aggregate(ctx, zip, types, false)
}

// ForceRefresh refreshes the requested signals for zip regardless of
// freshness and returns the resulting aggregate. With no types given, every
// configured signal type is refreshed.
func (o *Orchestrator) ForceRefresh(ctx context.Context, zip string, types ...models.SignalType) (*models.AggregateResult, error) {
	return o.aggregate(ctx, zip, types, true)
}

// selectTypes narrows the configured set to the requested one, preserving the
// configured order and dropping duplicates. A type outside the configured set
// is an error so callers cannot silently get an empty aggregate.
func (o *Orchestrator) selectTypes(requested []models.SignalType) ([]models.SignalType, error) {
	if len(requested) == 0 {
		return o.signalTypes, nil
	}
	want := make(map[models.SignalType]bool, len(requested))
	for _, st := range requested {
		want[st] = true
	}
	out := make([]models.SignalType, 0, len(requested))
	for _, st := range o.signalTypes {
		if want[st] {
			out = append(out, st)
			delete(want, st)
		}
	}
	for st := range want {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, st)
	}
	return out, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, rawZip string, requested []models.SignalType, force bool) (*models.AggregateResult, error) {
	zip, err := validation.ValidateZip(rawZip)
	if err != nil {
		return nil, err
	}
	types, err := o.selectTypes(requested)
	if err != nil {
		return nil, err
	}

	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = o.logger
	}

	now := time.Now().UTC()
	if err := o.store.RecordRequest(ctx, zip, now); err != nil {
		// Popularity tracking must never block serving.
		logger.Warn("record request failed", zap.String("zip", zip), zap.Error(err))
	}

	// Geography is only needed when something actually refreshes, and is
	// resolved at most once per call.
	var (
		geoOnce sync.Once
		geoVal  models.Geography
		geoErr  error
	)
	resolveGeo := func() (models.Geography, error) {
		geoOnce.Do(func() {
			geoVal, geoErr = o.resolver.Resolve(ctx, zip)
		})
		return geoVal, geoErr
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		refreshed bool
		signals   = make(map[models.SignalType]models.SignalEntry, len(types))
		errsByT   = make(map[models.SignalType]string)
	)
	for _, st := range types {
		wg.Add(1)
		go func(st models.SignalType) {
			defer wg.Done()
			entry, didRefresh, errMsg := o.resolveSignal(ctx, logger, zip, st, force, now, resolveGeo)
			mu.Lock()
			signals[st] = entry
			if didRefresh {
				refreshed = true
			}
			if errMsg != "" {
				errsByT[st] = errMsg
			}
			mu.Unlock()
		}(st)
	}
	wg.Wait()

	generated := time.Now().UTC()
	result := &models.AggregateResult{
		ZipCode:     zip,
		GeneratedAt: &generated,
		Refreshed:   refreshed,
		Signals:     signals,
	}
	if len(errsByT) > 0 {
		result.Errors = make(map[models.SignalType]string, len(errsByT))
		for st, msg := range errsByT {
			result.Errors[st] = msg
		}
	}
	return result, nil
}

// resolveSignal produces the entry for one signal type: serve fresh, refresh
// stale or missing, fall back to the stale snapshot on refresh failure.
func (o *Orchestrator) resolveSignal(ctx context.Context, logger *zap.Logger, zip string, st models.SignalType, force bool, now time.Time, resolveGeo func() (models.Geography, error)) (entry models.SignalEntry, didRefresh bool, errMsg string) {
	prior, err := o.store.GetLatest(ctx, zip, st)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("snapshot lookup failed",
			zap.String("zip", zip), zap.String("signalType", string(st)), zap.Error(err))
		return models.UnavailableEntry(st, "storage lookup failed"), false, err.Error()
	}

	if prior != nil && !force {
		stale, perr := o.policy.IsStale(st, prior.GeneratedAt, now)
		if perr != nil {
			return models.UnavailableEntry(st, perr.Error()), false, perr.Error()
		}
		if !stale {
			observability.SnapshotCacheHitsTotal.WithLabelValues(string(st)).Inc()
			return models.EntryFromSnapshot(prior, models.StatusFresh), false, ""
		}
	}

	g, gerr := resolveGeo()
	if gerr != nil {
		logger.Warn("geography resolution failed", zap.String("zip", zip), zap.Error(gerr))
		return o.fallback(prior, st, gerr), false, gerr.Error()
	}

	snap, rerr := o.coordinator.Refresh(ctx, g, st)
	if rerr != nil {
		return o.fallback(prior, st, rerr), false, rerr.Error()
	}
	return models.EntryFromSnapshot(snap, models.StatusFresh), true, ""
}

// fallback serves the prior snapshot marked stale when one exists, and an
// unavailable entry otherwise.
func (o *Orchestrator) fallback(prior *models.SignalSnapshot, st models.SignalType, cause error) models.SignalEntry {
	if prior != nil {
		observability.StaleServesTotal.WithLabelValues(string(st)).Inc()
		entry := models.EntryFromSnapshot(prior, models.StatusStale)
		entry.Error = cause.Error()
		return entry
	}
	return models.UnavailableEntry(st, cause.Error())
}
