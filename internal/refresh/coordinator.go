// Package refresh executes upstream signal refreshes, coalescing concurrent
// callers for the same (ZIP, signal type) key onto one upstream attempt.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/provider"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
)

// refreshKey identifies one coalescing unit.
type refreshKey struct {
	zip string
	st  models.SignalType
}

// inFlightRefresh tracks a single upstream refresh that multiple callers may
// wait for. The snapshot is persisted before done is set, so a waiter never
// observes a result the store does not yet have.
type inFlightRefresh struct {
	mu      sync.Mutex
	snap    *models.SignalSnapshot
	err     error
	done    bool
	waiters []chan struct{}
}

// Coordinator runs refreshes through the provider registry and persists the
// results. Execution is detached from the requesting context: once a refresh
// starts it runs to completion (bounded by the refresh timeout) even if every
// waiter has gone away.
type Coordinator struct {
	store     store.Store
	providers provider.Registry
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[refreshKey]*inFlightRefresh
}

// NewCoordinator creates a Coordinator. timeout bounds each detached refresh
// attempt end to end (fetch plus persist).
func NewCoordinator(st store.Store, providers provider.Registry, timeout time.Duration, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 55 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     st,
		providers: providers,
		timeout:   timeout,
		logger:    logger,
		inFlight:  make(map[refreshKey]*inFlightRefresh),
	}
}

// ErrUnknownSignalType is returned when no provider is registered for the
// requested signal type.
var ErrUnknownSignalType = errors.New("no provider for signal type")

// Refresh fetches a new snapshot for (geo.ZipCode, st), persists it, and
// returns it. If a refresh for the same key is already in flight the caller
// waits for that one instead of starting another. ctx bounds only the wait;
// the refresh itself keeps running under its own timeout after ctx is done.
func (c *Coordinator) Refresh(ctx context.Context, geo models.Geography, st models.SignalType) (*models.SignalSnapshot, error) {
	p, ok := c.providers[st]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignalType, st)
	}

	key := refreshKey{zip: geo.ZipCode, st: st}

	c.mu.Lock()
	req, exists := c.inFlight[key]
	if exists {
		c.mu.Unlock()
		observability.RefreshCoalescedTotal.WithLabelValues(string(st)).Inc()
		return c.wait(ctx, req)
	}

	req = &inFlightRefresh{}
	c.inFlight[key] = req
	c.mu.Unlock()

	go c.execute(key, req, p, geo)

	return c.wait(ctx, req)
}

// wait blocks until the refresh completes or ctx is done. A context error
// here means the caller stopped waiting; the refresh itself continues.
func (c *Coordinator) wait(ctx context.Context, req *inFlightRefresh) (*models.SignalSnapshot, error) {
	req.mu.Lock()
	if req.done {
		snap, err := req.snap, req.err
		req.mu.Unlock()
		return snap, err
	}
	notify := make(chan struct{})
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	select {
	case <-notify:
		req.mu.Lock()
		snap, err := req.snap, req.err
		req.mu.Unlock()
		return snap, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execute runs the detached refresh: fetch, persist, then release waiters.
func (c *Coordinator) execute(key refreshKey, req *inFlightRefresh, p provider.Provider, geo models.Geography) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap, err := p.Fetch(ctx, geo)
	if err == nil {
		if perr := c.store.PutSnapshot(ctx, snap); perr != nil {
			snap, err = nil, &persistError{err: perr}
		} else if rerr := c.store.RecordRefresh(ctx, key.zip, snap.GeneratedAt); rerr != nil {
			// The snapshot itself is safe; a missed marker only means the
			// sweep may refresh this ZIP one cycle early.
			c.logger.Warn("record refresh marker failed",
				zap.String("zip", key.zip), zap.Error(rerr))
		}
	}

	outcome := classify(err)
	st := string(key.st)
	observability.RefreshAttemptsTotal.WithLabelValues(st, outcome).Inc()
	observability.RefreshDuration.WithLabelValues(st).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.Warn("signal refresh failed",
			zap.String("zip", key.zip),
			zap.String("signalType", st),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	} else {
		c.logger.Info("signal refreshed",
			zap.String("zip", key.zip),
			zap.String("signalType", st),
			zap.Float64("compositeScore", snap.CompositeScore),
			zap.Duration("elapsed", time.Since(start)))
	}

	req.mu.Lock()
	req.snap = snap
	req.err = err
	req.done = true
	waiters := req.waiters
	req.waiters = nil
	req.mu.Unlock()

	for _, notify := range waiters {
		close(notify)
	}

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

func classify(err error) string {
	var pe *persistError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &pe):
		return "store_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream_error"
	}
}

type persistError struct{ err error }

func (e *persistError) Error() string { return "persist snapshot: " + e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }
