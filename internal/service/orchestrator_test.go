package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/policy"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/provider"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/refresh"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/validation"
)

type fakeResolver struct {
	geo models.Geography
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, zip string) (models.Geography, error) {
	if f.err != nil {
		return models.Geography{}, f.err
	}
	g := f.geo
	g.ZipCode = zip
	return g, nil
}

type fakeProvider struct {
	st    models.SignalType
	err   error
	calls atomic.Int64
}

func (f *fakeProvider) SignalType() models.SignalType { return f.st }

func (f *fakeProvider) Fetch(ctx context.Context, geo models.Geography) (*models.SignalSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.SignalSnapshot{
		ZipCode:     geo.ZipCode,
		SignalType:  f.st,
		GeneratedAt: time.Now().UTC(),
		Payload:     json.RawMessage(`{"source":"fake"}`),
		RiskLevel:   models.RiskModerate,
		Trend:       models.TrendRising,
		Confidence:  models.ConfidenceHigh,
	}, nil
}

type fixture struct {
	store *store.MemoryStore
	ww    *fakeProvider
	ed    *fakeProvider
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	ww := &fakeProvider{st: models.SignalWastewater}
	ed := &fakeProvider{st: models.SignalNSSPEDVisit}
	pol, err := policy.NewFreshnessPolicy(map[models.SignalType]time.Duration{
		models.SignalWastewater:  12 * time.Hour,
		models.SignalNSSPEDVisit: 12 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewFreshnessPolicy: %v", err)
	}
	coord := refresh.NewCoordinator(mem, provider.NewRegistry(ww, ed), 5*time.Second, zap.NewNop())
	orch, err := NewOrchestrator(mem, &fakeResolver{geo: models.Geography{StateAbbr: "IL", CountyFIPS: "17031"}},
		coord, pol, []models.SignalType{models.SignalWastewater, models.SignalNSSPEDVisit}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &fixture{store: mem, ww: ww, ed: ed, orch: orch}
}

func (f *fixture) seed(t *testing.T, zip string, st models.SignalType, age time.Duration) *models.SignalSnapshot {
	t.Helper()
	snap := &models.SignalSnapshot{
		ZipCode:     zip,
		SignalType:  st,
		GeneratedAt: time.Now().UTC().Add(-age),
		Payload:     json.RawMessage(`{"source":"seed"}`),
		RiskLevel:   models.RiskLow,
		Trend:       models.TrendFlat,
		Confidence:  models.ConfidenceModerate,
	}
	if err := f.store.PutSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	return snap
}

func TestGetLatestRefreshesMissingAndServesFresh(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "60614", models.SignalWastewater, time.Hour)

	res, err := f.orch.GetLatest(context.Background(), "60614")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}

	if !res.Refreshed {
		t.Error("Refreshed = false, want true (ed visits was missing)")
	}
	ww := res.Signals[models.SignalWastewater]
	if ww.Status != models.StatusFresh {
		t.Errorf("wastewater status = %s, want fresh", ww.Status)
	}
	ed := res.Signals[models.SignalNSSPEDVisit]
	if ed.Status != models.StatusFresh {
		t.Errorf("ed visits status = %s, want fresh", ed.Status)
	}
	if got := f.ww.calls.Load(); got != 0 {
		t.Errorf("wastewater fetches = %d, want 0 (fresh snapshot served)", got)
	}
	if got := f.ed.calls.Load(); got != 1 {
		t.Errorf("ed visits fetches = %d, want 1", got)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
}

func TestGetLatestIdempotentWithinTTL(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		if _, err := f.orch.GetLatest(context.Background(), "60614"); err != nil {
			t.Fatalf("GetLatest #%d: %v", i, err)
		}
	}
	if got := f.ww.calls.Load(); got != 1 {
		t.Errorf("wastewater fetches = %d, want 1 across repeated calls", got)
	}
	if got := f.ed.calls.Load(); got != 1 {
		t.Errorf("ed visits fetches = %d, want 1 across repeated calls", got)
	}
}

func TestGetLatestTTLBoundary(t *testing.T) {
	f := newFixture(t)
	// Exactly at TTL is fresh; just past it is stale.
	f.seed(t, "60614", models.SignalWastewater, 12*time.Hour-time.Second)
	f.seed(t, "60614", models.SignalNSSPEDVisit, 12*time.Hour+time.Minute)

	res, err := f.orch.GetLatest(context.Background(), "60614")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got := f.ww.calls.Load(); got != 0 {
		t.Errorf("wastewater fetches = %d, want 0 at TTL boundary", got)
	}
	if got := f.ed.calls.Load(); got != 1 {
		t.Errorf("ed visits fetches = %d, want 1 past TTL", got)
	}
	if !res.Refreshed {
		t.Error("Refreshed = false, want true")
	}
}

func TestGetLatestStaleFallback(t *testing.T) {
	f := newFixture(t)
	f.ww.err = errors.New("upstream exploded")
	seeded := f.seed(t, "60614", models.SignalWastewater, 24*time.Hour)

	res, err := f.orch.GetLatest(context.Background(), "60614")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}

	ww := res.Signals[models.SignalWastewater]
	if ww.Status != models.StatusStale {
		t.Errorf("status = %s, want stale", ww.Status)
	}
	if ww.GeneratedAt == nil || !ww.GeneratedAt.Equal(seeded.GeneratedAt) {
		t.Errorf("generated_at = %v, want the prior snapshot's %v", ww.GeneratedAt, seeded.GeneratedAt)
	}
	if ww.Error == "" {
		t.Error("stale entry should carry the refresh error")
	}
	if _, ok := res.Errors[models.SignalWastewater]; !ok {
		t.Error("errors map missing wastewater entry")
	}
	// The other signal refreshed successfully.
	if res.Signals[models.SignalNSSPEDVisit].Status != models.StatusFresh {
		t.Errorf("ed visits status = %s, want fresh", res.Signals[models.SignalNSSPEDVisit].Status)
	}
	if !res.Refreshed {
		t.Error("Refreshed = false, want true (ed visits succeeded)")
	}
}

func TestGetLatestUnavailableWhenNoDataAndFailure(t *testing.T) {
	f := newFixture(t)
	f.ww.err = errors.New("upstream exploded")
	f.ed.err = errors.New("also down")

	res, err := f.orch.GetLatest(context.Background(), "60614")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}

	for _, st := range []models.SignalType{models.SignalWastewater, models.SignalNSSPEDVisit} {
		entry := res.Signals[st]
		if entry.Status != models.StatusUnavailable {
			t.Errorf("%s status = %s, want unavailable", st, entry.Status)
		}
		if entry.Risk != models.RiskUnknown {
			t.Errorf("%s risk = %s, want unknown", st, entry.Risk)
		}
	}
	if res.Refreshed {
		t.Error("Refreshed = true, want false")
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want both signals", res.Errors)
	}
}

func TestGetLatestInvalidZip(t *testing.T) {
	f := newFixture(t)
	for _, zip := range []string{"", "1234", "abcde", "60614-1234"} {
		if _, err := f.orch.GetLatest(context.Background(), zip); err == nil {
			t.Errorf("GetLatest(%q) succeeded, want validation error", zip)
		}
	}
	if _, err := f.orch.GetLatest(context.Background(), "abcde"); !errors.Is(err, validation.ErrZipFormat) {
		t.Errorf("err = %v, want ErrZipFormat", err)
	}
}

func TestGetLatestRecordsRequest(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.GetLatest(context.Background(), "62401"); err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	rec, err := f.store.GetZipRequest(context.Background(), "62401")
	if err != nil {
		t.Fatalf("GetZipRequest: %v", err)
	}
	if rec.LastRefreshedAt == nil {
		t.Error("last_refreshed not set after successful refresh")
	}
}

func TestGetLatestGeoFailure(t *testing.T) {
	f := newFixture(t)
	f.orch.resolver = &fakeResolver{err: errors.New("geocoder down")}
	seeded := f.seed(t, "60614", models.SignalWastewater, 24*time.Hour)

	res, err := f.orch.GetLatest(context.Background(), "60614")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	ww := res.Signals[models.SignalWastewater]
	if ww.Status != models.StatusStale || ww.GeneratedAt == nil || !ww.GeneratedAt.Equal(seeded.GeneratedAt) {
		t.Errorf("wastewater entry = %+v, want stale serve of prior snapshot", ww)
	}
	if res.Signals[models.SignalNSSPEDVisit].Status != models.StatusUnavailable {
		t.Errorf("ed visits status = %s, want unavailable", res.Signals[models.SignalNSSPEDVisit].Status)
	}
	if f.ww.calls.Load() != 0 || f.ed.calls.Load() != 0 {
		t.Error("providers were called without geography")
	}
}

func TestForceRefreshIgnoresFreshness(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "62401", models.SignalWastewater, time.Minute)
	f.seed(t, "62401", models.SignalNSSPEDVisit, time.Minute)

	res, err := f.orch.ForceRefresh(context.Background(), "62401")
	if err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if !res.Refreshed {
		t.Error("Refreshed = false, want true")
	}
	if f.ww.calls.Load() != 1 || f.ed.calls.Load() != 1 {
		t.Errorf("fetches = %d/%d, want 1/1 despite fresh snapshots",
			f.ww.calls.Load(), f.ed.calls.Load())
	}
	for st, entry := range res.Signals {
		if entry.Status != models.StatusFresh {
			t.Errorf("%s status = %s, want fresh", st, entry.Status)
		}
	}
}

func TestGetLatestSignalTypeSubset(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.GetLatest(context.Background(), "60614", models.SignalWastewater)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}

	if len(res.Signals) != 1 {
		t.Fatalf("signals = %v, want wastewater only", res.Signals)
	}
	entry, ok := res.Signals[models.SignalWastewater]
	if !ok || entry.Status != models.StatusFresh {
		t.Errorf("wastewater entry = %+v, want fresh", entry)
	}
	if f.ww.calls.Load() != 1 {
		t.Errorf("wastewater fetches = %d, want 1", f.ww.calls.Load())
	}
	if f.ed.calls.Load() != 0 {
		t.Errorf("ed-visit fetches = %d, want 0 for an unrequested type", f.ed.calls.Load())
	}
}

func TestGetLatestUnconfiguredSignalType(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.GetLatest(context.Background(), "60614", models.SignalILINet)
	if !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("err = %v, want ErrUnknownSignal", err)
	}
	if f.ww.calls.Load() != 0 || f.ed.calls.Load() != 0 {
		t.Errorf("fetches = %d/%d, want 0/0 on rejected request",
			f.ww.calls.Load(), f.ed.calls.Load())
	}
}

func TestSweepRefreshesOnlyStaleRecentZips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Recently requested: one stale signal, one fresh.
	_ = f.store.RecordRequest(ctx, "60614", now.Add(-time.Hour))
	f.seed(t, "60614", models.SignalWastewater, 24*time.Hour)
	f.seed(t, "60614", models.SignalNSSPEDVisit, time.Hour)

	// Requested too long ago: outside the sweep window.
	_ = f.store.RecordRequest(ctx, "10001", now.Add(-60*24*time.Hour))

	report, err := f.orch.Sweep(ctx, 30*24*time.Hour, false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.ZipsExamined != 1 {
		t.Errorf("zips examined = %d, want 1", report.ZipsExamined)
	}
	if report.Refreshed != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 refreshed and 1 skipped", report)
	}
	if f.ww.calls.Load() != 1 || f.ed.calls.Load() != 0 {
		t.Errorf("fetches = %d/%d, want 1/0", f.ww.calls.Load(), f.ed.calls.Load())
	}
}

func TestSweepSwallowsRefreshFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.ww.err = errors.New("upstream exploded")

	_ = f.store.RecordRequest(ctx, "60614", now.Add(-time.Hour))
	f.seed(t, "60614", models.SignalWastewater, 24*time.Hour)
	f.seed(t, "60614", models.SignalNSSPEDVisit, 24*time.Hour)

	report, err := f.orch.Sweep(ctx, 30*24*time.Hour, false)
	if err != nil {
		t.Fatalf("Sweep returned error, want failures swallowed: %v", err)
	}
	if report.Failed != 1 || report.Refreshed != 1 {
		t.Errorf("report = %+v, want 1 failed and 1 refreshed", report)
	}
}

func TestSweepForceRefreshesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = f.store.RecordRequest(ctx, "60614", now.Add(-time.Minute))
	f.seed(t, "60614", models.SignalWastewater, time.Minute)
	f.seed(t, "60614", models.SignalNSSPEDVisit, time.Minute)

	report, err := f.orch.Sweep(ctx, 30*24*time.Hour, true)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Refreshed != 2 || report.Skipped != 0 {
		t.Errorf("report = %+v, want everything refreshed", report)
	}
}
