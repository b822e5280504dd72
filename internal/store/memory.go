package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	snapshots map[snapKey][]models.SignalSnapshot
	requests  map[string]models.ZipRequestRecord
}

type snapKey struct {
	zip string
	st  models.SignalType
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		snapshots: make(map[snapKey][]models.SignalSnapshot),
		requests:  make(map[string]models.ZipRequestRecord),
	}
}

// PutSnapshot implements Store.
func (s *MemoryStore) PutSnapshot(ctx context.Context, snap *models.SignalSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.ID = s.nextID
	s.nextID++
	key := snapKey{zip: snap.ZipCode, st: snap.SignalType}
	s.snapshots[key] = append(s.snapshots[key], *snap)
	return nil
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(ctx context.Context, zip string, st models.SignalType) (*models.SignalSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[snapKey{zip: zip, st: st}]
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	best := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.GeneratedAt.After(best.GeneratedAt) ||
			(snap.GeneratedAt.Equal(best.GeneratedAt) && snap.ID > best.ID) {
			best = snap
		}
	}
	out := best
	return &out, nil
}

// RecordRequest implements Store.
func (s *MemoryStore) RecordRequest(ctx context.Context, zip string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[zip]
	if !ok {
		rec = models.ZipRequestRecord{ZipCode: zip, FirstRequested: at, LastRequested: at}
	} else if at.After(rec.LastRequested) {
		rec.LastRequested = at
	}
	s.requests[zip] = rec
	return nil
}

// RecordRefresh implements Store.
func (s *MemoryStore) RecordRefresh(ctx context.Context, zip string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[zip]
	if !ok {
		rec = models.ZipRequestRecord{ZipCode: zip, FirstRequested: at, LastRequested: at}
	}
	if rec.LastRefreshedAt == nil || at.After(*rec.LastRefreshedAt) {
		t := at
		rec.LastRefreshedAt = &t
	}
	s.requests[zip] = rec
	return nil
}

// GetZipRequest implements Store.
func (s *MemoryStore) GetZipRequest(ctx context.Context, zip string) (*models.ZipRequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.requests[zip]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// ListRecentlyRequested implements Store.
func (s *MemoryStore) ListRecentlyRequested(ctx context.Context, since time.Time) ([]models.ZipRequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recs []models.ZipRequestRecord
	for _, rec := range s.requests {
		if !rec.LastRequested.Before(since) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].LastRequested.After(recs[j].LastRequested)
	})
	return recs, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (s *MemoryStore) Close() {}
