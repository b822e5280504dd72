package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

const hotKeyPrefix = "signals:"

// hotClient is the slice of *memcache.Client the store needs. Tests inject a
// fake to pin down read/write interleavings.
type hotClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Add(item *memcache.Item) error
	Ping() error
	Close() error
}

// CachedStore layers a memcached hot cache over another Store. Latest-snapshot
// lookups hit memcached first; writes go to the inner store and then overwrite
// the cached entry so readers never see an older snapshot than the database.
// Cache failures degrade to the inner store, never to an error.
type CachedStore struct {
	inner  Store
	client hotClient
	ttl    time.Duration
}

// NewCachedStore wraps inner with a memcached client. addrs is a
// comma-separated server list; ttl bounds how long a hot entry may serve
// without a database read.
func NewCachedStore(inner Store, addrs string, timeout time.Duration, maxIdleConns int, ttl time.Duration) (*CachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, fmt.Errorf("memcached: no server addresses")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func hotKey(zip string, st models.SignalType) string {
	return hotKeyPrefix + zip + ":" + string(st)
}

// GetLatest implements Store.
func (s *CachedStore) GetLatest(ctx context.Context, zip string, st models.SignalType) (*models.SignalSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := s.client.Get(hotKey(zip, st))
	if err == nil {
		var snap models.SignalSnapshot
		if jerr := json.Unmarshal(item.Value, &snap); jerr == nil {
			return &snap, nil
		}
	}
	snap, err := s.inner.GetLatest(ctx, zip, st)
	if err != nil {
		return nil, err
	}
	// Add, not Set: a refresh may have written a newer snapshot between our
	// inner read and here, and the row we hold must not clobber it.
	if item := s.hotItem(zip, st, snap); item != nil {
		_ = s.client.Add(item)
	}
	return snap, nil
}

// PutSnapshot implements Store. The hot entry is replaced after the inner
// write succeeds, keeping cache and database ordered the same way.
func (s *CachedStore) PutSnapshot(ctx context.Context, snap *models.SignalSnapshot) error {
	if err := s.inner.PutSnapshot(ctx, snap); err != nil {
		return err
	}
	// Best effort: a failed cache write only costs the next read a DB trip.
	if item := s.hotItem(snap.ZipCode, snap.SignalType, snap); item != nil {
		_ = s.client.Set(item)
	}
	return nil
}

func (s *CachedStore) hotItem(zip string, st models.SignalType, snap *models.SignalSnapshot) *memcache.Item {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	expSec := int32(s.ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 300
	}
	return &memcache.Item{
		Key:        hotKey(zip, st),
		Value:      raw,
		Expiration: expSec,
	}
}

// RecordRequest implements Store.
func (s *CachedStore) RecordRequest(ctx context.Context, zip string, at time.Time) error {
	return s.inner.RecordRequest(ctx, zip, at)
}

// RecordRefresh implements Store.
func (s *CachedStore) RecordRefresh(ctx context.Context, zip string, at time.Time) error {
	return s.inner.RecordRefresh(ctx, zip, at)
}

// GetZipRequest implements Store.
func (s *CachedStore) GetZipRequest(ctx context.Context, zip string) (*models.ZipRequestRecord, error) {
	return s.inner.GetZipRequest(ctx, zip)
}

// ListRecentlyRequested implements Store.
func (s *CachedStore) ListRecentlyRequested(ctx context.Context, since time.Time) ([]models.ZipRequestRecord, error) {
	return s.inner.ListRecentlyRequested(ctx, since)
}

// Ping implements Store. Both layers must answer.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(); err != nil {
		return fmt.Errorf("memcached: %w", err)
	}
	return s.inner.Ping(ctx)
}

// Close implements Store.
func (s *CachedStore) Close() {
	_ = s.client.Close()
	s.inner.Close()
}
