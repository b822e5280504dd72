// Package store persists signal snapshots and per-ZIP request records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// ErrNotFound is returned when no snapshot or request record exists for a key.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract. Snapshots are append-only; the latest
// snapshot for a (zip, signal type) key is the one with the greatest
// generated_at.
type Store interface {
	// PutSnapshot appends snap. On success the snapshot's ID is populated.
	PutSnapshot(ctx context.Context, snap *models.SignalSnapshot) error

	// GetLatest returns the most recent snapshot for (zip, st), or ErrNotFound.
	GetLatest(ctx context.Context, zip string, st models.SignalType) (*models.SignalSnapshot, error)

	// RecordRequest upserts the request-tracking row for zip, setting
	// first_requested_at on insert and advancing last_requested_at always.
	RecordRequest(ctx context.Context, zip string, at time.Time) error

	// RecordRefresh marks zip as refreshed at the given time. The row is
	// created if the ZIP has never been requested directly.
	RecordRefresh(ctx context.Context, zip string, at time.Time) error

	// GetZipRequest returns the request record for zip, or ErrNotFound.
	GetZipRequest(ctx context.Context, zip string) (*models.ZipRequestRecord, error)

	// ListRecentlyRequested returns ZIPs whose last_requested_at is at or
	// after since, most recently requested first.
	ListRecentlyRequested(ctx context.Context, since time.Time) ([]models.ZipRequestRecord, error)

	// Ping verifies the backing datastore is reachable.
	Ping(ctx context.Context) error

	// Close releases held connections.
	Close()
}
