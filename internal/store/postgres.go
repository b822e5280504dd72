package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/migrations"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connString and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// RunMigrations applies all embedded SQL migrations.
func (s *PostgresStore) RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const snapshotColumns = `id, zip_code, signal_type, generated_at, payload, pathogen,
	geo_level, geo_id, state, county_fips, risk_level, trend, confidence, composite_score`

func scanSnapshot(row pgx.Row) (*models.SignalSnapshot, error) {
	var snap models.SignalSnapshot
	err := row.Scan(
		&snap.ID,
		&snap.ZipCode,
		&snap.SignalType,
		&snap.GeneratedAt,
		&snap.Payload,
		&snap.Pathogen,
		&snap.GeoLevel,
		&snap.GeoID,
		&snap.State,
		&snap.CountyFIPS,
		&snap.RiskLevel,
		&snap.Trend,
		&snap.Confidence,
		&snap.CompositeScore,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutSnapshot implements Store.
func (s *PostgresStore) PutSnapshot(ctx context.Context, snap *models.SignalSnapshot) error {
	query := `
		INSERT INTO signal_snapshots (zip_code, signal_type, generated_at, payload, pathogen,
			geo_level, geo_id, state, county_fips, risk_level, trend, confidence, composite_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err := s.pool.QueryRow(ctx, query,
		snap.ZipCode,
		snap.SignalType,
		snap.GeneratedAt,
		snap.Payload,
		snap.Pathogen,
		snap.GeoLevel,
		snap.GeoID,
		snap.State,
		snap.CountyFIPS,
		snap.RiskLevel,
		snap.Trend,
		snap.Confidence,
		snap.CompositeScore,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetLatest implements Store.
func (s *PostgresStore) GetLatest(ctx context.Context, zip string, st models.SignalType) (*models.SignalSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM signal_snapshots
		WHERE zip_code = $1 AND signal_type = $2
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`
	return scanSnapshot(s.pool.QueryRow(ctx, query, zip, st))
}

// RecordRequest implements Store.
func (s *PostgresStore) RecordRequest(ctx context.Context, zip string, at time.Time) error {
	query := `
		INSERT INTO zip_requests (zip_code, first_requested_at, last_requested_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (zip_code) DO UPDATE
		SET last_requested_at = GREATEST(zip_requests.last_requested_at, EXCLUDED.last_requested_at)
	`
	if _, err := s.pool.Exec(ctx, query, zip, at); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// RecordRefresh implements Store.
func (s *PostgresStore) RecordRefresh(ctx context.Context, zip string, at time.Time) error {
	query := `
		INSERT INTO zip_requests (zip_code, first_requested_at, last_requested_at, last_refreshed_at)
		VALUES ($1, $2, $2, $2)
		ON CONFLICT (zip_code) DO UPDATE
		SET last_refreshed_at = GREATEST(COALESCE(zip_requests.last_refreshed_at, 'epoch'::timestamptz), EXCLUDED.last_refreshed_at)
	`
	if _, err := s.pool.Exec(ctx, query, zip, at); err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}
	return nil
}

func scanZipRequest(row pgx.Row) (*models.ZipRequestRecord, error) {
	var rec models.ZipRequestRecord
	err := row.Scan(&rec.ZipCode, &rec.FirstRequested, &rec.LastRequested, &rec.LastRefreshedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetZipRequest implements Store.
func (s *PostgresStore) GetZipRequest(ctx context.Context, zip string) (*models.ZipRequestRecord, error) {
	query := `
		SELECT zip_code, first_requested_at, last_requested_at, last_refreshed_at
		FROM zip_requests
		WHERE zip_code = $1
	`
	return scanZipRequest(s.pool.QueryRow(ctx, query, zip))
}

// ListRecentlyRequested implements Store.
func (s *PostgresStore) ListRecentlyRequested(ctx context.Context, since time.Time) ([]models.ZipRequestRecord, error) {
	query := `
		SELECT zip_code, first_requested_at, last_requested_at, last_refreshed_at
		FROM zip_requests
		WHERE last_requested_at >= $1
		ORDER BY last_requested_at DESC
	`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list recent requests: %w", err)
	}
	defer rows.Close()

	var recs []models.ZipRequestRecord
	for rows.Next() {
		var rec models.ZipRequestRecord
		if err := rows.Scan(&rec.ZipCode, &rec.FirstRequested, &rec.LastRequested, &rec.LastRefreshedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
