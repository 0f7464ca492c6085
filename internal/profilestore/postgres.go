package profilestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the calibration_profiles table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS calibration_profiles (
    device_id       TEXT PRIMARY KEY,
    ambient         DOUBLE PRECISION NOT NULL,
    threshold       DOUBLE PRECISION NOT NULL,
    multiplier      DOUBLE PRECISION NOT NULL DEFAULT 2.5,
    sample_rate     INTEGER NOT NULL,
    frame_length_ms INTEGER NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// calibration_profiles table if it does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("profilestore: migrate: %w", err)
	}
	return nil
}

// Upsert creates or replaces the calibration profile for a device. The
// profile is validated before persistence.
func (s *PostgresStore) Upsert(ctx context.Context, p *CalibrationProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO calibration_profiles (
			device_id, ambient, threshold, multiplier, sample_rate, frame_length_ms
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (device_id) DO UPDATE SET
			ambient = EXCLUDED.ambient,
			threshold = EXCLUDED.threshold,
			multiplier = EXCLUDED.multiplier,
			sample_rate = EXCLUDED.sample_rate,
			frame_length_ms = EXCLUDED.frame_length_ms,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		p.DeviceID, p.Ambient, p.Threshold, p.Multiplier, p.SampleRate, p.FrameLengthMs,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profilestore: upsert %q: %w", p.DeviceID, err)
	}
	return nil
}

// Get retrieves a calibration profile by device ID. It returns (nil, nil) if
// no profile exists for the device.
func (s *PostgresStore) Get(ctx context.Context, deviceID string) (*CalibrationProfile, error) {
	const query = `
		SELECT device_id, ambient, threshold, multiplier, sample_rate, frame_length_ms,
		       created_at, updated_at
		FROM calibration_profiles
		WHERE device_id = $1`

	var p CalibrationProfile
	err := s.db.QueryRow(ctx, query, deviceID).Scan(
		&p.DeviceID, &p.Ambient, &p.Threshold, &p.Multiplier,
		&p.SampleRate, &p.FrameLengthMs, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("profilestore: get %q: %w", deviceID, err)
	}
	return &p, nil
}

// Delete removes a calibration profile by device ID. Deleting a non-existent
// profile is not an error.
func (s *PostgresStore) Delete(ctx context.Context, deviceID string) error {
	const query = `DELETE FROM calibration_profiles WHERE device_id = $1`
	_, err := s.db.Exec(ctx, query, deviceID)
	if err != nil {
		return fmt.Errorf("profilestore: delete %q: %w", deviceID, err)
	}
	return nil
}

// List returns all stored calibration profiles ordered by device ID.
func (s *PostgresStore) List(ctx context.Context) ([]CalibrationProfile, error) {
	const query = `
		SELECT device_id, ambient, threshold, multiplier, sample_rate, frame_length_ms,
		       created_at, updated_at
		FROM calibration_profiles
		ORDER BY device_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("profilestore: list: %w", err)
	}
	defer rows.Close()

	var profiles []CalibrationProfile
	for rows.Next() {
		var p CalibrationProfile
		if err := rows.Scan(
			&p.DeviceID, &p.Ambient, &p.Threshold, &p.Multiplier,
			&p.SampleRate, &p.FrameLengthMs, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("profilestore: list scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profilestore: list: %w", err)
	}
	return profiles, nil
}
