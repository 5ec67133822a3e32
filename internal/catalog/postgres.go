package catalog

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/passbi/busrace/internal/models"
)

// Querier is the subset of pgxpool.Pool used by PostgresSource
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads the catalog from the stop table
type PostgresSource struct {
	DB Querier
}

// LoadStops selects every stop. Rows with non-finite coordinates are
// dropped, the same as for the file source.
func (s PostgresSource) LoadStops(ctx context.Context) ([]models.Stop, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, lat, lon FROM stop ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	stops := []models.Stop{}
	for rows.Next() {
		var stop models.Stop
		if err := rows.Scan(&stop.ID, &stop.Name, &stop.Latitude, &stop.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		if !finite(stop.Latitude) || !finite(stop.Longitude) {
			continue
		}
		stops = append(stops, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stops: %w", err)
	}

	return stops, nil
}

// Schema creates the stop table when it does not exist
const Schema = `
	CREATE TABLE IF NOT EXISTS stop (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lat  DOUBLE PRECISION NOT NULL,
		lon  DOUBLE PRECISION NOT NULL
	)
`

// EnsureSchema applies Schema inside tx
func EnsureSchema(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create stop table: %w", err)
	}
	return nil
}

// UpsertStops writes stops into the stop table inside tx
func UpsertStops(ctx context.Context, tx pgx.Tx, stops []models.Stop) error {
	batch := &pgx.Batch{}

	for _, stop := range stops {
		batch.Queue(`
			INSERT INTO stop (id, name, lat, lon)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    lat = EXCLUDED.lat,
			    lon = EXCLUDED.lon
		`, stop.ID, stop.Name, stop.Latitude, stop.Longitude)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert stop %d: %w", i, err)
		}
	}

	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
