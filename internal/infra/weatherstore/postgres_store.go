package weatherstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/sunspot/internal/domain/weather"
)

// PostgresStore persists weather slices in an append-only table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts slices in one batch.
func (s *PostgresStore) Append(ctx context.Context, slices []weather.Slice) error {
	if len(slices) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sl := range slices {
		batch.Queue(`
			INSERT INTO weather_slices (cell_id, ts, cloud_cover, certainty, source, is_forecast, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sl.CellID, sl.Timestamp.UTC(), sl.CloudCover, sl.Certainty, sl.Source, sl.IsForecast, sl.FetchedAt.UTC())
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// Range returns a cell's slices with timestamps in [from, to].
func (s *PostgresStore) Range(ctx context.Context, cellID string, from, to time.Time) ([]weather.Slice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cell_id, ts, cloud_cover, certainty, source, is_forecast, fetched_at
		FROM weather_slices
		WHERE cell_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts, fetched_at
	`, cellID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []weather.Slice
	for rows.Next() {
		var sl weather.Slice
		if err := rows.Scan(&sl.CellID, &sl.Timestamp, &sl.CloudCover, &sl.Certainty, &sl.Source, &sl.IsForecast, &sl.FetchedAt); err != nil {
			return nil, err
		}
		sl.Timestamp = sl.Timestamp.UTC()
		sl.FetchedAt = sl.FetchedAt.UTC()
		out = append(out, sl)
	}
	return out, rows.Err()
}

// Prune deletes slices older than before.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM weather_slices WHERE ts < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ weather.Store = (*PostgresStore)(nil)
