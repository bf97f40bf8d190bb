package windowrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/timeline"
)

// ErrRunNotOwned is returned when completing a run another instance has taken over.
var ErrRunNotOwned = errors.New("job run owned by another instance")

// PostgresWindowRepository persists materialized windows in sun_windows.
type PostgresWindowRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWindowRepository constructs the repository.
func NewPostgresWindowRepository(pool *pgxpool.Pool) *PostgresWindowRepository {
	return &PostgresWindowRepository{pool: pool}
}

// ReplaceWindows deletes and reinserts a patio's windows for date in one transaction.
func (r *PostgresWindowRepository) ReplaceWindows(ctx context.Context, patioID, date string, windows []timeline.Window) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM sun_windows WHERE patio_id = $1 AND local_date = $2`, patioID, date); err != nil {
		return err
	}
	for _, w := range windows {
		payload, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("encode window: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO sun_windows (patio_id, local_date, start_utc, end_utc, quality, is_recommended, priority_score, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, patioID, date, w.Start.UTC(), w.End.UTC(), string(w.Quality), w.IsRecommended, w.PriorityScore, payload); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListWindows returns one patio's windows for date.
func (r *PostgresWindowRepository) ListWindows(ctx context.Context, patioID, date string) ([]timeline.Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM sun_windows
		WHERE patio_id = $1 AND local_date = $2
		ORDER BY start_utc
	`, patioID, date)
	if err != nil {
		return nil, err
	}
	return scanWindows(rows)
}

// ListWindowsByDate returns every patio's windows for date.
func (r *PostgresWindowRepository) ListWindowsByDate(ctx context.Context, date string) ([]timeline.Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM sun_windows
		WHERE local_date = $1
		ORDER BY patio_id, start_utc
	`, date)
	if err != nil {
		return nil, err
	}
	return scanWindows(rows)
}

func scanWindows(rows pgx.Rows) ([]timeline.Window, error) {
	defer rows.Close()
	var out []timeline.Window
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var w timeline.Window
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// PostgresJobRunRepository persists daily runs in job_runs, one row per run date.
type PostgresJobRunRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresJobRunRepository constructs the repository.
func NewPostgresJobRunRepository(pool *pgxpool.Pool) *PostgresJobRunRepository {
	return &PostgresJobRunRepository{pool: pool}
}

const jobRunColumns = `id, run_date, status, started_at, finished_at, succeeded, failed, error`

// ClaimRun inserts the run or takes over a failed or stale one. The upsert
// only fires when the existing row is claimable, so concurrent instances
// cannot both own a date.
func (r *PostgresJobRunRepository) ClaimRun(ctx context.Context, run precompute.JobRun, staleAfter time.Duration) (precompute.JobRun, bool, error) {
	staleBefore := run.StartedAt.Add(-staleAfter)
	row := r.pool.QueryRow(ctx, `
		INSERT INTO job_runs (id, run_date, status, started_at, succeeded, failed, error)
		VALUES ($1, $2, $3, $4, 0, 0, '')
		ON CONFLICT (run_date) DO UPDATE SET
			id = EXCLUDED.id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			finished_at = NULL,
			succeeded = 0,
			failed = 0,
			error = ''
		WHERE job_runs.status = 'failed'
			OR (job_runs.status = 'running' AND $5::boolean AND job_runs.started_at < $6)
		RETURNING `+jobRunColumns,
		run.ID, run.RunDate, string(run.Status), run.StartedAt.UTC(), staleAfter > 0, staleBefore.UTC())
	claimed, err := scanRun(row)
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return precompute.JobRun{}, false, err
	}

	existing, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+jobRunColumns+` FROM job_runs WHERE run_date = $1`, run.RunDate))
	if err != nil {
		return precompute.JobRun{}, false, err
	}
	return existing, false, nil
}

// CompleteRun records the final state of a run this instance owns.
func (r *PostgresJobRunRepository) CompleteRun(ctx context.Context, run precompute.JobRun) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = $1, finished_at = $2, succeeded = $3, failed = $4, error = $5
		WHERE run_date = $6 AND id = $7
	`, string(run.Status), run.FinishedAt.UTC(), run.Succeeded, run.Failed, run.Error, run.RunDate, run.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotOwned
	}
	return nil
}

// LatestRun returns the most recently started run.
func (r *PostgresJobRunRepository) LatestRun(ctx context.Context) (precompute.JobRun, bool, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+jobRunColumns+` FROM job_runs ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return precompute.JobRun{}, false, nil
		}
		return precompute.JobRun{}, false, err
	}
	return run, true, nil
}

func scanRun(row pgx.Row) (precompute.JobRun, error) {
	var (
		run      precompute.JobRun
		status   string
		finished *time.Time
	)
	if err := row.Scan(&run.ID, &run.RunDate, &status, &run.StartedAt, &finished, &run.Succeeded, &run.Failed, &run.Error); err != nil {
		return precompute.JobRun{}, err
	}
	run.Status = precompute.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if finished != nil {
		run.FinishedAt = finished.UTC()
	}
	return run, nil
}

var (
	_ precompute.WindowRepository = (*PostgresWindowRepository)(nil)
	_ precompute.JobRunRepository = (*PostgresJobRunRepository)(nil)
)
