package venuerepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/yanqian/sunspot/internal/domain/venue"
)

// PostgresRepository implements venue.Repository using pgx. Geometries are
// stored as GeoJSON with a denormalized bounding box for candidate search.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const patioColumns = `id, venue_id, name, polygon, quality_score, height_override, orientation, review_needed, active, timezone, updated_at`

// GetPatio fetches one patio.
func (r *PostgresRepository) GetPatio(ctx context.Context, id string) (venue.Patio, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+patioColumns+` FROM patios WHERE id = $1`, id)
	if err != nil {
		return venue.Patio{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return venue.Patio{}, err
		}
		return venue.Patio{}, venue.ErrPatioNotFound
	}
	patio, err := scanPatio(rows)
	if err != nil {
		return venue.Patio{}, err
	}
	return patio, rows.Err()
}

// ListActivePatios returns active patios ordered by id.
func (r *PostgresRepository) ListActivePatios(ctx context.Context) ([]venue.Patio, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+patioColumns+` FROM patios WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []venue.Patio
	for rows.Next() {
		patio, err := scanPatio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, patio)
	}
	return out, rows.Err()
}

// BuildingsWithin returns buildings whose bounding boxes intersect bound.
func (r *PostgresRepository) BuildingsWithin(ctx context.Context, bound orb.Bound) ([]venue.Building, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, footprint, height, height_source, heights, levels
		FROM buildings
		WHERE max_lon >= $1 AND min_lon <= $3 AND max_lat >= $2 AND min_lat <= $4
		ORDER BY id
	`, bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []venue.Building
	for rows.Next() {
		var (
			b          venue.Building
			footprint  []byte
			height     sql.NullFloat64
			source     sql.NullString
			candidates []byte
			levels     sql.NullInt32
		)
		if err := rows.Scan(&b.ID, &footprint, &height, &source, &candidates, &levels); err != nil {
			return nil, err
		}
		poly, err := decodePolygon(footprint)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", b.ID, err)
		}
		b.Footprint = poly
		b.Height = height.Float64
		b.HeightSource = venue.HeightSource(source.String)
		b.Levels = int(levels.Int32)
		if len(candidates) > 0 {
			if err := json.Unmarshal(candidates, &b.Heights); err != nil {
				return nil, fmt.Errorf("building %s heights: %w", b.ID, err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertPatio stores or replaces a patio.
func (r *PostgresRepository) UpsertPatio(ctx context.Context, p venue.Patio) error {
	polygon, err := encodePolygon(p.Polygon)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO patios (id, venue_id, name, polygon, quality_score, height_override, orientation, review_needed, active, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			venue_id = EXCLUDED.venue_id,
			name = EXCLUDED.name,
			polygon = EXCLUDED.polygon,
			quality_score = EXCLUDED.quality_score,
			height_override = EXCLUDED.height_override,
			orientation = EXCLUDED.orientation,
			review_needed = EXCLUDED.review_needed,
			active = EXCLUDED.active,
			timezone = EXCLUDED.timezone,
			updated_at = now()
	`, p.ID, p.VenueID, p.Name, polygon, p.QualityScore, p.HeightOverride, p.Orientation, p.ReviewNeeded, p.Active, p.Timezone)
	return err
}

// UpsertBuilding stores or replaces a building.
func (r *PostgresRepository) UpsertBuilding(ctx context.Context, b venue.Building) error {
	footprint, err := encodePolygon(b.Footprint)
	if err != nil {
		return err
	}
	candidates, err := json.Marshal(b.Heights)
	if err != nil {
		return err
	}
	bound := b.Bound()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO buildings (id, footprint, height, height_source, heights, levels, min_lon, min_lat, max_lon, max_lat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			footprint = EXCLUDED.footprint,
			height = EXCLUDED.height,
			height_source = EXCLUDED.height_source,
			heights = EXCLUDED.heights,
			levels = EXCLUDED.levels,
			min_lon = EXCLUDED.min_lon,
			min_lat = EXCLUDED.min_lat,
			max_lon = EXCLUDED.max_lon,
			max_lat = EXCLUDED.max_lat
	`, b.ID, footprint, b.Height, string(b.HeightSource), candidates, b.Levels,
		bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	return err
}

func scanPatio(row pgx.Row) (venue.Patio, error) {
	var (
		p           venue.Patio
		polygon     []byte
		override    sql.NullFloat64
		venueID     sql.NullString
		name        sql.NullString
		orientation sql.NullString
		timezone    sql.NullString
		updatedAt   sql.NullTime
	)
	if err := row.Scan(&p.ID, &venueID, &name, &polygon, &p.QualityScore, &override, &orientation, &p.ReviewNeeded, &p.Active, &timezone, &updatedAt); err != nil {
		return venue.Patio{}, err
	}
	poly, err := decodePolygon(polygon)
	if err != nil {
		return venue.Patio{}, fmt.Errorf("patio %s: %w", p.ID, err)
	}
	p.Polygon = poly
	p.VenueID = venueID.String
	p.Name = name.String
	p.Orientation = orientation.String
	p.Timezone = timezone.String
	if override.Valid {
		h := override.Float64
		p.HeightOverride = &h
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time.UTC()
	}
	return p, nil
}

func encodePolygon(poly orb.Polygon) ([]byte, error) {
	return geojson.NewGeometry(poly).MarshalJSON()
}

var errNotPolygon = errors.New("geometry is not a polygon")

func decodePolygon(data []byte) (orb.Polygon, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return nil, errNotPolygon
	}
	return poly, nil
}

var _ venue.Repository = (*PostgresRepository)(nil)
