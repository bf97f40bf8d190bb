package venue

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
)

// ErrPatioNotFound is returned when a patio id does not resolve.
var ErrPatioNotFound = errors.New("patio not found")

// PatioRepository exposes read access to patios.
type PatioRepository interface {
	GetPatio(ctx context.Context, id string) (Patio, error)
	ListActivePatios(ctx context.Context) ([]Patio, error)
}

// BuildingRepository answers spatial candidate queries.
type BuildingRepository interface {
	BuildingsWithin(ctx context.Context, bound orb.Bound) ([]Building, error)
}

// Repository bundles both read paths.
type Repository interface {
	PatioRepository
	BuildingRepository
}
