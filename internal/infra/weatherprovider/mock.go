package weatherprovider

import (
	"context"
	"math"
	"time"

	"github.com/yanqian/sunspot/internal/domain/weather"
	"github.com/yanqian/sunspot/pkg/util"
)

// MockProvider produces deterministic hourly cloud cover: a base value with a
// gentle diurnal swing. The same inputs always produce the same slices.
type MockProvider struct {
	base      float64
	certainty float64
	clock     util.Clock
}

// NewMockProvider constructs the mock.
func NewMockProvider(base, certainty float64, clock util.Clock) *MockProvider {
	if clock == nil {
		clock = util.NowUTC
	}
	return &MockProvider{base: clamp01(base), certainty: clamp01(certainty), clock: clock}
}

// Name implements weather.Provider.
func (p *MockProvider) Name() string {
	return "mock"
}

// Fetch implements weather.Provider.
func (p *MockProvider) Fetch(ctx context.Context, cell weather.Cell, from, to time.Time) ([]weather.Slice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fetchedAt := p.clock()
	var out []weather.Slice
	for ts := from.UTC().Truncate(time.Hour); !ts.After(to); ts = ts.Add(time.Hour) {
		swing := 0.1 * math.Sin(2*math.Pi*float64(ts.Hour())/24)
		out = append(out, weather.Slice{
			CellID:     cell.ID,
			Timestamp:  ts,
			CloudCover: clamp01(p.base + swing),
			Certainty:  p.certainty,
			Source:     p.Name(),
			IsForecast: ts.After(fetchedAt),
			FetchedAt:  fetchedAt,
		})
	}
	return out, nil
}

var _ weather.Provider = (*MockProvider)(nil)
