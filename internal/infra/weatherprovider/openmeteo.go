package weatherprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/yanqian/sunspot/internal/domain/weather"
	"github.com/yanqian/sunspot/pkg/util"
)

const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteoProvider fetches hourly cloud cover from Open-Meteo.
type OpenMeteoProvider struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	clock   util.Clock
}

// NewOpenMeteoProvider constructs the primary provider.
func NewOpenMeteoProvider(baseURL string, httpCfg HTTPClientConfig, clock util.Clock) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com/v1/forecast"
	}
	if clock == nil {
		clock = util.NowUTC
	}
	return &OpenMeteoProvider{
		baseURL: baseURL,
		httpCfg: httpCfg,
		circuit: newBreaker("openmeteo"),
		clock:   clock,
	}
}

// Name implements weather.Provider.
func (p *OpenMeteoProvider) Name() string {
	return "openmeteo"
}

// Fetch implements weather.Provider.
func (p *OpenMeteoProvider) Fetch(ctx context.Context, cell weather.Cell, from, to time.Time) ([]weather.Slice, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(cell.Latitude, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(cell.Longitude, 'f', 4, 64))
		values.Set("hourly", "cloud_cover")
		values.Set("timezone", "UTC")
		values.Set("start_date", from.UTC().Format(util.DateLayout))
		values.Set("end_date", to.UTC().Format(util.DateLayout))
		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doWithResilience(ctx, p.httpCfg, p.circuit, build)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Hourly struct {
			Time       []string   `json:"time"`
			CloudCover []*float64 `json:"cloud_cover"`
		} `json:"hourly"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode openmeteo response: %w", err)
	}
	if len(payload.Hourly.Time) != len(payload.Hourly.CloudCover) {
		return nil, fmt.Errorf("openmeteo returned %d times and %d cloud values", len(payload.Hourly.Time), len(payload.Hourly.CloudCover))
	}

	fetchedAt := p.clock()
	var out []weather.Slice
	for i, raw := range payload.Hourly.Time {
		ts, err := time.ParseInLocation(openMeteoTimeLayout, raw, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse openmeteo time %q: %w", raw, err)
		}
		cover := payload.Hourly.CloudCover[i]
		if cover == nil || ts.Before(from.Truncate(time.Hour)) || ts.After(to) {
			continue
		}
		out = append(out, newSlice(cell, ts, *cover/100, p.Name(), fetchedAt, 0.8))
	}
	return out, nil
}

// newSlice tags a slice as forecast when it lies after the fetch instant.
// Observed hours carry a higher certainty than the provider's forecast certainty.
func newSlice(cell weather.Cell, ts time.Time, cloud float64, source string, fetchedAt time.Time, forecastCertainty float64) weather.Slice {
	forecast := ts.After(fetchedAt)
	certainty := 0.95
	if forecast {
		certainty = forecastCertainty
	}
	return weather.Slice{
		CellID:     cell.ID,
		Timestamp:  ts.UTC(),
		CloudCover: clamp01(cloud),
		Certainty:  certainty,
		Source:     source,
		IsForecast: forecast,
		FetchedAt:  fetchedAt,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var _ weather.Provider = (*OpenMeteoProvider)(nil)
