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

// MetNoProvider fetches cloud area fraction from the MET Norway locationforecast API.
// MET Norway rejects requests without an identifying User-Agent.
type MetNoProvider struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	clock   util.Clock
}

// NewMetNoProvider constructs the secondary provider.
func NewMetNoProvider(baseURL string, httpCfg HTTPClientConfig, clock util.Clock) *MetNoProvider {
	if baseURL == "" {
		baseURL = "https://api.met.no/weatherapi/locationforecast/2.0/compact"
	}
	if httpCfg.UserAgent == "" {
		httpCfg.UserAgent = "sunspot/1.0"
	}
	if clock == nil {
		clock = util.NowUTC
	}
	return &MetNoProvider{
		baseURL: baseURL,
		httpCfg: httpCfg,
		circuit: newBreaker("metno"),
		clock:   clock,
	}
}

// Name implements weather.Provider.
func (p *MetNoProvider) Name() string {
	return "metno"
}

// Fetch implements weather.Provider.
func (p *MetNoProvider) Fetch(ctx context.Context, cell weather.Cell, from, to time.Time) ([]weather.Slice, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(cell.Latitude, 'f', 4, 64))
		values.Set("lon", strconv.FormatFloat(cell.Longitude, 'f', 4, 64))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doWithResilience(ctx, p.httpCfg, p.circuit, build)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Properties struct {
			Timeseries []struct {
				Time time.Time `json:"time"`
				Data struct {
					Instant struct {
						Details struct {
							CloudAreaFraction *float64 `json:"cloud_area_fraction"`
						} `json:"details"`
					} `json:"instant"`
				} `json:"data"`
			} `json:"timeseries"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode metno response: %w", err)
	}

	fetchedAt := p.clock()
	var out []weather.Slice
	for _, entry := range payload.Properties.Timeseries {
		cover := entry.Data.Instant.Details.CloudAreaFraction
		ts := entry.Time.UTC()
		if cover == nil || ts.Before(from.Truncate(time.Hour)) || ts.After(to) {
			continue
		}
		out = append(out, newSlice(cell, ts, *cover/100, p.Name(), fetchedAt, 0.75))
	}
	return out, nil
}

var _ weather.Provider = (*MetNoProvider)(nil)
