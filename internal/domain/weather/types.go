package weather

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Slice is one immutable cloud observation or forecast for a grid cell.
type Slice struct {
	CellID     string    `json:"cellId"`
	Timestamp  time.Time `json:"timestamp"`
	CloudCover float64   `json:"cloudCover"`
	Certainty  float64   `json:"certainty"`
	Source     string    `json:"source"`
	IsForecast bool      `json:"isForecast"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Cell is a 0.1 degree weather grid cell.
type Cell struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

const cellSize = 0.1

// CellFor snaps a location to its grid cell center.
func CellFor(lat, lon float64) Cell {
	row := int(math.Floor(lat / cellSize))
	col := int(math.Floor(lon / cellSize))
	return Cell{
		ID:        fmt.Sprintf("%d:%d", row, col),
		Latitude:  (float64(row) + 0.5) * cellSize,
		Longitude: (float64(col) + 0.5) * cellSize,
	}
}

// Store is the append-only slice log.
type Store interface {
	Append(ctx context.Context, slices []Slice) error
	Range(ctx context.Context, cellID string, from, to time.Time) ([]Slice, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Provider fetches slices from an upstream weather source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, cell Cell, from, to time.Time) ([]Slice, error)
}

// Mode describes where a series came from.
type Mode string

const (
	ModeStored    Mode = "stored"
	ModeLive      Mode = "live"
	ModeEstimated Mode = "estimated"
)

// Series is the weather fetched once for a request and reused for every tick.
type Series struct {
	Cell   Cell     `json:"cell"`
	Mode   Mode     `json:"mode"`
	Slices []Slice  `json:"slices"`
	Notes  []string `json:"notes,omitempty"`
	// MaxAge bounds how stale the latest slice at or before a tick may be.
	MaxAge    time.Duration `json:"-"`
	estimated Slice
}

// Degraded reports that every provider failed and values are estimated.
func (s Series) Degraded() bool {
	return s.Mode == ModeEstimated
}

// At returns the latest slice at or before t. Estimated series always answer
// with the climatological fill-in; other series answer false when nothing
// recent enough exists.
func (s Series) At(t time.Time) (Slice, bool) {
	if s.Mode == ModeEstimated {
		est := s.estimated
		est.Timestamp = t
		return est, true
	}
	idx := sort.Search(len(s.Slices), func(i int) bool {
		return s.Slices[i].Timestamp.After(t)
	})
	if idx == 0 {
		return Slice{}, false
	}
	slice := s.Slices[idx-1]
	if s.MaxAge > 0 && t.Sub(slice.Timestamp) > s.MaxAge {
		return Slice{}, false
	}
	return slice, true
}

// sortSlices orders by timestamp; among equal timestamps the latest fetch wins.
func sortSlices(slices []Slice) []Slice {
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].Timestamp.Before(slices[j].Timestamp)
	})
	out := slices[:0]
	for _, s := range slices {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(s.Timestamp) {
			if !s.FetchedAt.Before(out[n-1].FetchedAt) {
				out[n-1] = s
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
