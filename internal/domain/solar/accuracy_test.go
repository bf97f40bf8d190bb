package solar

import (
	"math"
	"testing"
	"time"

	"github.com/sj14/astral/pkg/astral"
	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	meeussolar "github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"
	"github.com/stretchr/testify/require"
)

var (
	gridLatitudes  = []float64{-66.5, -45, -23.44, 0, 23.44, 45, 57.7089, 66.5, 78}
	gridLongitudes = []float64{-122.42, -0.13, 11.9746, 151.21}
	gridDates      = []time.Time{
		time.Date(2021, time.November, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.September, 22, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.December, 21, 0, 0, 0, 0, time.UTC),
		time.Date(2030, time.February, 14, 0, 0, 0, 0, time.UTC),
	}
)

func azimuthDelta(a, b float64) float64 {
	return math.Mod(a-b+540, 360) - 180
}

// astral builds its Julian century from whole hours only, so the grid stays on the hour.
func TestPositionMatchesReferenceEphemerisGrid(t *testing.T) {
	for _, lat := range gridLatitudes {
		for _, lon := range gridLongitudes {
			for _, day := range gridDates {
				for hour := 0; hour < 24; hour++ {
					at := day.Add(time.Duration(hour) * time.Hour)
					got := Compute(Observer{Latitude: lat, Longitude: lon}, at)
					obs := astral.Observer{Latitude: lat, Longitude: lon}

					want := astral.Elevation(obs, at, true)
					require.InDelta(t, want, got.Elevation, 0.01, "lat=%v lon=%v at=%s", lat, lon, at)
					if math.Abs(got.TrueElevation) < 85 {
						require.InDelta(t, 0, azimuthDelta(astral.Azimuth(obs, at), got.Azimuth), 0.01, "lat=%v lon=%v at=%s", lat, lon, at)
					}
				}
			}
		}
	}
}

// Meeus' low-accuracy solar series is itself good to about 0.01°, so the two
// independent approximations may differ by up to twice that.
func TestTrueElevationAgreesWithMeeusSeries(t *testing.T) {
	for _, lat := range gridLatitudes {
		for _, lon := range gridLongitudes {
			for _, day := range gridDates {
				for minute := 0; minute < 24*60; minute += 37 {
					at := day.Add(time.Duration(minute) * time.Minute)
					got := Compute(Observer{Latitude: lat, Longitude: lon}, at)

					jd := julian.TimeToJD(at)
					ra, dec := meeussolar.ApparentEquatorial(jd)
					_, h := coord.EqToHz(ra, dec, unit.AngleFromDeg(lat), unit.AngleFromDeg(-lon), sidereal.Apparent(jd))

					require.InDelta(t, h.Deg(), got.TrueElevation, 0.02, "lat=%v lon=%v at=%s", lat, lon, at)
				}
			}
		}
	}
}
