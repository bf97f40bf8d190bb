package solar

import (
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// horizonElevation is the geometric elevation of the sun's upper limb at
// sunrise, including standard refraction.
const horizonElevation = -0.833

// Daylight holds sunrise and sunset for one calendar date.
type Daylight struct {
	Sunrise    time.Time `json:"sunrise,omitempty"`
	Sunset     time.Time `json:"sunset,omitempty"`
	PolarDay   bool      `json:"polarDay,omitempty"`
	PolarNight bool      `json:"polarNight,omitempty"`
}

// DaylightBounds returns sunrise and sunset (UTC) for the given date. When the
// sun never crosses the horizon it reports polar day or polar night instead.
func DaylightBounds(obs Observer, date time.Time) Daylight {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	noon := day.Add(12*time.Hour - time.Duration(obs.Longitude/15*float64(time.Hour)))
	high := Compute(obs, noon).TrueElevation
	low := Compute(obs, noon.Add(12*time.Hour)).TrueElevation
	if low > horizonElevation {
		return Daylight{PolarDay: true}
	}
	if high <= horizonElevation {
		return Daylight{PolarNight: true}
	}

	observer := astral.Observer{Latitude: obs.Latitude, Longitude: obs.Longitude}
	sunrise, riseErr := astral.Sunrise(observer, day)
	sunset, setErr := astral.Sunset(observer, day)
	if riseErr != nil || setErr != nil {
		if high > 0 {
			return Daylight{PolarDay: true}
		}
		return Daylight{PolarNight: true}
	}
	return Daylight{Sunrise: sunrise.UTC(), Sunset: sunset.UTC()}
}
