// Package solar computes apparent sun positions from the NOAA solar equations.
package solar

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// Observer is a point on the ground.
type Observer struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Altitude above sea level in meters; thins the air used for refraction.
	Altitude float64 `json:"altitude"`
}

// Position is the sun as seen by an observer at one instant.
type Position struct {
	// Elevation is the refraction-corrected angle above the horizon in degrees.
	Elevation float64 `json:"elevation"`
	// Azimuth is measured clockwise from true north in degrees, [0,360).
	Azimuth float64 `json:"azimuth"`
	// TrueElevation is the geometric elevation before refraction.
	TrueElevation float64 `json:"trueElevation"`
	Visible       bool    `json:"visible"`
}

// Calculator returns sun positions.
type Calculator interface {
	Position(obs Observer, at time.Time) Position
}

// NOAACalculator evaluates Compute without caching.
type NOAACalculator struct{}

// NewCalculator constructs the uncached calculator.
func NewCalculator() NOAACalculator {
	return NOAACalculator{}
}

// Position implements Calculator.
func (NOAACalculator) Position(obs Observer, at time.Time) Position {
	return Compute(obs, at)
}

const scaleHeight = 8434.5 // meters, isothermal atmosphere

// Compute returns the apparent sun position. It never fails: polar inputs
// simply yield a sun that stays below (or above) the horizon.
func Compute(obs Observer, at time.Time) Position {
	t := at.UTC()
	jd := julian.TimeToJD(t)
	T := (jd - 2451545.0) / 36525.0

	l0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032))
	m := 357.52911 + T*(35999.05029-0.0001537*T)
	e := 0.016708634 - T*(0.000042037+0.0000001267*T)
	mRad := degToRad(m)
	center := math.Sin(mRad)*(1.914602-T*(0.004817+0.000014*T)) +
		math.Sin(2*mRad)*(0.019993-0.000101*T) +
		math.Sin(3*mRad)*0.000289
	trueLong := l0 + center
	omega := degToRad(125.04 - 1934.136*T)
	apparentLong := trueLong - 0.00569 - 0.00478*math.Sin(omega)

	meanObliquity := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60
	obliquity := degToRad(meanObliquity + 0.00256*math.Cos(omega))
	decl := math.Asin(math.Sin(obliquity) * math.Sin(degToRad(apparentLong)))

	y := math.Tan(obliquity / 2)
	y *= y
	l0Rad := degToRad(l0)
	eqTime := 4 * radToDeg(y*math.Sin(2*l0Rad)-
		2*e*math.Sin(mRad)+
		4*e*y*math.Sin(mRad)*math.Cos(2*l0Rad)-
		0.5*y*y*math.Sin(4*l0Rad)-
		1.25*e*e*math.Sin(2*mRad))

	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	minutes := t.Sub(midnight).Minutes()
	trueSolarTime := math.Mod(minutes+eqTime+4*obs.Longitude, 1440)
	if trueSolarTime < 0 {
		trueSolarTime += 1440
	}
	hourAngle := trueSolarTime/4 - 180

	lat := degToRad(clamp(obs.Latitude, -90, 90))
	cosZenith := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(degToRad(hourAngle))
	cosZenith = clamp(cosZenith, -1, 1)
	zenith := math.Acos(cosZenith)
	trueElevation := 90 - radToDeg(zenith)

	azimuth := solarAzimuth(lat, decl, zenith, hourAngle)

	refraction := refractionCorrection(trueElevation) * math.Exp(-math.Max(obs.Altitude, 0)/scaleHeight)
	elevation := trueElevation + refraction

	return Position{
		Elevation:     elevation,
		Azimuth:       azimuth,
		TrueElevation: trueElevation,
		Visible:       elevation > 0,
	}
}

func solarAzimuth(lat, decl, zenith, hourAngle float64) float64 {
	denom := math.Cos(lat) * math.Sin(zenith)
	if math.Abs(denom) < 1e-12 {
		// at a pole or with the sun at zenith the azimuth is undefined
		if lat > decl {
			return 180
		}
		return 0
	}
	cosAz := clamp((math.Sin(lat)*math.Cos(zenith)-math.Sin(decl))/denom, -1, 1)
	az := radToDeg(math.Acos(cosAz))
	if hourAngle > 0 {
		return fixAngle(az + 180)
	}
	return fixAngle(540 - az)
}

// refractionCorrection returns the NOAA atmospheric refraction estimate in degrees.
func refractionCorrection(elevation float64) float64 {
	if elevation > 85 {
		return 0
	}
	tanE := math.Tan(degToRad(elevation))
	var arcsec float64
	switch {
	case elevation > 5:
		arcsec = 58.1/tanE - 0.07/math.Pow(tanE, 3) + 0.000086/math.Pow(tanE, 5)
	case elevation > -0.575:
		arcsec = 1735 + elevation*(-518.2+elevation*(103.4+elevation*(-12.79+elevation*0.711)))
	default:
		arcsec = -20.772 / tanE
	}
	return arcsec / 3600
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

func fixAngle(a float64) float64 { return a - 360.0*math.Floor(a/360.0) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
