package confidence

import (
	"math"
	"time"

	"github.com/yanqian/sunspot/internal/domain/venue"
)

// Config holds the blend weights, decay and caps.
type Config struct {
	GeometryWeight float64 `yaml:"geometryWeight"`
	WeatherWeight  float64 `yaml:"weatherWeight"`
	// NowcastHorizon is how far ahead weather still counts as observed.
	NowcastHorizon time.Duration `yaml:"nowcastHorizon"`
	// DecayHorizon is where forecast certainty reaches MinDecayFactor.
	DecayHorizon   time.Duration `yaml:"decayHorizon"`
	MinDecayFactor float64       `yaml:"minDecayFactor"`
	ForecastCap    float64       `yaml:"forecastCap"`
	DegradedCap    float64       `yaml:"degradedCap"`
}

// DefaultConfig returns the production weighting.
func DefaultConfig() Config {
	return Config{
		GeometryWeight: 0.6,
		WeatherWeight:  0.4,
		NowcastHorizon: 2 * time.Hour,
		DecayHorizon:   72 * time.Hour,
		MinDecayFactor: 0.3,
		ForecastCap:    90,
		DegradedCap:    60,
	}
}

// SourceWeight is the geometry trust placed in a height source.
func SourceWeight(s venue.HeightSource) float64 {
	switch s {
	case venue.HeightSourceSurveyed:
		return 1.0
	case venue.HeightSourceOsm:
		return 0.7
	default:
		return 0.4
	}
}

// Weather is the weather evidence behind one prediction.
type Weather struct {
	Certainty float64
	// Lead is how far the predicted instant lies beyond the time of the request.
	Lead       time.Duration
	IsForecast bool
	// Estimated marks climatological fill-in when no provider answered.
	Estimated bool
}

// Input is everything a confidence score depends on.
type Input struct {
	PatioQuality float64
	HeightSource venue.HeightSource
	// Weather is nil when no weather data exists at all.
	Weather *Weather
}

// Score is a bounded confidence with its components.
type Score struct {
	Value           float64 `json:"confidence"`
	GeometryQuality float64 `json:"geometryQuality"`
	CloudCertainty  float64 `json:"cloudCertainty"`
	Cap             float64 `json:"cap,omitempty"`
}

// Calculator is a pure function of its inputs.
type Calculator struct {
	cfg Config
}

// NewCalculator constructs the calculator, filling zero fields from DefaultConfig.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.GeometryWeight == 0 && cfg.WeatherWeight == 0 {
		cfg.GeometryWeight, cfg.WeatherWeight = def.GeometryWeight, def.WeatherWeight
	}
	if cfg.NowcastHorizon <= 0 {
		cfg.NowcastHorizon = def.NowcastHorizon
	}
	if cfg.DecayHorizon <= cfg.NowcastHorizon {
		cfg.DecayHorizon = cfg.NowcastHorizon + def.DecayHorizon
	}
	if cfg.MinDecayFactor <= 0 || cfg.MinDecayFactor > 1 {
		cfg.MinDecayFactor = def.MinDecayFactor
	}
	if cfg.ForecastCap <= 0 {
		cfg.ForecastCap = def.ForecastCap
	}
	if cfg.DegradedCap <= 0 {
		cfg.DegradedCap = def.DegradedCap
	}
	return &Calculator{cfg: cfg}
}

// NowcastHorizon exposes the observed/forecast boundary.
func (c *Calculator) NowcastHorizon() time.Duration {
	return c.cfg.NowcastHorizon
}

// Compute blends geometry quality and cloud certainty into [0,100] and applies caps.
func (c *Calculator) Compute(in Input) Score {
	geometry := clamp01(in.PatioQuality) * SourceWeight(in.HeightSource)

	var cloud float64
	if in.Weather != nil {
		cloud = clamp01(in.Weather.Certainty) * c.decay(in.Weather.Lead)
	}

	value := 100 * (c.cfg.GeometryWeight*geometry + c.cfg.WeatherWeight*cloud)
	if math.IsNaN(value) {
		value = 0
	}
	value = math.Max(0, math.Min(100, value))

	limit := 100.0
	if c.forecastOnly(in.Weather) {
		limit = math.Min(limit, c.cfg.ForecastCap)
	}
	if in.HeightSource == venue.HeightSourceHeuristic || !in.HeightSource.Valid() || in.Weather == nil || in.Weather.Estimated {
		limit = math.Min(limit, c.cfg.DegradedCap)
	}

	score := Score{Value: math.Min(value, limit), GeometryQuality: geometry, CloudCertainty: cloud}
	if limit < 100 {
		score.Cap = limit
	}
	return score
}

func (c *Calculator) forecastOnly(w *Weather) bool {
	if w == nil {
		return false
	}
	return w.IsForecast || w.Lead > c.cfg.NowcastHorizon
}

// decay keeps certainty within the nowcast horizon and fades it linearly to
// MinDecayFactor at DecayHorizon.
func (c *Calculator) decay(lead time.Duration) float64 {
	if lead <= c.cfg.NowcastHorizon {
		return 1
	}
	span := float64(c.cfg.DecayHorizon - c.cfg.NowcastHorizon)
	progress := float64(lead-c.cfg.NowcastHorizon) / span
	return math.Max(c.cfg.MinDecayFactor, 1-(1-c.cfg.MinDecayFactor)*progress)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
