package timeline

import "time"

// PriorityWeights blend window attributes into a priority score.
type PriorityWeights struct {
	Duration   float64 `yaml:"duration"`
	Exposure   float64 `yaml:"exposure"`
	Confidence float64 `yaml:"confidence"`
	Recency    float64 `yaml:"recency"`
}

// WindowPolicy controls how lit runs become windows.
type WindowPolicy struct {
	MinDuration time.Duration `yaml:"minDuration"`
	// MergeGap joins windows separated by at most this much.
	MergeGap          time.Duration   `yaml:"mergeGap"`
	RecommendCloudMax float64         `yaml:"recommendCloudMax"`
	MaxDurationCredit time.Duration   `yaml:"maxDurationCredit"`
	RecencyHorizon    time.Duration   `yaml:"recencyHorizon"`
	Weights           PriorityWeights `yaml:"weights"`
}

// Config holds request bounds and evaluation knobs.
type Config struct {
	DefaultResolution time.Duration
	MinResolution     time.Duration
	MaxRange          time.Duration
	MaxBatch          int
	Workers           int
	LiveCacheTTL      time.Duration
	DefaultTimezone   string
	// PrecomputedResolution is the resolution day schedules are cached at.
	PrecomputedResolution time.Duration
	// InterpolationFactor bounds bracketing points to this many precomputed steps apart.
	InterpolationFactor int
	Windows             WindowPolicy
}

// DefaultWindowPolicy returns production window rules.
func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{
		MinDuration:       30 * time.Minute,
		RecommendCloudMax: 0.6,
		MaxDurationCredit: 180 * time.Minute,
		RecencyHorizon:    24 * time.Hour,
		Weights: PriorityWeights{
			Duration:   0.3,
			Exposure:   0.35,
			Confidence: 0.25,
			Recency:    0.1,
		},
	}
}

// DefaultConfig returns production request bounds.
func DefaultConfig() Config {
	return Config{
		DefaultResolution:     10 * time.Minute,
		MinResolution:         time.Minute,
		MaxRange:              48 * time.Hour,
		MaxBatch:              100,
		Workers:               8,
		LiveCacheTTL:          10 * time.Minute,
		DefaultTimezone:       "Europe/Stockholm",
		PrecomputedResolution: 10 * time.Minute,
		InterpolationFactor:   2,
		Windows:               DefaultWindowPolicy(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultResolution <= 0 {
		c.DefaultResolution = def.DefaultResolution
	}
	if c.MinResolution <= 0 {
		c.MinResolution = def.MinResolution
	}
	if c.MaxRange <= 0 {
		c.MaxRange = def.MaxRange
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = def.MaxBatch
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.LiveCacheTTL <= 0 {
		c.LiveCacheTTL = def.LiveCacheTTL
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = def.DefaultTimezone
	}
	if c.PrecomputedResolution <= 0 {
		c.PrecomputedResolution = def.PrecomputedResolution
	}
	if c.InterpolationFactor <= 0 {
		c.InterpolationFactor = def.InterpolationFactor
	}
	if c.Windows.MinDuration <= 0 {
		c.Windows.MinDuration = def.Windows.MinDuration
	}
	if c.Windows.RecommendCloudMax <= 0 {
		c.Windows.RecommendCloudMax = def.Windows.RecommendCloudMax
	}
	if c.Windows.MaxDurationCredit <= 0 {
		c.Windows.MaxDurationCredit = def.Windows.MaxDurationCredit
	}
	if c.Windows.RecencyHorizon <= 0 {
		c.Windows.RecencyHorizon = def.Windows.RecencyHorizon
	}
	if c.Windows.Weights == (PriorityWeights{}) {
		c.Windows.Weights = def.Windows.Weights
	}
	return c
}
