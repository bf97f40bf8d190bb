package exposure

import (
	"fmt"
	"math"

	"github.com/yanqian/sunspot/internal/domain/solar"
)

// State is the discrete sun exposure of a patio.
type State string

const (
	StateNoSun   State = "no_sun"
	StateShaded  State = "shaded"
	StatePartial State = "partial"
	StateSunny   State = "sunny"
)

// Rank orders states from darkest to sunniest.
func (s State) Rank() int {
	switch s {
	case StateSunny:
		return 3
	case StatePartial:
		return 2
	case StateShaded:
		return 1
	default:
		return 0
	}
}

// Lit reports whether the state counts towards a sun window.
func (s State) Lit() bool {
	return s == StateSunny || s == StatePartial
}

// Thresholds split the shaded fraction into states.
type Thresholds struct {
	// SunnyBelow: fractions strictly below are Sunny.
	SunnyBelow float64 `yaml:"sunnyBelow"`
	// ShadedAtOrAbove: fractions at or above are Shaded.
	ShadedAtOrAbove float64 `yaml:"shadedAtOrAbove"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{SunnyBelow: 0.25, ShadedAtOrAbove: 0.75}
}

// Validate keeps the mapping monotonic.
func (t Thresholds) Validate() error {
	if t.SunnyBelow < 0 || t.ShadedAtOrAbove > 1 || t.SunnyBelow > t.ShadedAtOrAbove {
		return fmt.Errorf("exposure thresholds must satisfy 0 <= sunnyBelow (%v) <= shadedAtOrAbove (%v) <= 1", t.SunnyBelow, t.ShadedAtOrAbove)
	}
	return nil
}

// Assessment is the classified exposure for one instant.
type Assessment struct {
	State           State   `json:"state"`
	ExposurePercent float64 `json:"sunExposurePercent"`
	ShadedFraction  float64 `json:"shadedFraction"`
	Visible         bool    `json:"isSunVisible"`
}

// Service classifies shaded fractions.
type Service struct {
	thresholds Thresholds
}

// NewService validates the thresholds.
func NewService(t Thresholds) (*Service, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Service{thresholds: t}, nil
}

// Thresholds returns the active thresholds.
func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// Classify maps a shaded fraction and sun position onto an exposure state.
func (s *Service) Classify(shadedFraction float64, pos solar.Position) Assessment {
	if pos.Elevation <= 0 {
		return Assessment{State: StateNoSun, ShadedFraction: 1}
	}
	f := shadedFraction
	if math.IsNaN(f) {
		f = 1
	}
	f = math.Max(0, math.Min(1, f))
	return Assessment{
		State:           s.stateFor(f),
		ExposurePercent: 100 * (1 - f),
		ShadedFraction:  f,
		Visible:         true,
	}
}

func (s *Service) stateFor(f float64) State {
	switch {
	case f >= s.thresholds.ShadedAtOrAbove:
		return StateShaded
	case f < s.thresholds.SunnyBelow:
		return StateSunny
	default:
		return StatePartial
	}
}
