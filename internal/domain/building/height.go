package building

import (
	"math"

	"github.com/yanqian/sunspot/internal/domain/venue"
)

// Config bounds the heuristic fallback.
type Config struct {
	DefaultHeight  float64
	MetersPerLevel float64
	MinHeuristic   float64
	MaxHeuristic   float64
}

// DefaultConfig returns the production heuristic bounds.
func DefaultConfig() Config {
	return Config{
		DefaultHeight:  10,
		MetersPerLevel: 3,
		MinHeuristic:   3,
		MaxHeuristic:   60,
	}
}

// Resolution is the height chosen for one building.
type Resolution struct {
	Height float64            `json:"height"`
	Source venue.HeightSource `json:"source"`
	// Fallback is set when no measured candidate existed.
	Fallback bool `json:"fallback"`
}

// Manager resolves building heights by source priority. It never mutates buildings.
type Manager struct {
	cfg Config
}

// NewManager constructs a Manager, filling zero fields from DefaultConfig.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = def.DefaultHeight
	}
	if cfg.MetersPerLevel <= 0 {
		cfg.MetersPerLevel = def.MetersPerLevel
	}
	if cfg.MinHeuristic <= 0 {
		cfg.MinHeuristic = def.MinHeuristic
	}
	if cfg.MaxHeuristic < cfg.MinHeuristic {
		cfg.MaxHeuristic = math.Max(def.MaxHeuristic, cfg.MinHeuristic)
	}
	return &Manager{cfg: cfg}
}

// Resolve picks Surveyed over Osm over Heuristic. The building's primary height
// wins ties against its listed candidates. Without any usable candidate the
// height is estimated from the level count, or the configured default.
func (m *Manager) Resolve(b venue.Building) Resolution {
	best := Resolution{}
	consider := func(source venue.HeightSource, meters float64) {
		if !source.Valid() || !usable(meters) {
			return
		}
		if best.Source == "" || source.Priority() > best.Source.Priority() {
			best = Resolution{Height: meters, Source: source}
		}
	}
	consider(b.HeightSource, b.Height)
	for _, c := range b.Heights {
		consider(c.Source, c.Meters)
	}
	if best.Source != "" {
		return best
	}
	return Resolution{Height: m.heuristic(b.Levels), Source: venue.HeightSourceHeuristic, Fallback: true}
}

func (m *Manager) heuristic(levels int) float64 {
	h := m.cfg.DefaultHeight
	if levels > 0 {
		h = float64(levels) * m.cfg.MetersPerLevel
	}
	return math.Max(m.cfg.MinHeuristic, math.Min(m.cfg.MaxHeuristic, h))
}

// MaxHeight is the tallest height the heuristic can produce.
func (m *Manager) MaxHeight() float64 {
	return m.cfg.MaxHeuristic
}

func usable(meters float64) bool {
	return meters > 0 && !math.IsNaN(meters) && !math.IsInf(meters, 0)
}
