package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/yanqian/sunspot/internal/domain/exposure"
	"github.com/yanqian/sunspot/internal/domain/shadow"
	"github.com/yanqian/sunspot/internal/domain/solar"
	"github.com/yanqian/sunspot/internal/domain/weather"
)

// Provenance records how a timeline point was obtained.
type Provenance string

const (
	ProvenancePrecomputed  Provenance = "precomputed"
	ProvenanceInterpolated Provenance = "interpolated"
	ProvenanceCalculated   Provenance = "calculated"
	ProvenanceCached       Provenance = "cached"
)

// Grade is the quality band of a sun window.
type Grade string

const (
	GradeExcellent Grade = "excellent"
	GradeGood      Grade = "good"
	GradeFair      Grade = "fair"
	GradePoor      Grade = "poor"
)

// Point is the exposure of one patio at one UTC instant.
type Point struct {
	Timestamp       time.Time      `json:"timestampUtc"`
	ExposurePercent float64        `json:"sunExposurePercent"`
	State           exposure.State `json:"state"`
	Confidence      float64        `json:"confidence"`
	IsSunVisible    bool           `json:"isSunVisible"`
	SolarElevation  float64        `json:"solarElevation"`
	SolarAzimuth    float64        `json:"solarAzimuth"`
	// CloudCover is the cloud fraction in [0,1], or -1 when no weather was available.
	CloudCover   float64    `json:"cloudCover"`
	Provenance   Provenance `json:"provenance"`
	Contributing []string   `json:"contributingBuildings,omitempty"`
}

// Window is a merged run of lit points.
type Window struct {
	PatioID              string        `json:"patioId"`
	Date                 string        `json:"date"`
	Start                time.Time     `json:"startUtc"`
	End                  time.Time     `json:"endUtc"`
	Duration             time.Duration `json:"duration"`
	PeakTime             time.Time     `json:"peakTime"`
	PeakExposure         float64       `json:"peakExposure"`
	MinExposure          float64       `json:"minExposure"`
	MaxExposure          float64       `json:"maxExposure"`
	AvgExposure          float64       `json:"avgExposure"`
	Confidence           float64       `json:"confidence"`
	AvgCloudCover        float64       `json:"avgCloudCover"`
	Quality              Grade         `json:"quality"`
	IsRecommended        bool          `json:"isRecommended"`
	RecommendationReason string        `json:"recommendationReason"`
	PriorityScore        float64       `json:"priorityScore"`
}

// Request asks for one patio's points over [Start, End).
type Request struct {
	PatioID    string
	Start      time.Time
	End        time.Time
	Resolution time.Duration
}

// Timeline is the evaluated request.
type Timeline struct {
	PatioID         string           `json:"patioId"`
	Timezone        string           `json:"timezone"`
	Start           time.Time        `json:"startUtc"`
	End             time.Time        `json:"endUtc"`
	Resolution      time.Duration    `json:"resolution"`
	Points          []Point          `json:"points"`
	Windows         []Window         `json:"windows"`
	Notes           []string         `json:"dataQualityNotes,omitempty"`
	Degraded        bool             `json:"degraded"`
	FailedBuildings []shadow.Failure `json:"failedBuildings,omitempty"`
}

// Exposure is a single-instant lookup for one patio.
type Exposure struct {
	PatioID  string   `json:"patioId"`
	Timezone string   `json:"timezone"`
	Point    Point    `json:"point"`
	Notes    []string `json:"dataQualityNotes,omitempty"`
	Degraded bool     `json:"degraded"`
}

// BatchFailure is a patio that could not be evaluated in a batch.
type BatchFailure struct {
	PatioID string `json:"patioId"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// BatchResult ranks patios by current sun, best first.
type BatchResult struct {
	At      time.Time      `json:"atUtc"`
	Results []Exposure     `json:"results"`
	Failed  []BatchFailure `json:"failed,omitempty"`
}

// DaySchedule is the cacheable unit: one patio, one local date, one resolution.
type DaySchedule struct {
	PatioID         string           `json:"patioId"`
	Date            string           `json:"date"`
	Timezone        string           `json:"timezone"`
	Resolution      time.Duration    `json:"resolution"`
	Points          []Point          `json:"points"`
	Windows         []Window         `json:"windows"`
	Daylight        solar.Daylight   `json:"daylight"`
	ComputedAt      time.Time        `json:"computedAt"`
	WeatherMode     weather.Mode     `json:"weatherMode"`
	Notes           []string         `json:"dataQualityNotes,omitempty"`
	Degraded        bool             `json:"degraded"`
	FailedBuildings []shadow.Failure `json:"failedBuildings,omitempty"`
}

// ScheduleKey identifies a DaySchedule in caches.
func ScheduleKey(patioID, date string, resolution time.Duration) string {
	return fmt.Sprintf("%s|%s|%s", patioID, date, resolution)
}

// pointAt finds an exact tick in points sorted by timestamp.
func pointAt(points []Point, at time.Time) (Point, bool) {
	idx := sort.Search(len(points), func(i int) bool {
		return !points[i].Timestamp.Before(at)
	})
	if idx < len(points) && points[idx].Timestamp.Equal(at) {
		return points[idx], true
	}
	return Point{}, false
}

// bracket returns the nearest points at or before and at or after at.
func bracket(points []Point, at time.Time) (Point, Point, bool) {
	idx := sort.Search(len(points), func(i int) bool {
		return !points[i].Timestamp.Before(at)
	})
	if idx == 0 || idx >= len(points) {
		return Point{}, Point{}, false
	}
	return points[idx-1], points[idx], true
}
