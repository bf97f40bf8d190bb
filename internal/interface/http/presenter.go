package http

import (
	"time"

	"github.com/yanqian/sunspot/internal/domain/exposure"
	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/shadow"
	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/pkg/util"
)

// Response payloads. Every instant is UTC; local strings are derived here and
// nowhere else.

type pointResponse struct {
	TimestampUTC    time.Time      `json:"timestampUtc"`
	LocalTime       string         `json:"localTime"`
	ExposurePercent float64        `json:"sunExposurePercent"`
	State           exposure.State `json:"state"`
	Confidence      float64        `json:"confidence"`
	IsSunVisible    bool           `json:"isSunVisible"`
	SolarElevation  float64        `json:"solarElevation"`
	SolarAzimuth    float64        `json:"solarAzimuth"`
	CloudCover      *float64       `json:"cloudCover"`
	Provenance      string         `json:"provenance"`
	Contributing    []string       `json:"contributingBuildings,omitempty"`
}

type windowResponse struct {
	PatioID              string    `json:"patioId"`
	Date                 string    `json:"date"`
	StartUTC             time.Time `json:"startUtc"`
	EndUTC               time.Time `json:"endUtc"`
	LocalStart           string    `json:"localStart"`
	LocalEnd             string    `json:"localEnd"`
	DurationMinutes      float64   `json:"durationMinutes"`
	PeakTime             time.Time `json:"peakTime"`
	LocalPeakTime        string    `json:"localPeakTime"`
	PeakExposure         float64   `json:"peakExposure"`
	MinExposure          float64   `json:"minExposure"`
	MaxExposure          float64   `json:"maxExposure"`
	AvgExposure          float64   `json:"avgExposure"`
	Quality              string    `json:"quality"`
	Confidence           float64   `json:"confidence"`
	AvgCloudCover        float64   `json:"avgCloudCover"`
	IsRecommended        bool      `json:"isRecommended"`
	RecommendationReason string    `json:"recommendationReason"`
	PriorityScore        float64   `json:"priorityScore"`
}

type timelineResponse struct {
	PatioID           string           `json:"patioId"`
	Timezone          string           `json:"timezone"`
	StartUTC          time.Time        `json:"startUtc"`
	EndUTC            time.Time        `json:"endUtc"`
	ResolutionMinutes float64          `json:"resolutionMinutes"`
	Points            []pointResponse  `json:"points"`
	Windows           []windowResponse `json:"windows"`
	Notes             []string         `json:"dataQualityNotes,omitempty"`
	Degraded          bool             `json:"degraded"`
	FailedBuildings   []shadow.Failure `json:"failedBuildings,omitempty"`
}

type exposureResponse struct {
	PatioID  string        `json:"patioId"`
	Timezone string        `json:"timezone"`
	Point    pointResponse `json:"point"`
	Notes    []string      `json:"dataQualityNotes,omitempty"`
	Degraded bool          `json:"degraded"`
}

type batchResponse struct {
	AtUTC   time.Time               `json:"atUtc"`
	Results []exposureResponse      `json:"results"`
	Failed  []timeline.BatchFailure `json:"failed,omitempty"`
}

type windowsResponse struct {
	PatioID    string           `json:"patioId"`
	Date       string           `json:"date"`
	Timezone   string           `json:"timezone"`
	Sunrise    *time.Time       `json:"sunriseUtc,omitempty"`
	Sunset     *time.Time       `json:"sunsetUtc,omitempty"`
	PolarDay   bool             `json:"polarDay,omitempty"`
	PolarNight bool             `json:"polarNight,omitempty"`
	ComputedAt time.Time        `json:"computedAt"`
	Windows    []windowResponse `json:"windows"`
	Notes      []string         `json:"dataQualityNotes,omitempty"`
}

type healthResponse struct {
	Status  string             `json:"status"`
	LastRun *precompute.JobRun `json:"lastRun,omitempty"`
}

func presentPoint(p timeline.Point, loc *time.Location) pointResponse {
	out := pointResponse{
		TimestampUTC:    p.Timestamp.UTC(),
		LocalTime:       util.FormatLocal(p.Timestamp, loc),
		ExposurePercent: p.ExposurePercent,
		State:           p.State,
		Confidence:      p.Confidence,
		IsSunVisible:    p.IsSunVisible,
		SolarElevation:  p.SolarElevation,
		SolarAzimuth:    p.SolarAzimuth,
		Provenance:      string(p.Provenance),
		Contributing:    p.Contributing,
	}
	if p.CloudCover >= 0 {
		cover := p.CloudCover
		out.CloudCover = &cover
	}
	return out
}

func presentWindows(windows []timeline.Window, loc *time.Location) []windowResponse {
	out := make([]windowResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, windowResponse{
			PatioID:              w.PatioID,
			Date:                 w.Date,
			StartUTC:             w.Start.UTC(),
			EndUTC:               w.End.UTC(),
			LocalStart:           util.FormatLocal(w.Start, loc),
			LocalEnd:             util.FormatLocal(w.End, loc),
			DurationMinutes:      w.Duration.Minutes(),
			PeakTime:             w.PeakTime.UTC(),
			LocalPeakTime:        util.FormatLocal(w.PeakTime, loc),
			PeakExposure:         w.PeakExposure,
			MinExposure:          w.MinExposure,
			MaxExposure:          w.MaxExposure,
			AvgExposure:          w.AvgExposure,
			Quality:              string(w.Quality),
			Confidence:           w.Confidence,
			AvgCloudCover:        w.AvgCloudCover,
			IsRecommended:        w.IsRecommended,
			RecommendationReason: w.RecommendationReason,
			PriorityScore:        w.PriorityScore,
		})
	}
	return out
}

func presentTimeline(tl timeline.Timeline) timelineResponse {
	loc := util.LoadLocation(tl.Timezone, time.UTC)
	points := make([]pointResponse, 0, len(tl.Points))
	for _, p := range tl.Points {
		points = append(points, presentPoint(p, loc))
	}
	return timelineResponse{
		PatioID:           tl.PatioID,
		Timezone:          tl.Timezone,
		StartUTC:          tl.Start.UTC(),
		EndUTC:            tl.End.UTC(),
		ResolutionMinutes: tl.Resolution.Minutes(),
		Points:            points,
		Windows:           presentWindows(tl.Windows, loc),
		Notes:             tl.Notes,
		Degraded:          tl.Degraded,
		FailedBuildings:   tl.FailedBuildings,
	}
}

func presentExposure(e timeline.Exposure) exposureResponse {
	loc := util.LoadLocation(e.Timezone, time.UTC)
	return exposureResponse{
		PatioID:  e.PatioID,
		Timezone: e.Timezone,
		Point:    presentPoint(e.Point, loc),
		Notes:    e.Notes,
		Degraded: e.Degraded,
	}
}

func presentBatch(b timeline.BatchResult) batchResponse {
	results := make([]exposureResponse, 0, len(b.Results))
	for _, e := range b.Results {
		results = append(results, presentExposure(e))
	}
	return batchResponse{AtUTC: b.At.UTC(), Results: results, Failed: b.Failed}
}

func presentSchedule(s timeline.DaySchedule) windowsResponse {
	loc := util.LoadLocation(s.Timezone, time.UTC)
	out := windowsResponse{
		PatioID:    s.PatioID,
		Date:       s.Date,
		Timezone:   s.Timezone,
		ComputedAt: s.ComputedAt.UTC(),
		Windows:    presentWindows(s.Windows, loc),
		Notes:      s.Notes,
		PolarDay:   s.Daylight.PolarDay,
		PolarNight: s.Daylight.PolarNight,
	}
	if !s.Daylight.Sunrise.IsZero() {
		sunrise := s.Daylight.Sunrise.UTC()
		out.Sunrise = &sunrise
	}
	if !s.Daylight.Sunset.IsZero() {
		sunset := s.Daylight.Sunset.UTC()
		out.Sunset = &sunset
	}
	return out
}
