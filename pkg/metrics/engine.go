// Package metrics exposes Prometheus collectors for the exposure engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine contains all Prometheus metrics emitted by the exposure engine.
// A nil *Engine is valid and records nothing.
type Engine struct {
	TimelinePoints     *prometheus.CounterVec
	PrecomputeOutcomes *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	WeatherFetches     *prometheus.CounterVec
	ShadowFailures     prometheus.Counter
	DayComputeDuration prometheus.Histogram
	registry           *prometheus.Registry
}

// NewEngine creates the collectors and registers them on registry.
func NewEngine(registry *prometheus.Registry) (*Engine, error) {
	m := &Engine{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *Engine) initMetrics() {
	m.TimelinePoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sunspot_timeline_points_total",
		Help: "Timeline points produced, by provenance",
	}, []string{"provenance"})

	m.PrecomputeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sunspot_precompute_patios_total",
		Help: "Patios processed by precompute runs, by outcome",
	}, []string{"outcome"})

	m.CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sunspot_cache_lookups_total",
		Help: "Day schedule cache lookups, by layer and result",
	}, []string{"layer", "result"})

	m.WeatherFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sunspot_weather_fetches_total",
		Help: "Weather provider fetches, by source and outcome",
	}, []string{"source", "outcome"})

	m.ShadowFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sunspot_shadow_geometry_failures_total",
		Help: "Buildings excluded from shadow casting because of malformed geometry",
	})

	m.DayComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sunspot_day_compute_duration_seconds",
		Help:    "Time spent computing one patio day schedule",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
}

// Describe implements prometheus.Collector.
func (m *Engine) Describe(ch chan<- *prometheus.Desc) {
	m.TimelinePoints.Describe(ch)
	m.PrecomputeOutcomes.Describe(ch)
	m.CacheLookups.Describe(ch)
	m.WeatherFetches.Describe(ch)
	m.ShadowFailures.Describe(ch)
	m.DayComputeDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Engine) Collect(ch chan<- prometheus.Metric) {
	m.TimelinePoints.Collect(ch)
	m.PrecomputeOutcomes.Collect(ch)
	m.CacheLookups.Collect(ch)
	m.WeatherFetches.Collect(ch)
	m.ShadowFailures.Collect(ch)
	m.DayComputeDuration.Collect(ch)
}

// RecordTimelinePoint counts one emitted timeline point.
func (m *Engine) RecordTimelinePoint(provenance string) {
	if m == nil {
		return
	}
	m.TimelinePoints.WithLabelValues(provenance).Inc()
}

// RecordPrecompute counts one patio outcome ("ok" or "failed").
func (m *Engine) RecordPrecompute(outcome string) {
	if m == nil {
		return
	}
	m.PrecomputeOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup counts a cache lookup against layer ("l1", "l2").
func (m *Engine) RecordCacheLookup(layer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(layer, result).Inc()
}

// RecordWeatherFetch counts a provider call.
func (m *Engine) RecordWeatherFetch(source string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.WeatherFetches.WithLabelValues(source, outcome).Inc()
}

// RecordShadowFailures adds excluded buildings.
func (m *Engine) RecordShadowFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ShadowFailures.Add(float64(n))
}

// ObserveDayCompute records how long a day schedule took.
func (m *Engine) ObserveDayCompute(d time.Duration) {
	if m == nil {
		return
	}
	m.DayComputeDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Engine) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
