package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineRecordsCounters(t *testing.T) {
	m, err := NewEngine(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordTimelinePoint("calculated")
	m.RecordTimelinePoint("calculated")
	m.RecordCacheLookup("l1", true)
	m.RecordWeatherFetch("open-meteo", errors.New("boom"))
	m.RecordShadowFailures(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.TimelinePoints.WithLabelValues("calculated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("l1", "hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.WeatherFetches.WithLabelValues("open-meteo", "error")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ShadowFailures))
}

func TestNilEngineIsNoop(t *testing.T) {
	var m *Engine
	require.NotPanics(t, func() {
		m.RecordTimelinePoint("cached")
		m.RecordPrecompute("ok")
		m.RecordShadowFailures(1)
	})
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewEngine(reg)
	require.NoError(t, err)
	_, err = NewEngine(reg)
	require.Error(t, err)
}
