package solar

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingCalculator struct {
	calls atomic.Int32
}

func (c *countingCalculator) Position(obs Observer, at time.Time) Position {
	c.calls.Add(1)
	return Compute(obs, at)
}

func TestCachedCalculatorMemoizes(t *testing.T) {
	inner := &countingCalculator{}
	calc := NewCachedCalculator(inner, time.Minute)
	at := time.Date(2025, time.June, 21, 11, 0, 0, 0, time.UTC)

	first := calc.Position(gothenburg, at)
	second := calc.Position(gothenburg, at.Add(200*time.Millisecond))

	require.Equal(t, first, second)
	require.EqualValues(t, 1, inner.calls.Load())
	require.Equal(t, 1, calc.Len())

	calc.Position(gothenburg, at.Add(time.Minute))
	require.EqualValues(t, 2, inner.calls.Load())
}

func TestDaylightBoundsAtMidLatitude(t *testing.T) {
	day := time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC)

	bounds := DaylightBounds(gothenburg, day)

	require.False(t, bounds.PolarDay)
	require.False(t, bounds.PolarNight)
	require.True(t, bounds.Sunrise.Before(bounds.Sunset))
	rise := Compute(gothenburg, bounds.Sunrise)
	require.InDelta(t, -0.833, rise.TrueElevation, 0.3)
}

func TestDaylightBoundsPolar(t *testing.T) {
	svalbard := Observer{Latitude: 78.2232, Longitude: 15.6267}

	summer := DaylightBounds(svalbard, time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC))
	winter := DaylightBounds(svalbard, time.Date(2025, time.December, 21, 0, 0, 0, 0, time.UTC))

	require.True(t, summer.PolarDay)
	require.True(t, winter.PolarNight)
}
