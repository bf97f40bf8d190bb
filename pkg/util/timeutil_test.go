package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stockholm(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	return loc
}

func TestResolveLocalSkipsSpringGap(t *testing.T) {
	loc := stockholm(t)

	got := ResolveLocal(2025, time.March, 30, 2, 30, loc)

	require.Equal(t, time.Date(2025, time.March, 30, 1, 30, 0, 0, time.UTC), got)
	require.Equal(t, "2025-03-30T03:30:00+02:00", FormatLocal(got, loc))
}

func TestResolveLocalPicksEarlierRepeatedHour(t *testing.T) {
	loc := stockholm(t)

	got := ResolveLocal(2025, time.October, 26, 2, 30, loc)

	require.Equal(t, time.Date(2025, time.October, 26, 0, 30, 0, 0, time.UTC), got)
	require.Equal(t, "2025-10-26T02:30:00+02:00", FormatLocal(got, loc))
	later := got.Add(time.Hour)
	require.Equal(t, "2025-10-26T02:30:00+01:00", FormatLocal(later, loc))
}

func TestResolveLocalOrdinaryTime(t *testing.T) {
	loc := stockholm(t)

	got := ResolveLocal(2025, time.June, 21, 13, 0, loc)

	require.Equal(t, time.Date(2025, time.June, 21, 11, 0, 0, 0, time.UTC), got)
}

func TestLocalDayBoundsOnTransitionDays(t *testing.T) {
	loc := stockholm(t)

	start, end := LocalDayBounds(time.Date(2025, time.March, 30, 0, 0, 0, 0, time.UTC), loc)
	require.Equal(t, 23*time.Hour, end.Sub(start))

	start, end = LocalDayBounds(time.Date(2025, time.October, 26, 0, 0, 0, 0, time.UTC), loc)
	require.Equal(t, 25*time.Hour, end.Sub(start))

	start, end = LocalDayBounds(time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC), loc)
	require.Equal(t, 24*time.Hour, end.Sub(start))
	require.Equal(t, time.Date(2025, time.June, 20, 22, 0, 0, 0, time.UTC), start)
}

func TestLocalDate(t *testing.T) {
	loc := stockholm(t)
	instant := time.Date(2025, time.June, 20, 22, 30, 0, 0, time.UTC)

	require.Equal(t, "2025-06-21", LocalDate(instant, loc))
	require.Equal(t, "2025-06-20", LocalDate(instant, nil))
}

func TestLoadLocationFallback(t *testing.T) {
	require.Equal(t, time.UTC, LoadLocation("", time.UTC))
	require.Equal(t, time.UTC, LoadLocation("Mars/Olympus", time.UTC))
	require.Equal(t, "Europe/Stockholm", LoadLocation("Europe/Stockholm", time.UTC).String())
}
