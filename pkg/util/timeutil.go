package util

import (
	"time"
	_ "time/tzdata"
)

// DateLayout is the calendar date format used across the API and cache keys.
const DateLayout = "2006-01-02"

// NowUTC exposes time.Now for deterministic testing.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// Clock returns the current instant; services take one so tests can pin time.
type Clock func() time.Time

// FixedClock returns a Clock frozen at t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// LoadLocation resolves an IANA zone name, falling back when the name is empty or unknown.
func LoadLocation(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// ResolveLocal maps a wall-clock reading in loc to a UTC instant.
// Wall times inside a spring-forward gap are shifted forward by the gap length.
// Wall times repeated by a fall-back transition resolve to the earlier UTC instant.
func ResolveLocal(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	naive := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	_, offBefore := naive.Add(-12 * time.Hour).In(loc).Zone()
	_, offAfter := naive.Add(12 * time.Hour).In(loc).Zone()

	want := naive.Format("2006-01-02T15:04")
	var resolved time.Time
	for _, off := range []int{offBefore, offAfter} {
		candidate := naive.Add(-time.Duration(off) * time.Second)
		if candidate.In(loc).Format("2006-01-02T15:04") != want {
			continue
		}
		if resolved.IsZero() || candidate.Before(resolved) {
			resolved = candidate
		}
	}
	if resolved.IsZero() {
		// nonexistent wall time: keep the pre-transition offset, which lands past the gap
		resolved = naive.Add(-time.Duration(offBefore) * time.Second)
	}
	return resolved.UTC()
}

// LocalDayBounds returns the UTC instants of local midnight for date and the following day.
// The span is 23 or 25 hours on transition days.
func LocalDayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := ResolveLocal(y, m, d, 0, 0, loc)
	next := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	end := ResolveLocal(next.Year(), next.Month(), next.Day(), 0, 0, loc)
	return start, end
}

// LocalDate returns the calendar date of t as observed in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date into a UTC midnight value.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// FormatLocal renders t in loc as RFC3339, keeping the offset so repeated hours stay distinct.
func FormatLocal(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.RFC3339)
}
