package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/sunspot/internal/domain/exposure"
)

var noon = time.Date(2025, time.June, 21, 10, 0, 0, 0, time.UTC)

func litRun(start time.Time, n int, step time.Duration, pct, conf float64) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{
			Timestamp:       start.Add(time.Duration(i) * step),
			ExposurePercent: pct,
			State:           exposure.StateSunny,
			Confidence:      conf,
			CloudCover:      0.2,
		}
	}
	return out
}

func TestBuildWindowsEndsOneStepAfterLastPoint(t *testing.T) {
	points := litRun(noon, 7, 10*time.Minute, 100, 80)
	points = append(points, Point{Timestamp: noon.Add(70 * time.Minute), State: exposure.StateShaded})

	got := BuildWindows("p1", points, 10*time.Minute, DefaultWindowPolicy(), time.UTC, noon.Add(-time.Hour))

	require.Len(t, got, 1)
	w := got[0]
	require.Equal(t, noon, w.Start)
	require.Equal(t, noon.Add(70*time.Minute), w.End)
	require.Equal(t, 70*time.Minute, w.Duration)
	require.Equal(t, GradeExcellent, w.Quality)
	require.True(t, w.IsRecommended)
	require.Equal(t, "2025-06-21", w.Date)
}

func TestBuildWindowsSplitsOnGapsAndDropsShortRuns(t *testing.T) {
	points := litRun(noon, 2, 10*time.Minute, 100, 80)
	points = append(points, Point{Timestamp: noon.Add(20 * time.Minute), State: exposure.StateNoSun})
	points = append(points, litRun(noon.Add(30*time.Minute), 4, 10*time.Minute, 90, 80)...)

	got := BuildWindows("p1", points, 10*time.Minute, DefaultWindowPolicy(), time.UTC, noon)

	require.Len(t, got, 1)
	require.Equal(t, noon.Add(30*time.Minute), got[0].Start)
	require.Equal(t, 40*time.Minute, got[0].Duration)
}

func TestMergeWindowsIsIdempotent(t *testing.T) {
	policy := DefaultWindowPolicy()
	policy.MergeGap = 10 * time.Minute
	a := windowFromRun("p1", litRun(noon, 4, 10*time.Minute, 100, 90), 10*time.Minute, time.UTC)
	b := windowFromRun("p1", litRun(noon.Add(50*time.Minute), 3, 10*time.Minute, 70, 60), 10*time.Minute, time.UTC)
	c := windowFromRun("p1", litRun(noon.Add(4*time.Hour), 6, 10*time.Minute, 50, 50), 10*time.Minute, time.UTC)

	once := MergeWindows([]Window{c, b, a}, policy, noon)
	twice := MergeWindows(once, policy, noon)

	require.Len(t, once, 2)
	require.Equal(t, once, twice)
	require.Equal(t, noon, once[0].Start)
	require.Equal(t, noon.Add(80*time.Minute), once[0].End)
	require.InDelta(t, (100*40+70*30)/70.0, once[0].AvgExposure, 1e-9)
	require.Equal(t, 100.0, once[0].PeakExposure)
	require.Equal(t, 70.0, once[0].MinExposure)
}

func TestMergeWindowsKeepsPatiosApart(t *testing.T) {
	a := windowFromRun("a", litRun(noon, 4, 10*time.Minute, 100, 90), 10*time.Minute, time.UTC)
	b := windowFromRun("b", litRun(noon, 4, 10*time.Minute, 100, 90), 10*time.Minute, time.UTC)

	got := MergeWindows([]Window{b, a}, DefaultWindowPolicy(), noon)

	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].PatioID)
	require.Equal(t, "b", got[1].PatioID)
}

func TestGradeBoundaries(t *testing.T) {
	cases := []struct {
		exposure, confidence float64
		want                 Grade
	}{
		{80, 70, GradeExcellent},
		{80, 69.9, GradeGood},
		{60, 40, GradeGood},
		{60, 39, GradeFair},
		{40, 0, GradeFair},
		{39.9, 100, GradePoor},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, gradeFor(tc.exposure, tc.confidence), "exposure=%v confidence=%v", tc.exposure, tc.confidence)
	}
}

func TestRecommendation(t *testing.T) {
	policy := DefaultWindowPolicy()
	w := windowFromRun("p1", litRun(noon, 6, 10*time.Minute, 100, 90), 10*time.Minute, time.UTC)

	ok, _ := recommend(finalize(w, policy, noon.Add(-time.Hour)), policy, noon.Add(-time.Hour))
	require.True(t, ok)

	ok, reason := recommend(finalize(w, policy, noon.Add(2*time.Hour)), policy, noon.Add(2*time.Hour))
	require.False(t, ok)
	require.Contains(t, reason, "ended")

	cloudy := w
	cloudy.AvgCloudCover = 0.8
	ok, reason = recommend(finalize(cloudy, policy, noon), policy, noon)
	require.False(t, ok)
	require.Contains(t, reason, "cloud")
}

func TestPriorityScore(t *testing.T) {
	policy := DefaultWindowPolicy()
	w := windowFromRun("p1", litRun(noon, 18, 10*time.Minute, 100, 100), 10*time.Minute, time.UTC)

	require.Equal(t, 100.0, priority(w, policy, noon))
	require.Equal(t, 90.0, priority(w, policy, noon.Add(4*time.Hour)))
}

func TestRefreshRegradesAgainstClock(t *testing.T) {
	policy := DefaultWindowPolicy()
	built := BuildWindows("p1", litRun(noon, 6, 10*time.Minute, 100, 90), 10*time.Minute, policy, time.UTC, noon.Add(-time.Hour))
	require.Len(t, built, 1)
	require.True(t, built[0].IsRecommended)

	later := Refresh(built, policy, noon.Add(2*time.Hour))

	require.False(t, later[0].IsRecommended)
	require.Equal(t, "window has already ended", later[0].RecommendationReason)
	require.Less(t, later[0].PriorityScore, built[0].PriorityScore)
	require.Equal(t, built[0].Start, later[0].Start)
	require.True(t, built[0].IsRecommended)
	require.Nil(t, Refresh(nil, policy, noon))
}
