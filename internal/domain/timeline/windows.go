package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yanqian/sunspot/pkg/util"
)

// BuildWindows turns contiguous Sunny/Partial points into windows. A window
// ends one resolution step after its last lit point.
func BuildWindows(patioID string, points []Point, resolution time.Duration, policy WindowPolicy, loc *time.Location, now time.Time) []Window {
	var windows []Window
	var run []Point
	flush := func() {
		if len(run) > 0 {
			windows = append(windows, windowFromRun(patioID, run, resolution, loc))
			run = nil
		}
	}
	for _, p := range points {
		if !p.State.Lit() {
			flush()
			continue
		}
		if n := len(run); n > 0 && p.Timestamp.Sub(run[n-1].Timestamp) != resolution {
			flush()
		}
		run = append(run, p)
	}
	flush()
	return MergeWindows(windows, policy, now)
}

func windowFromRun(patioID string, run []Point, resolution time.Duration, loc *time.Location) Window {
	w := Window{
		PatioID:     patioID,
		Date:        util.LocalDate(run[0].Timestamp, loc),
		Start:       run[0].Timestamp,
		End:         run[len(run)-1].Timestamp.Add(resolution),
		MinExposure: math.Inf(1),
		MaxExposure: math.Inf(-1),
	}
	var sumExposure, sumConfidence, sumCloud float64
	cloudSamples := 0
	for _, p := range run {
		sumExposure += p.ExposurePercent
		sumConfidence += p.Confidence
		if p.CloudCover >= 0 {
			sumCloud += p.CloudCover
			cloudSamples++
		}
		if p.ExposurePercent < w.MinExposure {
			w.MinExposure = p.ExposurePercent
		}
		if p.ExposurePercent > w.MaxExposure {
			w.MaxExposure = p.ExposurePercent
			w.PeakTime = p.Timestamp
		}
	}
	n := float64(len(run))
	w.Duration = w.End.Sub(w.Start)
	w.PeakExposure = w.MaxExposure
	w.AvgExposure = sumExposure / n
	w.Confidence = sumConfidence / n
	w.AvgCloudCover = -1
	if cloudSamples > 0 {
		w.AvgCloudCover = sumCloud / float64(cloudSamples)
	}
	return w
}

// MergeWindows joins overlapping or adjacent windows (within MergeGap), drops
// windows shorter than MinDuration and recomputes grade, recommendation and
// priority. Applying it to its own output returns the same windows.
func MergeWindows(windows []Window, policy WindowPolicy, now time.Time) []Window {
	if len(windows) == 0 {
		return nil
	}
	sorted := append([]Window(nil), windows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PatioID != sorted[j].PatioID {
			return sorted[i].PatioID < sorted[j].PatioID
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Window{sorted[0]}
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if w.PatioID == last.PatioID && !w.Start.After(last.End.Add(policy.MergeGap)) {
			*last = combine(*last, w)
			continue
		}
		merged = append(merged, w)
	}

	out := merged[:0]
	for _, w := range merged {
		if w.Duration < policy.MinDuration {
			continue
		}
		out = append(out, finalize(w, policy, now))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Refresh re-grades materialized windows for now. Recommendation and
// priority depend on the clock; boundaries and averages do not.
func Refresh(windows []Window, policy WindowPolicy, now time.Time) []Window {
	if len(windows) == 0 {
		return windows
	}
	out := make([]Window, len(windows))
	for i, w := range windows {
		out[i] = finalize(w, policy, now)
	}
	return out
}

func combine(a, b Window) Window {
	out := a
	if b.End.After(out.End) {
		out.End = b.End
	}
	out.Duration = out.End.Sub(out.Start)
	out.MinExposure = math.Min(a.MinExposure, b.MinExposure)
	if b.MaxExposure > a.MaxExposure {
		out.MaxExposure = b.MaxExposure
		out.PeakTime = b.PeakTime
	}
	out.PeakExposure = out.MaxExposure

	wa, wb := a.Duration.Minutes(), b.Duration.Minutes()
	if wa+wb > 0 {
		out.AvgExposure = (a.AvgExposure*wa + b.AvgExposure*wb) / (wa + wb)
		out.Confidence = (a.Confidence*wa + b.Confidence*wb) / (wa + wb)
		switch {
		case a.AvgCloudCover < 0:
			out.AvgCloudCover = b.AvgCloudCover
		case b.AvgCloudCover < 0:
			out.AvgCloudCover = a.AvgCloudCover
		default:
			out.AvgCloudCover = (a.AvgCloudCover*wa + b.AvgCloudCover*wb) / (wa + wb)
		}
	}
	return out
}

func finalize(w Window, policy WindowPolicy, now time.Time) Window {
	w.Quality = gradeFor(w.AvgExposure, w.Confidence)
	w.PriorityScore = priority(w, policy, now)
	w.IsRecommended, w.RecommendationReason = recommend(w, policy, now)
	return w
}

func gradeFor(avgExposure, confidence float64) Grade {
	switch {
	case avgExposure >= 80 && confidence >= 70:
		return GradeExcellent
	case avgExposure >= 60 && confidence >= 40:
		return GradeGood
	case avgExposure >= 40:
		return GradeFair
	default:
		return GradePoor
	}
}

func priority(w Window, policy WindowPolicy, now time.Time) float64 {
	weights := policy.Weights
	duration := 1.0
	if policy.MaxDurationCredit > 0 {
		duration = math.Min(1, w.Duration.Minutes()/policy.MaxDurationCredit.Minutes())
	}
	score := weights.Duration*duration +
		weights.Exposure*w.AvgExposure/100 +
		weights.Confidence*w.Confidence/100 +
		weights.Recency*recency(w, policy.RecencyHorizon, now)
	return math.Round(score*10000) / 100
}

// recency is 1 for a window in progress, fading to 0 for windows a full
// horizon away, and 0 once a window has ended.
func recency(w Window, horizon time.Duration, now time.Time) float64 {
	switch {
	case !w.End.After(now):
		return 0
	case !w.Start.After(now):
		return 1
	case horizon <= 0:
		return 0
	default:
		return math.Max(0, 1-float64(w.Start.Sub(now))/float64(horizon))
	}
}

func recommend(w Window, policy WindowPolicy, now time.Time) (bool, string) {
	switch {
	case !w.End.After(now):
		return false, "window has already ended"
	case w.Quality != GradeExcellent && w.Quality != GradeGood:
		return false, fmt.Sprintf("%s sun: %.0f%% average exposure at %.0f%% confidence", w.Quality, w.AvgExposure, w.Confidence)
	case w.AvgCloudCover >= policy.RecommendCloudMax:
		return false, fmt.Sprintf("cloud cover expected around %.0f%%", w.AvgCloudCover*100)
	default:
		return true, fmt.Sprintf("%s sun for %s at %.0f%% average exposure", w.Quality, w.Duration.Round(time.Minute), w.AvgExposure)
	}
}
