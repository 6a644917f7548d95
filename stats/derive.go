// Package stats derives dashboard views from cached aggregation payloads.
// Every function here is pure: inputs are never mutated and equal inputs
// give equal outputs.
package stats

import (
	"math"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

// Percentage is count/max(total,1)*100 rounded to two decimals, so an empty
// total always reads as 0 rather than NaN.
func Percentage(count, total int) float64 {
	if total < 1 {
		total = 1
	}
	return round2(float64(count) / float64(total) * 100)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

// DeriveView computes the view for one filter over a comprehensive payload.
// A bucket missing from the payload is an empty state, not an error.
func DeriveView(p analytics.ComprehensivePayload, f analytics.FilterSpec) analytics.DerivedView {
	f = f.Normalize()

	bucket, ok := p.Bucket(f.DateBucket)
	if !ok {
		return analytics.ZeroView(f)
	}

	return DeriveBucket(bucket, f)
}

// DeriveBucket computes a view from a single bucket, such as the exact
// counts returned for a custom range.
func DeriveBucket(bucket analytics.BucketStats, f analytics.FilterSpec) analytics.DerivedView {
	f = f.Normalize()
	view := analytics.ZeroView(f)
	levels := bucket.Levels()

	var allTotal int
	for _, ls := range levels {
		allTotal += ls.Total
	}

	for i, ls := range levels {
		view.ByLevel[i] = analytics.LevelCounts{
			Level:      i + 1,
			Total:      ls.Total,
			Boys:       ls.Boys,
			Girls:      ls.Girls,
			Percentage: Percentage(ls.Total, allTotal),
		}
	}

	selected := selectLevel(levels, f.Level)

	view.Boys = selected.Boys
	view.Girls = selected.Girls
	view.BoysPercentage = Percentage(selected.Boys, selected.Total)
	view.GirlsPercentage = Percentage(selected.Girls, selected.Total)
	view.Programs = selected.Programs

	switch f.Gender {
	case analytics.GenderBoys:
		view.Total = selected.Boys
		view.Programs.Girls = map[string]int{}
	case analytics.GenderGirls:
		view.Total = selected.Girls
		view.Programs.Boys = map[string]int{}
	default:
		view.Total = selected.Total
	}

	if !f.Level.IsAll() && f.Level > 1 {
		view.LevelProgression = progressionView(bucket.LevelProgression[int(f.Level)])
	}

	return view
}

// selectLevel returns a private copy of one level, or the sum of all five.
func selectLevel(levels [analytics.LevelCount]analytics.LevelStats, level analytics.Level) analytics.LevelStats {
	out := analytics.LevelStats{
		Programs: analytics.ProgramBreakdown{
			Boys:  map[string]int{},
			Girls: map[string]int{},
		},
	}

	for i, ls := range levels {
		if !level.IsAll() && int(level) != i+1 {
			continue
		}
		out.Total += ls.Total
		out.Boys += ls.Boys
		out.Girls += ls.Girls
		mergeCounts(out.Programs.Boys, ls.Programs.Boys)
		mergeCounts(out.Programs.Girls, ls.Programs.Girls)
	}

	return out
}

func mergeCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

// progressionView treats the backend's change as the count of students that
// did not progress. A negative count cannot be displayed, so it is clamped
// and the record flagged for review.
func progressionView(p analytics.Progression) *analytics.ProgressionView {
	pv := &analytics.ProgressionView{
		Current:       p.Current,
		Previous:      p.Previous,
		Change:        p.Change,
		NotProgressed: p.Change,
	}

	if p.Change < 0 {
		pv.NotProgressed = 0
		pv.NeedsReview = true
	}
	if p.Current < 0 || p.Previous < 0 {
		pv.NeedsReview = true
	}

	return pv
}

// GenderRatio is the share of boys in a bucket. ok is false when the bucket
// carries no gender data at all.
func GenderRatio(b analytics.BucketStats) (float64, bool) {
	boys, girls := b.Boys, b.Girls
	if boys+girls == 0 {
		for _, ls := range b.Levels() {
			boys += ls.Boys
			girls += ls.Girls
		}
	}
	if boys+girls == 0 {
		return 0, false
	}
	return float64(boys) / float64(boys+girls), true
}
