package stats

import (
	"math"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

// EstimateRange scales yearly per-level totals down to a range of rangeDays
// and splits each level by boysRatio. The result is an approximation and
// is always marked as such.
func EstimateRange(yearly [analytics.LevelCount]int, rangeDays, daysPerYear int, boysRatio float64, level analytics.Level) analytics.DerivedView {
	view := analytics.ZeroView(analytics.FilterSpec{Level: level, DateBucket: analytics.BucketCustom})
	view.IsEstimated = true

	if daysPerYear < 1 {
		daysPerYear = 365
	}
	if boysRatio < 0 || boysRatio > 1 || math.IsNaN(boysRatio) {
		boysRatio = 0.5
	}

	factor := float64(rangeDays) / float64(daysPerYear)

	var allTotal int
	for i, yearTotal := range yearly {
		est := int(math.Round(float64(yearTotal) * factor))
		boys := int(math.Round(float64(est) * boysRatio))
		view.ByLevel[i] = analytics.LevelCounts{
			Level: i + 1,
			Total: est,
			Boys:  boys,
			Girls: est - boys,
		}
		allTotal += est
	}

	for i := range view.ByLevel {
		lc := &view.ByLevel[i]
		lc.Percentage = Percentage(lc.Total, allTotal)
		if !level.IsAll() && int(level) != lc.Level {
			continue
		}
		view.Total += lc.Total
		view.Boys += lc.Boys
		view.Girls += lc.Girls
	}

	view.BoysPercentage = Percentage(view.Boys, view.Total)
	view.GirlsPercentage = Percentage(view.Girls, view.Total)

	return view
}
