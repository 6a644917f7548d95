package stats

import (
	"strings"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

var monthNames = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// DeriveMonthly always returns twelve months, January first, zero-filling
// whatever the backend left out. Records tagged with another year are
// ignored; untagged records are taken as belonging to year.
func DeriveMonthly(records []analytics.MonthRecord, year int, level analytics.Level) []analytics.MonthCount {
	months := make([]analytics.MonthCount, 12)
	for i := range months {
		months[i] = analytics.MonthCount{
			Month:       monthNames[i],
			MonthNumber: i + 1,
			Year:        year,
		}
	}

	for _, rec := range records {
		if rec.Year != 0 && year != 0 && rec.Year != year {
			continue
		}

		n := monthNumber(rec)
		if n < 1 || n > 12 {
			continue
		}

		m := &months[n-1]
		for l := 1; l <= analytics.LevelCount; l++ {
			m.ByLevel[l-1] += rec.Level(l)
		}

		switch {
		case !level.IsAll():
			m.Total += rec.Level(int(level))
		case rec.Total > 0:
			m.Total += rec.Total
		default:
			m.Total += rec.LevelSum()
		}
	}

	return months
}

func monthNumber(rec analytics.MonthRecord) int {
	if rec.MonthNumber != 0 {
		return rec.MonthNumber
	}
	name := strings.ToLower(strings.TrimSpace(rec.Month))
	if len(name) < 3 {
		return 0
	}
	for i, m := range monthNames {
		if strings.HasPrefix(name, strings.ToLower(m)) {
			return i + 1
		}
	}
	return 0
}

// YearlyLevelTotals returns per-level totals for the current year, taken from
// the year bucket when present and otherwise summed from the monthly
// breakdown. ok is false when neither source has any data.
func YearlyLevelTotals(p analytics.ComprehensivePayload) (totals [analytics.LevelCount]int, ok bool) {
	if year, exists := p.DateRanges[analytics.BucketYear]; exists {
		for i, ls := range year.Levels() {
			totals[i] = ls.Total
			if ls.Total != 0 {
				ok = true
			}
		}
		if ok {
			return totals, true
		}
	}

	for _, rec := range p.MonthlyBreakdown {
		for l := 1; l <= analytics.LevelCount; l++ {
			totals[l-1] += rec.Level(l)
			if rec.Level(l) != 0 {
				ok = true
			}
		}
	}

	return totals, ok
}
