package stats

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

// DeriveCorrespondence filters raw correspondence records and computes the
// panel breakdowns. now anchors the date buckets so the result depends only
// on its arguments.
func DeriveCorrespondence(p analytics.CorrespondencePayload, f analytics.FilterSpec, now time.Time) analytics.CorrespondenceView {
	f = f.Normalize()

	view := analytics.CorrespondenceView{
		Bucket:     f.DateBucket,
		Level:      f.Level,
		Type:       f.Type,
		Gender:     f.Gender,
		SearchTerm: f.SearchTerm,
		ByType:     []analytics.TypeCount{},
		Records:    []analytics.CorrespondenceRecord{},
	}
	for i := range view.ByLevel {
		view.ByLevel[i].Level = i + 1
	}

	if len(p.Records) == 0 {
		if isUnfiltered(f) && p.Stats.Total > 0 {
			fromBackendStats(&view, p.Stats)
		}
		return view
	}

	search := strings.ToLower(f.SearchTerm)
	byType := make(map[string]int)

	for _, rec := range p.Records {
		if !InBucket(rec.Date, f.DateBucket, now) {
			continue
		}
		if f.Type != "" && !strings.EqualFold(rec.Type, f.Type) {
			continue
		}
		if !f.Level.IsAll() && rec.Level != int(f.Level) {
			continue
		}
		gender, _ := analytics.ParseGender(rec.Gender)
		if f.Gender != analytics.GenderAny && gender != f.Gender {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.StudentName), search) &&
			!strings.Contains(strings.ToLower(rec.Subject), search) {
			continue
		}

		view.Records = append(view.Records, rec)
		view.Total++
		byType[rec.Type]++

		switch gender {
		case analytics.GenderBoys:
			view.Boys++
		case analytics.GenderGirls:
			view.Girls++
		}

		if rec.Level >= 1 && rec.Level <= analytics.LevelCount {
			lc := &view.ByLevel[rec.Level-1]
			lc.Total++
			switch gender {
			case analytics.GenderBoys:
				lc.Boys++
			case analytics.GenderGirls:
				lc.Girls++
			}
		}

		if !rec.Date.IsZero() {
			view.ByMonth[rec.Date.In(now.Location()).Month()-1]++
		}
	}

	view.BoysPercentage = Percentage(view.Boys, view.Total)
	view.GirlsPercentage = Percentage(view.Girls, view.Total)
	for i := range view.ByLevel {
		view.ByLevel[i].Percentage = Percentage(view.ByLevel[i].Total, view.Total)
	}
	view.ByType = typeCounts(byType, view.Total)

	sort.SliceStable(view.Records, func(i, j int) bool {
		a, b := view.Records[i], view.Records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID < b.ID
	})

	return view
}

// InBucket reports whether t falls in the named bucket relative to now.
// Week means the seven calendar days ending today.
func InBucket(t time.Time, bucket analytics.Bucket, now time.Time) bool {
	if t.IsZero() {
		return bucket == analytics.BucketAll || bucket == analytics.BucketCustom
	}

	loc := now.Location()
	t = t.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)

	switch bucket {
	case analytics.BucketToday:
		return !t.Before(today) && t.Before(tomorrow)
	case analytics.BucketWeek:
		return !t.Before(today.AddDate(0, 0, -6)) && t.Before(tomorrow)
	case analytics.BucketMonth:
		return t.Year() == now.Year() && t.Month() == now.Month()
	case analytics.BucketYear:
		return t.Year() == now.Year()
	default:
		return true
	}
}

// isUnfiltered reports whether the backend's own stats answer f. They are
// computed for the whole fetched range, so only the all and custom buckets
// match them.
func isUnfiltered(f analytics.FilterSpec) bool {
	if f.DateBucket != analytics.BucketAll && f.DateBucket != analytics.BucketCustom {
		return false
	}
	return f.Type == "" && f.Gender == analytics.GenderAny && f.SearchTerm == "" && f.Level.IsAll()
}

func fromBackendStats(view *analytics.CorrespondenceView, s analytics.BackendStats) {
	view.FromBackendStats = true
	view.Total = s.Total
	view.ByType = typeCounts(s.ByType, s.Total)

	for key, n := range s.ByLevel {
		l, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(key), "level"))
		if err != nil || l < 1 || l > analytics.LevelCount {
			continue
		}
		view.ByLevel[l-1].Total += n
	}
	for i := range view.ByLevel {
		view.ByLevel[i].Percentage = Percentage(view.ByLevel[i].Total, s.Total)
	}
}

// typeCounts orders by count, largest first, then by name.
func typeCounts(counts map[string]int, total int) []analytics.TypeCount {
	out := make([]analytics.TypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, analytics.TypeCount{Type: t, Count: n, Percentage: Percentage(n, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}
