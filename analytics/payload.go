// Package analytics holds the data model shared by the aggregation cache:
// the comprehensive enquiry payload, correspondence records, filter specs
// and the derived views handed to rendering collaborators.
package analytics

const LevelCount = 5

// ComprehensivePayload is the single artifact cached by the engine.
type ComprehensivePayload struct {
	AllTime          BucketStats            `json:"allTime"`
	DateRanges       map[Bucket]BucketStats `json:"dateRanges"`
	MonthlyBreakdown []MonthRecord          `json:"monthlyBreakdown"`
}

// BucketStats carries per-level and per-gender totals for one date bucket.
type BucketStats struct {
	Total            int                 `json:"total"`
	Boys             int                 `json:"boys"`
	Girls            int                 `json:"girls"`
	Level1           LevelStats          `json:"level1"`
	Level2           LevelStats          `json:"level2"`
	Level3           LevelStats          `json:"level3"`
	Level4           LevelStats          `json:"level4"`
	Level5           LevelStats          `json:"level5"`
	LevelProgression map[int]Progression `json:"levelProgression,omitempty"`
}

type LevelStats struct {
	Total    int              `json:"total"`
	Boys     int              `json:"boys"`
	Girls    int              `json:"girls"`
	Programs ProgramBreakdown `json:"programs"`
}

type ProgramBreakdown struct {
	Boys  map[string]int `json:"boys"`
	Girls map[string]int `json:"girls"`
}

// Progression compares a level's count in the current period against the
// previous one. Change is whatever the backend reports and may be negative.
type Progression struct {
	Current  int `json:"current"`
	Previous int `json:"previous"`
	Change   int `json:"change"`
}

type MonthRecord struct {
	Month       string `json:"month"`
	MonthNumber int    `json:"monthNumber"`
	Year        int    `json:"year,omitempty"`
	Total       int    `json:"total"`
	Level1      int    `json:"level1"`
	Level2      int    `json:"level2"`
	Level3      int    `json:"level3"`
	Level4      int    `json:"level4"`
	Level5      int    `json:"level5"`
}

// Level returns the stats of level n (1..5); any other n yields zeros.
func (b BucketStats) Level(n int) LevelStats {
	switch n {
	case 1:
		return b.Level1
	case 2:
		return b.Level2
	case 3:
		return b.Level3
	case 4:
		return b.Level4
	case 5:
		return b.Level5
	}
	return LevelStats{}
}

func (b BucketStats) Levels() [LevelCount]LevelStats {
	return [LevelCount]LevelStats{b.Level1, b.Level2, b.Level3, b.Level4, b.Level5}
}

// Bucket looks up a date bucket; "all" maps to AllTime and a missing bucket
// is reported through ok so callers can treat it as an empty state.
func (p ComprehensivePayload) Bucket(name Bucket) (BucketStats, bool) {
	if name == BucketAll {
		return p.AllTime, true
	}
	b, ok := p.DateRanges[name]
	return b, ok
}

func (m MonthRecord) Level(n int) int {
	switch n {
	case 1:
		return m.Level1
	case 2:
		return m.Level2
	case 3:
		return m.Level3
	case 4:
		return m.Level4
	case 5:
		return m.Level5
	}
	return 0
}

// LevelSum is the sum of the five per-level counts; backends do not always
// fill Total.
func (m MonthRecord) LevelSum() int {
	return m.Level1 + m.Level2 + m.Level3 + m.Level4 + m.Level5
}
