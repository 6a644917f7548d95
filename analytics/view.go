package analytics

// DerivedView is the filter-specific statistics object handed to the UI.
// Views are values: maps inside are private copies and never alias the
// cached payload.
type DerivedView struct {
	Level            Level                   `json:"level"`
	Bucket           Bucket                  `json:"bucket"`
	Gender           Gender                  `json:"gender,omitempty"`
	Total            int                     `json:"total"`
	Boys             int                     `json:"boys"`
	Girls            int                     `json:"girls"`
	BoysPercentage   float64                 `json:"boysPercentage"`
	GirlsPercentage  float64                 `json:"girlsPercentage"`
	ByLevel          [LevelCount]LevelCounts `json:"byLevel"`
	Programs         ProgramBreakdown        `json:"programs"`
	LevelProgression *ProgressionView        `json:"levelProgression,omitempty"`
	IsEstimated      bool                    `json:"isEstimated"`
	Unavailable      bool                    `json:"unavailable,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

type LevelCounts struct {
	Level      int     `json:"level"`
	Total      int     `json:"total"`
	Boys       int     `json:"boys"`
	Girls      int     `json:"girls"`
	Percentage float64 `json:"percentage"`
}

// ProgressionView is the display form of a level's Progression.
// NotProgressed is never negative; NeedsReview marks source data whose
// change value could not be read as a count.
type ProgressionView struct {
	Current       int  `json:"current"`
	Previous      int  `json:"previous"`
	Change        int  `json:"change"`
	NotProgressed int  `json:"notProgressed"`
	NeedsReview   bool `json:"needsReview,omitempty"`
}

type MonthCount struct {
	Month       string          `json:"month"`
	MonthNumber int             `json:"monthNumber"`
	Year        int             `json:"year"`
	Total       int             `json:"total"`
	ByLevel     [LevelCount]int `json:"byLevel"`
}

// ZeroView is the safe all-zero structure returned while nothing is loaded.
func ZeroView(f FilterSpec) DerivedView {
	v := DerivedView{
		Level:  f.Level,
		Bucket: f.DateBucket,
		Gender: f.Gender,
		Programs: ProgramBreakdown{
			Boys:  map[string]int{},
			Girls: map[string]int{},
		},
	}
	for i := range v.ByLevel {
		v.ByLevel[i].Level = i + 1
	}
	return v
}
