package analytics

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

const DateLayout = "2006-01-02"

type Bucket string

const (
	BucketToday  Bucket = "today"
	BucketWeek   Bucket = "week"
	BucketMonth  Bucket = "month"
	BucketYear   Bucket = "year"
	BucketAll    Bucket = "all"
	BucketCustom Bucket = "custom"
)

// CachedBuckets are the buckets the backend pre-aggregates in dateRanges.
var CachedBuckets = []Bucket{BucketToday, BucketWeek, BucketMonth, BucketYear}

// Level selects one school level; LevelAll (zero) sums all five.
type Level int

const LevelAll Level = 0

func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return LevelAll, nil
	}
	s = strings.TrimPrefix(s, "level")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > LevelCount {
		return LevelAll, types.Errorf(types.ErrInvalidLevel, "%q", s)
	}
	return Level(n), nil
}

func (l Level) IsAll() bool { return l == LevelAll }

func (l Level) String() string {
	if l == LevelAll {
		return "all"
	}
	return strconv.Itoa(int(l))
}

func (l Level) MarshalJSON() ([]byte, error) {
	if l == LevelAll {
		return []byte(`"all"`), nil
	}
	return []byte(strconv.Itoa(int(l))), nil
}

func (l *Level) UnmarshalJSON(data []byte) error {
	parsed, err := ParseLevel(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

type Gender string

const (
	GenderAny   Gender = ""
	GenderBoys  Gender = "boys"
	GenderGirls Gender = "girls"
)

// ParseGender accepts the dashboard's mixed vocabulary (male/boys,
// female/girls).
func ParseGender(s string) (Gender, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "all", "any":
		return GenderAny, nil
	case "boys", "boy", "male", "m":
		return GenderBoys, nil
	case "girls", "girl", "female", "f":
		return GenderGirls, nil
	}
	return GenderAny, types.Errorf(types.ErrInvalidFilter, "unknown gender %q", s)
}

// FilterSpec describes one requested view. Equal specs over the same cache
// entry always derive equal views.
type FilterSpec struct {
	Level      Level  `json:"level" validate:"min=0,max=5"`
	DateBucket Bucket `json:"dateBucket" validate:"oneof=today week month year all custom"`
	Type       string `json:"type,omitempty"`
	Gender     Gender `json:"gender,omitempty" validate:"omitempty,oneof=boys girls"`
	SearchTerm string `json:"searchTerm,omitempty"`
}

func (f FilterSpec) Validate() error {
	if err := validate.Struct(f); err != nil {
		return types.WrapError(types.ErrInvalidFilter, err.Error())
	}
	return nil
}

// Normalize fills the defaults a UI leaves out: an empty bucket means all.
func (f FilterSpec) Normalize() FilterSpec {
	if f.DateBucket == "" {
		f.DateBucket = BucketAll
	}
	f.Type = strings.TrimSpace(f.Type)
	f.SearchTerm = strings.TrimSpace(f.SearchTerm)
	return f
}

// CustomRange is an inclusive calendar-date range.
type CustomRange struct {
	StartDate time.Time `json:"startDate" validate:"required"`
	EndDate   time.Time `json:"endDate" validate:"required,gtefield=StartDate"`
}

func ParseCustomRange(start, end string) (CustomRange, error) {
	s, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return CustomRange{}, types.Errorf(types.ErrInvalidRange, "start date %q", start)
	}
	e, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return CustomRange{}, types.Errorf(types.ErrInvalidRange, "end date %q", end)
	}
	r := CustomRange{StartDate: s, EndDate: e}
	return r, r.Validate()
}

func (r CustomRange) Validate() error {
	if err := validate.Struct(r); err != nil {
		return types.WrapError(types.ErrInvalidRange, err.Error())
	}
	return nil
}

// Days counts calendar days in the range, both ends included.
func (r CustomRange) Days() int {
	s := civil(r.StartDate)
	e := civil(r.EndDate)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

func (r CustomRange) Start() string { return r.StartDate.Format(DateLayout) }
func (r CustomRange) End() string   { return r.EndDate.Format(DateLayout) }

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var validate = validator.New(validator.WithRequiredStructEnabled())
