package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

func samplePayload() analytics.ComprehensivePayload {
	return analytics.ComprehensivePayload{
		AllTime: analytics.BucketStats{
			Total: 40, Boys: 24, Girls: 16,
			Level1: analytics.LevelStats{Total: 20, Boys: 12, Girls: 8, Programs: analytics.ProgramBreakdown{
				Boys:  map[string]int{"ICS": 7, "FSc": 5},
				Girls: map[string]int{"ICS": 3, "FA": 5},
			}},
			Level2: analytics.LevelStats{Total: 10, Boys: 6, Girls: 4},
			Level3: analytics.LevelStats{Total: 6, Boys: 4, Girls: 2},
			Level4: analytics.LevelStats{Total: 3, Boys: 1, Girls: 2},
			Level5: analytics.LevelStats{Total: 1, Boys: 1, Girls: 0},
			LevelProgression: map[int]analytics.Progression{
				2: {Current: 10, Previous: 20, Change: 10},
				3: {Current: 6, Previous: 10, Change: -4},
			},
		},
		DateRanges: map[analytics.Bucket]analytics.BucketStats{
			analytics.BucketToday: {
				Total: 2, Boys: 1, Girls: 1,
				Level2: analytics.LevelStats{Total: 2, Boys: 1, Girls: 1},
			},
			analytics.BucketYear: {
				Level1: analytics.LevelStats{Total: 3650},
				Level2: analytics.LevelStats{Total: 730},
			},
		},
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		name  string
		count int
		total int
		want  float64
	}{
		{"zero over zero", 0, 0, 0},
		{"half", 1, 2, 50},
		{"third rounds", 1, 3, 33.33},
		{"negative total", 3, -1, 300},
		{"full", 7, 7, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentage(tt.count, tt.total)
			assert.False(t, math.IsNaN(got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveView_Level2Today(t *testing.T) {
	view := DeriveView(samplePayload(), analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})

	assert.Equal(t, 2, view.Total)
	assert.Equal(t, 1, view.Boys)
	assert.Equal(t, 1, view.Girls)
	assert.Equal(t, 50.0, view.BoysPercentage)
	assert.Equal(t, 50.0, view.GirlsPercentage)
	assert.False(t, view.IsEstimated)
	require.NotNil(t, view.LevelProgression)
	assert.Equal(t, analytics.ProgressionView{}, *view.LevelProgression)
}

func TestDeriveView_AllLevelsSum(t *testing.T) {
	view := DeriveView(samplePayload(), analytics.FilterSpec{})

	assert.Equal(t, analytics.BucketAll, view.Bucket)
	assert.Equal(t, 40, view.Total)
	assert.Equal(t, 24, view.Boys)
	assert.Equal(t, 16, view.Girls)
	assert.Equal(t, 60.0, view.BoysPercentage)
	assert.Nil(t, view.LevelProgression)

	assert.Equal(t, 50.0, view.ByLevel[0].Percentage)
	assert.Equal(t, 25.0, view.ByLevel[1].Percentage)
	for i, lc := range view.ByLevel {
		assert.Equal(t, i+1, lc.Level)
	}
	assert.Equal(t, 7, view.Programs.Boys["ICS"])
	assert.Equal(t, 5, view.Programs.Girls["FA"])
}

func TestDeriveView_MissingBucketIsZero(t *testing.T) {
	view := DeriveView(samplePayload(), analytics.FilterSpec{Level: 3, DateBucket: analytics.BucketWeek})

	assert.Equal(t, 0, view.Total)
	assert.Equal(t, 0.0, view.BoysPercentage)
	assert.Equal(t, 0.0, view.GirlsPercentage)
	assert.NotNil(t, view.Programs.Boys)
	assert.NotNil(t, view.Programs.Girls)
	assert.Nil(t, view.LevelProgression)
}

func TestDeriveView_ZeroPayloadHasNoNaN(t *testing.T) {
	for _, b := range []analytics.Bucket{analytics.BucketAll, analytics.BucketToday, analytics.BucketYear} {
		for l := analytics.LevelAll; l <= analytics.LevelCount; l++ {
			view := DeriveView(analytics.ComprehensivePayload{}, analytics.FilterSpec{Level: l, DateBucket: b})
			assert.False(t, math.IsNaN(view.BoysPercentage))
			assert.False(t, math.IsNaN(view.GirlsPercentage))
			for _, lc := range view.ByLevel {
				assert.False(t, math.IsNaN(lc.Percentage))
			}
		}
	}
}

func TestDeriveView_Deterministic(t *testing.T) {
	p := samplePayload()
	f := analytics.FilterSpec{Level: 1, DateBucket: analytics.BucketAll, Gender: analytics.GenderGirls}

	first := DeriveView(p, f)
	second := DeriveView(p, f)
	assert.Equal(t, first, second)
}

func TestDeriveView_DoesNotAliasPayload(t *testing.T) {
	p := samplePayload()
	view := DeriveView(p, analytics.FilterSpec{Level: 1})

	view.Programs.Boys["ICS"] = 999
	assert.Equal(t, 7, p.AllTime.Level1.Programs.Boys["ICS"])
}

func TestDeriveView_GenderFilter(t *testing.T) {
	p := samplePayload()

	boys := DeriveView(p, analytics.FilterSpec{Level: 1, Gender: analytics.GenderBoys})
	assert.Equal(t, 12, boys.Total)
	assert.Equal(t, 60.0, boys.BoysPercentage)
	assert.Empty(t, boys.Programs.Girls)
	assert.Equal(t, 5, boys.Programs.Boys["FSc"])

	girls := DeriveView(p, analytics.FilterSpec{Level: 1, Gender: analytics.GenderGirls})
	assert.Equal(t, 8, girls.Total)
	assert.Empty(t, girls.Programs.Boys)
}

func TestDeriveView_Progression(t *testing.T) {
	p := samplePayload()

	tests := []struct {
		name  string
		level analytics.Level
		want  *analytics.ProgressionView
	}{
		{"level 1 has none", 1, nil},
		{"positive change", 2, &analytics.ProgressionView{Current: 10, Previous: 20, Change: 10, NotProgressed: 10}},
		{"negative change clamps", 3, &analytics.ProgressionView{Current: 6, Previous: 10, Change: -4, NotProgressed: 0, NeedsReview: true}},
		{"absent reads zero", 5, &analytics.ProgressionView{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := DeriveView(p, analytics.FilterSpec{Level: tt.level})
			assert.Equal(t, tt.want, view.LevelProgression)
		})
	}
}

func TestGenderRatio(t *testing.T) {
	ratio, ok := GenderRatio(samplePayload().AllTime)
	require.True(t, ok)
	assert.InDelta(t, 0.6, ratio, 1e-9)

	ratio, ok = GenderRatio(analytics.BucketStats{Level2: analytics.LevelStats{Boys: 1, Girls: 3}})
	require.True(t, ok)
	assert.InDelta(t, 0.25, ratio, 1e-9)

	_, ok = GenderRatio(analytics.BucketStats{})
	assert.False(t, ok)
}
