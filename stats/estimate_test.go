package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

func TestEstimateRange_TenDays(t *testing.T) {
	yearly := [analytics.LevelCount]int{3650}

	view := EstimateRange(yearly, 10, 365, 0.6, analytics.LevelAll)

	assert.True(t, view.IsEstimated)
	assert.Equal(t, analytics.BucketCustom, view.Bucket)
	assert.Equal(t, 100, view.Total)
	assert.Equal(t, 60, view.Boys)
	assert.Equal(t, 40, view.Girls)
	assert.Equal(t, 100.0, view.ByLevel[0].Percentage)
}

func TestEstimateRange_SingleLevel(t *testing.T) {
	yearly := [analytics.LevelCount]int{3650, 730}

	view := EstimateRange(yearly, 10, 365, 0.5, 2)

	assert.Equal(t, 20, view.Total)
	assert.Equal(t, 10, view.Boys)
	assert.Equal(t, 10, view.Girls)
	assert.Equal(t, 100, view.ByLevel[0].Total)
}

func TestEstimateRange_BadInputs(t *testing.T) {
	yearly := [analytics.LevelCount]int{365}

	view := EstimateRange(yearly, 1, 0, math.NaN(), analytics.LevelAll)

	assert.True(t, view.IsEstimated)
	assert.Equal(t, 1, view.Total)
	assert.False(t, math.IsNaN(view.BoysPercentage))

	empty := EstimateRange([analytics.LevelCount]int{}, 30, 365, 0.6, analytics.LevelAll)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 0.0, empty.BoysPercentage)
}
