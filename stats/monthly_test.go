package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
)

func TestDeriveMonthly_ZeroFill(t *testing.T) {
	records := []analytics.MonthRecord{
		{Month: "Mar", MonthNumber: 3, Year: 2025, Total: 9, Level1: 4, Level2: 5},
		{Month: "October", Year: 2025, Level1: 2, Level3: 1},
		{Month: "Jan", MonthNumber: 1, Year: 2024, Total: 50},
	}

	months := DeriveMonthly(records, 2025, analytics.LevelAll)

	require.Len(t, months, 12)
	for i, m := range months {
		assert.Equal(t, i+1, m.MonthNumber)
		assert.Equal(t, 2025, m.Year)
	}
	assert.Equal(t, "Jan", months[0].Month)
	assert.Equal(t, 0, months[0].Total)
	assert.Equal(t, 9, months[2].Total)
	assert.Equal(t, [analytics.LevelCount]int{4, 5, 0, 0, 0}, months[2].ByLevel)
	assert.Equal(t, 3, months[9].Total)
	assert.Equal(t, "Dec", months[11].Month)
}

func TestDeriveMonthly_Empty(t *testing.T) {
	months := DeriveMonthly(nil, 2025, analytics.LevelAll)
	require.Len(t, months, 12)
	for _, m := range months {
		assert.Equal(t, 0, m.Total)
	}
}

func TestDeriveMonthly_LevelFilter(t *testing.T) {
	records := []analytics.MonthRecord{
		{MonthNumber: 6, Total: 9, Level1: 4, Level2: 5},
	}
	months := DeriveMonthly(records, 2025, 2)
	assert.Equal(t, 5, months[5].Total)
}

func TestYearlyLevelTotals(t *testing.T) {
	totals, ok := YearlyLevelTotals(samplePayload())
	require.True(t, ok)
	assert.Equal(t, [analytics.LevelCount]int{3650, 730, 0, 0, 0}, totals)

	fromMonths := analytics.ComprehensivePayload{
		MonthlyBreakdown: []analytics.MonthRecord{
			{MonthNumber: 1, Level1: 10, Level2: 1},
			{MonthNumber: 2, Level1: 5},
		},
	}
	totals, ok = YearlyLevelTotals(fromMonths)
	require.True(t, ok)
	assert.Equal(t, [analytics.LevelCount]int{15, 1, 0, 0, 0}, totals)

	_, ok = YearlyLevelTotals(analytics.ComprehensivePayload{})
	assert.False(t, ok)
}
