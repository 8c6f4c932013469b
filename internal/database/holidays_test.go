package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

func TestHolidayRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()

	newYear := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	australiaDay := time.Date(2024, 1, 26, 0, 0, 0, 0, time.UTC)

	t.Run("UpsertHoliday then ListHolidays by market and range", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertHoliday(ctx, &models.Holiday{Market: "ASX", Date: newYear, Name: "New Year's Day"}))
		require.NoError(t, testDB.UpsertHoliday(ctx, &models.Holiday{Market: "ASX", Date: australiaDay, Name: "Australia Day"}))
		require.NoError(t, testDB.UpsertHoliday(ctx, &models.Holiday{Market: "NZX", Date: newYear, Name: "New Year's Day"}))

		holidays, err := testDB.ListHolidays(ctx, "ASX", newYear, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, holidays, 2)
		assert.Equal(t, "New Year's Day", holidays[0].Name)
		assert.True(t, australiaDay.Equal(holidays[1].Date))

		holidays, err = testDB.ListHolidays(ctx, "ASX", newYear.AddDate(0, 0, 1), australiaDay.AddDate(0, 0, -1))
		require.NoError(t, err)
		assert.Empty(t, holidays)
	})

	t.Run("UpsertHoliday renames an existing holiday", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertHoliday(ctx, &models.Holiday{Market: "ASX", Date: newYear, Name: "NYD"}))
		require.NoError(t, testDB.UpsertHoliday(ctx, &models.Holiday{Market: "ASX", Date: newYear, Name: "New Year's Day"}))

		holidays, err := testDB.ListHolidays(ctx, "ASX", newYear, newYear)
		require.NoError(t, err)
		require.Len(t, holidays, 1)
		assert.Equal(t, "New Year's Day", holidays[0].Name)
	})
	t.Run("calendar years are recorded per market", func(t *testing.T) {
		testDB.TruncateAll(t)

		years, err := testDB.ListCalendarYears(ctx, "ASX")
		require.NoError(t, err)
		assert.Empty(t, years, "an empty table covers nothing")

		require.NoError(t, testDB.MarkCalendarYear(ctx, "ASX", 2025))
		require.NoError(t, testDB.MarkCalendarYear(ctx, "ASX", 2024))
		require.NoError(t, testDB.MarkCalendarYear(ctx, "ASX", 2024))
		require.NoError(t, testDB.MarkCalendarYear(ctx, "NZX", 2026))

		years, err = testDB.ListCalendarYears(ctx, "ASX")
		require.NoError(t, err)
		assert.Equal(t, []int{2024, 2025}, years)
	})
}
