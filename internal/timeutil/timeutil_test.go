package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDatetimeFormatting(t *testing.T) {
	assert.Equal(t, "2024-01-02T00:00:00Z", ReportStartDatetime("2024-01-02"))
	assert.Equal(t, "2024-01-02T23:59:59Z", ReportEndDatetime("2024-01-02"))
}

func TestReportTimestampIsMultipleOf86400(t *testing.T) {
	tests := []string{"1970-01-02", "2024-01-01", "2024-12-31"}
	for _, day := range tests {
		start, err := ReportStartTimestamp(day)
		require.NoError(t, err)
		assert.Zero(t, start%86400, "start timestamp for %s must be a multiple of 86400", day)

		end, err := ReportEndTimestamp(day)
		require.NoError(t, err)
		assert.Equal(t, start+86399, end)
	}
}

func TestReportStartTimestampInvalidDay(t *testing.T) {
	_, err := ReportStartTimestamp("not-a-day")
	assert.Error(t, err)
}

func TestDateYesterdayIsBeforeDateNow(t *testing.T) {
	today, err := ParseDay(DateNow())
	require.NoError(t, err)
	yesterday, err := ParseDay(DateYesterday())
	require.NoError(t, err)
	assert.True(t, yesterday.Before(today))
}
