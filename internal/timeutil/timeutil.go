// Package timeutil provides the UTC calendar-day helpers shared by the
// collectd, fetcher and reportd daemons.
package timeutil

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}

// DateNow returns today's UTC calendar date as "YYYY-MM-DD".
func DateNow() string {
	return Now().Format(dayLayout)
}

// DateYesterday returns yesterday's UTC calendar date as "YYYY-MM-DD".
func DateYesterday() string {
	return Now().AddDate(0, 0, -1).Format(dayLayout)
}

// ParseDay parses a "YYYY-MM-DD" day string as a UTC midnight time.
func ParseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// ReportStartDatetime renders the RFC 8460 date-range start for a day.
func ReportStartDatetime(day string) string {
	return day + "T00:00:00Z"
}

// ReportEndDatetime renders the RFC 8460 date-range end for a day.
func ReportEndDatetime(day string) string {
	return day + "T23:59:59Z"
}

// ReportStartTimestamp returns the Unix timestamp of UTC midnight of day.
func ReportStartTimestamp(day string) (int64, error) {
	t, err := ParseDay(day)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// ReportEndTimestamp returns the Unix timestamp of the last second of day.
func ReportEndTimestamp(day string) (int64, error) {
	start, err := ReportStartTimestamp(day)
	if err != nil {
		return 0, err
	}
	return start + 86400 - 1, nil
}
