package slots

import (
	"fmt"
	"time"
)

// MonthLayout is the YYYY-MM layout of a month key.
const MonthLayout = "2006-01"

// ParseMonth parses a YYYY-MM month key into its first day in loc.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	m, err := time.ParseInLocation(MonthLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
	}
	return m, nil
}

// MonthRange returns the first and last calendar dates of month's month.
func MonthRange(month time.Time) (first, last time.Time) {
	first = time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	last = first.AddDate(0, 1, -1)
	return first, last
}

// MonthKey returns the YYYY-MM key of t.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}
