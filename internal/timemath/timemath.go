// Package timemath converts clock strings to minutes since midnight and back,
// and computes lesson durations and prices.
package timemath

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a minute-of-day value.
const MinutesPerDay = 24 * 60

// DateLayout is the calendar date layout used for keys and wire values.
const DateLayout = "2006-01-02"

// ParseError reports a malformed "HH:MM" clock string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse clock time %q: %s", e.Input, e.Reason)
}

// ToMinutes parses a 24-hour "HH:MM" string to minutes since midnight.
// A trailing ":SS" segment is accepted and ignored.
func ToMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, &ParseError{Input: s, Reason: "expected HH:MM"}
	}

	hour, err := parseField(parts[0])
	if err != nil || hour > 23 {
		return 0, &ParseError{Input: s, Reason: "invalid hour"}
	}
	minute, err := parseField(parts[1])
	if err != nil || len(parts[1]) != 2 || minute > 59 {
		return 0, &ParseError{Input: s, Reason: "invalid minute"}
	}
	if len(parts) == 3 {
		sec, err := parseField(parts[2])
		if err != nil || len(parts[2]) != 2 || sec > 59 {
			return 0, &ParseError{Input: s, Reason: "invalid second"}
		}
	}

	return hour*60 + minute, nil
}

func parseField(s string) (int, error) {
	if s == "" || len(s) > 2 {
		return 0, fmt.Errorf("bad field %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad field %q", s)
		}
	}
	return strconv.Atoi(s)
}

// FormatMinutes renders minutes since midnight as "HH:MM".
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// DurationMinutes returns end minus start in minutes. The result is negative
// when end is before start; callers guard against that.
func DurationMinutes(start, end string) (int, error) {
	s, err := ToMinutes(start)
	if err != nil {
		return 0, err
	}
	e, err := ToMinutes(end)
	if err != nil {
		return 0, err
	}
	return e - s, nil
}

// Price returns hourlyRate prorated to durationMinutes. No rounding is applied.
func Price(durationMinutes int, hourlyRate float64) float64 {
	return hourlyRate * float64(durationMinutes) / 60
}

// At returns the instant on day's calendar date at minute-of-day m, in day's location.
func At(day time.Time, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, m, 0, 0, day.Location())
}

// DayOf truncates t to midnight of its calendar date in its own location.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MinuteOfDay returns the minutes elapsed since midnight for t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
