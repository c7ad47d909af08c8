package slots

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tutorbook/internal/timemath"
)

// AvailabilitySlot is one contiguous open interval [Start, End) on one date.
// Start and End are minutes since midnight.
type AvailabilitySlot struct {
	Date  time.Time
	Start int
	End   int
}

// Minutes returns the slot length.
func (s AvailabilitySlot) Minutes() int {
	return s.End - s.Start
}

// Covers reports whether [from, to) lies inside the slot.
func (s AvailabilitySlot) Covers(from, to int) bool {
	return s.Start <= from && to <= s.End
}

// RawSlot is an availability entry as received from the backend.
type RawSlot struct {
	Date      string // ISO date, optionally with a time component
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
}

// ParseSlot converts a raw entry to an AvailabilitySlot on a date in loc.
func ParseSlot(raw RawSlot, loc *time.Location) (AvailabilitySlot, error) {
	if loc == nil {
		loc = time.Local
	}
	date, err := ParseDate(raw.Date, loc)
	if err != nil {
		return AvailabilitySlot{}, err
	}
	start, err := timemath.ToMinutes(raw.StartTime)
	if err != nil {
		return AvailabilitySlot{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := timemath.ToMinutes(raw.EndTime)
	if err != nil {
		return AvailabilitySlot{}, fmt.Errorf("end_time: %w", err)
	}
	if end <= start {
		return AvailabilitySlot{}, fmt.Errorf("slot %s %s-%s: end must be after start", raw.Date, raw.StartTime, raw.EndTime)
	}
	return AvailabilitySlot{Date: date, Start: start, End: end}, nil
}

// Ingest parses every raw entry, skipping malformed ones. The rejected
// entries are returned as errors so callers can log them.
func Ingest(raw []RawSlot, loc *time.Location) ([]AvailabilitySlot, []error) {
	out := make([]AvailabilitySlot, 0, len(raw))
	var rejected []error
	for i, r := range raw {
		s, err := ParseSlot(r, loc)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("slot[%d]: %w", i, err))
			continue
		}
		out = append(out, s)
	}
	return out, rejected
}

// ParseDate reads the date component of an ISO date or timestamp in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(timemath.DateLayout) {
		s = s[:len(timemath.DateLayout)]
	}
	d, err := time.ParseInLocation(timemath.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// DateKey returns the YYYY-MM-DD key of t.
func DateKey(t time.Time) string {
	return t.Format(timemath.DateLayout)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sortByStart(slots []AvailabilitySlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start < slots[j].Start
	})
}
