package slots

import (
	"sort"
	"time"

	"tutorbook/internal/timemath"
)

// DayAvailability is the open time of one date.
type DayAvailability struct {
	Date             time.Time
	Slots            []AvailabilitySlot
	TotalOpenMinutes int
}

// Key returns the YYYY-MM-DD key of the day.
func (d DayAvailability) Key() string {
	return DateKey(d.Date)
}

// FilterDay extracts the slots of date from a month of slots by linear scan.
// TotalOpenMinutes is the plain sum of slot lengths; overlaps are not merged.
func FilterDay(all []AvailabilitySlot, date time.Time) DayAvailability {
	day := DayAvailability{Date: timemath.DayOf(date)}
	for _, s := range all {
		if !sameDate(s.Date, date) {
			continue
		}
		day.Slots = append(day.Slots, s)
		day.TotalOpenMinutes += s.Minutes()
	}
	sortByStart(day.Slots)
	return day
}

// Index holds a tutor's month of availability and the dates that can be booked.
type Index struct {
	days map[string]DayAvailability
}

// BuildIndex groups slots by date and keeps the dates that have at least one
// minimum-length lesson of open time, are not before today, and are not blackouts.
// Today is taken from now at day granularity in the policy location.
func BuildIndex(all []AvailabilitySlot, now time.Time, p Policy) Index {
	p = p.withDefaults()
	today := timemath.DayOf(now.In(p.Loc()))

	ix := Index{days: make(map[string]DayAvailability)}

	seen := make(map[string]bool)
	for _, s := range all {
		key := DateKey(s.Date)
		if seen[key] {
			continue
		}
		seen[key] = true

		day := FilterDay(all, s.Date)
		if day.TotalOpenMinutes < p.BlockMinutes {
			continue
		}
		if key < DateKey(today) {
			continue
		}
		if blackout, _ := p.IsBlackout(day.Date); blackout {
			continue
		}
		ix.days[key] = day
	}
	return ix
}

// Dates returns the selectable date keys in ascending order.
func (ix Index) Dates() []string {
	out := make([]string, 0, len(ix.days))
	for k := range ix.days {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Days returns the selectable days in ascending date order.
func (ix Index) Days() []DayAvailability {
	keys := ix.Dates()
	out := make([]DayAvailability, 0, len(keys))
	for _, k := range keys {
		out = append(out, ix.days[k])
	}
	return out
}

// Selectable reports whether date can be picked.
func (ix Index) Selectable(date time.Time) bool {
	_, ok := ix.days[DateKey(date)]
	return ok
}

// Day returns the availability of a selectable date.
func (ix Index) Day(date time.Time) (DayAvailability, bool) {
	d, ok := ix.days[DateKey(date)]
	return d, ok
}
