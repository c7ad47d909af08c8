// Package slots turns a tutor's open availability ranges into bookable lesson blocks.
package slots

import "time"

// Booking policy defaults.
const (
	MinBlockMinutes  = 45 // length of one lesson block and the minimum lesson
	StepMinutes      = 30 // spacing between offered start times
	MaxBlocks        = 2  // consecutive blocks one lesson may span
	LeadMinutes      = 15 // minimum notice for a same-day start
	LeadRoundMinutes = 15 // same-day earliest start is rounded up to this boundary
)

// Policy holds the scheduling rules the algorithms run with.
type Policy struct {
	BlockMinutes     int
	StepMinutes      int
	MaxBlocks        int
	LeadMinutes      int
	LeadRoundMinutes int
	// Blackouts maps YYYY-MM-DD to a reason; such dates are never selectable.
	Blackouts map[string]string
	Location  *time.Location
}

// DefaultPolicy returns the policy built from the package constants.
func DefaultPolicy() Policy {
	return Policy{
		BlockMinutes:     MinBlockMinutes,
		StepMinutes:      StepMinutes,
		MaxBlocks:        MaxBlocks,
		LeadMinutes:      LeadMinutes,
		LeadRoundMinutes: LeadRoundMinutes,
		Location:         time.Local,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BlockMinutes <= 0 {
		p.BlockMinutes = d.BlockMinutes
	}
	if p.StepMinutes <= 0 {
		p.StepMinutes = d.StepMinutes
	}
	if p.MaxBlocks <= 0 {
		p.MaxBlocks = d.MaxBlocks
	}
	if p.LeadMinutes < 0 {
		p.LeadMinutes = 0
	}
	if p.LeadRoundMinutes <= 0 {
		p.LeadRoundMinutes = d.LeadRoundMinutes
	}
	if p.Location == nil {
		p.Location = d.Location
	}
	return p
}

// Loc returns the policy's location, defaulting to time.Local.
func (p Policy) Loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// MinLessonMinutes is the shortest bookable lesson.
func (p Policy) MinLessonMinutes() int {
	return p.withDefaults().BlockMinutes
}

// MaxLessonMinutes is the longest bookable lesson.
func (p Policy) MaxLessonMinutes() int {
	p = p.withDefaults()
	return p.BlockMinutes * p.MaxBlocks
}

// IsBlackout reports whether date is a configured blackout day.
func (p Policy) IsBlackout(date time.Time) (bool, string) {
	if len(p.Blackouts) == 0 {
		return false, ""
	}
	reason, ok := p.Blackouts[DateKey(date)]
	return ok, reason
}
