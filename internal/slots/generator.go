package slots

import (
	"sort"
	"time"

	"tutorbook/internal/timemath"
)

// Block is one fixed-length lesson unit [Start, End) in minutes since midnight.
type Block struct {
	Start int
	End   int
}

// NewBlock returns the block of the policy length starting at start.
func NewBlock(start int, p Policy) Block {
	p = p.withDefaults()
	return Block{Start: start, End: start + p.BlockMinutes}
}

// OptionInfo is a simplified start option for the UI.
type OptionInfo struct {
	Start      string `json:"start"` // "09:00"
	End        string `json:"end"`   // "09:45"
	Extendable bool   `json:"extendable"`
}

// GenerateStartOptions enumerates the block start options of a day. For every
// slot [s, e) it offers starts s, s+step, ... while start+block <= e. Duplicates
// across overlapping slots are removed and the result is sorted by start.
// On the current date, starts earlier than the same-day lead time are dropped;
// past dates yield nothing.
func GenerateStartOptions(day DayAvailability, now time.Time, p Policy) []Block {
	p = p.withDefaults()

	earliest, open := earliestStart(day.Date, now, p)
	if !open {
		return nil
	}

	seen := make(map[Block]struct{})
	var blocks []Block
	for _, s := range day.Slots {
		for t := s.Start; t+p.BlockMinutes <= s.End; t += p.StepMinutes {
			if t < earliest {
				continue
			}
			b := Block{Start: t, End: t + p.BlockMinutes}
			if _, dup := seen[b]; dup {
				continue
			}
			seen[b] = struct{}{}
			blocks = append(blocks, b)
		}
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Start < blocks[j].Start
	})
	return blocks
}

// earliestStart returns the first minute of date that may be offered.
// It reports false when the whole date is in the past.
func earliestStart(date, now time.Time, p Policy) (int, bool) {
	now = now.In(p.Loc())
	dayKey, todayKey := DateKey(date), DateKey(now)
	switch {
	case dayKey < todayKey:
		return 0, false
	case dayKey > todayKey:
		return 0, true
	}
	return LeadCutoff(now, p), true
}

// LeadCutoff returns now plus the lead time, rounded up to the next rounding
// boundary, as minutes since midnight of now's date.
func LeadCutoff(now time.Time, p Policy) int {
	p = p.withDefaults()
	m := timemath.MinuteOfDay(now) + p.LeadMinutes
	if now.Second() > 0 || now.Nanosecond() > 0 {
		m++
	}
	if rem := m % p.LeadRoundMinutes; rem != 0 {
		m += p.LeadRoundMinutes - rem
	}
	return m
}

// ToOptionInfo converts blocks to OptionInfo, marking which can be extended.
func ToOptionInfo(blocks []Block, day DayAvailability, p Policy) []OptionInfo {
	result := make([]OptionInfo, len(blocks))
	for i, b := range blocks {
		_, ext := FindAdjacent(b, day.Slots, p)
		result[i] = OptionInfo{
			Start:      timemath.FormatMinutes(b.Start),
			End:        timemath.FormatMinutes(b.End),
			Extendable: ext,
		}
	}
	return result
}

// FindOption returns the offered block starting at start.
func FindOption(blocks []Block, start int) (Block, bool) {
	for _, b := range blocks {
		if b.Start == start {
			return b, true
		}
	}
	return Block{}, false
}
