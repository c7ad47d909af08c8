package slots

// FindAdjacent returns the block immediately after primary when the combined
// span fits in a single open slot. It reports false when no slot covers the
// span or the policy allows a single block only.
func FindAdjacent(primary Block, daySlots []AvailabilitySlot, p Policy) (Block, bool) {
	p = p.withDefaults()
	if p.MaxBlocks < 2 {
		return Block{}, false
	}

	next := NewBlock(primary.End, p)
	if _, ok := ContainingSlot(primary.Start, next.End, daySlots); !ok {
		return Block{}, false
	}
	return next, true
}

// ContainingSlot returns the first slot that fully covers [from, to).
func ContainingSlot(from, to int, daySlots []AvailabilitySlot) (AvailabilitySlot, bool) {
	for _, s := range daySlots {
		if s.Covers(from, to) {
			return s, true
		}
	}
	return AvailabilitySlot{}, false
}

// DurationOptions lists the lesson lengths bookable from primary, one entry
// per number of consecutive blocks up to the policy maximum. Each span has to
// lie in one slot.
func DurationOptions(primary Block, daySlots []AvailabilitySlot, p Policy) []int {
	p = p.withDefaults()

	var options []int
	for n := 1; n <= p.MaxBlocks; n++ {
		end := primary.Start + n*p.BlockMinutes
		if _, ok := ContainingSlot(primary.Start, end, daySlots); !ok {
			break
		}
		options = append(options, n*p.BlockMinutes)
	}
	return options
}
