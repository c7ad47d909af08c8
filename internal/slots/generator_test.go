package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Location = time.UTC
	return p
}

func hm(h, m int) int { return h*60 + m }

func dayWith(date time.Time, ranges ...[2]int) DayAvailability {
	day := DayAvailability{Date: date}
	for _, r := range ranges {
		day.Slots = append(day.Slots, AvailabilitySlot{Date: date, Start: r[0], End: r[1]})
		day.TotalOpenMinutes += r[1] - r[0]
	}
	return day
}

func starts(blocks []Block) []int {
	out := make([]int, len(blocks))
	for i, b := range blocks {
		out[i] = b.Start
	}
	return out
}

func TestGenerateStartOptions(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		day      DayAvailability
		expected []int
	}{
		{
			name:     "ninety minute slot",
			day:      dayWith(date, [2]int{hm(9, 0), hm(10, 30)}),
			expected: []int{hm(9, 0), hm(9, 30)},
		},
		{
			name:     "exact block",
			day:      dayWith(date, [2]int{hm(14, 0), hm(14, 45)}),
			expected: []int{hm(14, 0)},
		},
		{
			name:     "slot shorter than a block",
			day:      dayWith(date, [2]int{hm(9, 0), hm(9, 44)}),
			expected: nil,
		},
		{
			name:     "no slots",
			day:      DayAvailability{Date: date},
			expected: nil,
		},
		{
			name:     "off-grid slot start keeps its own phase",
			day:      dayWith(date, [2]int{hm(9, 15), hm(10, 45)}),
			expected: []int{hm(9, 15), hm(9, 45)},
		},
		{
			name: "overlapping slots are deduplicated",
			day: dayWith(date,
				[2]int{hm(9, 0), hm(10, 30)},
				[2]int{hm(9, 30), hm(11, 0)},
			),
			expected: []int{hm(9, 0), hm(9, 30), hm(10, 0)},
		},
		{
			name: "unordered slots come back sorted",
			day: dayWith(date,
				[2]int{hm(16, 0), hm(17, 0)},
				[2]int{hm(8, 0), hm(9, 0)},
			),
			expected: []int{hm(8, 0), hm(16, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateStartOptions(tt.day, now, testPolicy())
			if tt.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.expected, starts(got))
			for _, b := range got {
				assert.Equal(t, MinBlockMinutes, b.End-b.Start)
			}
		})
	}
}

func TestGenerateStartOptions_Containment(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	date := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	for start := hm(6, 0); start < hm(8, 0); start += 5 {
		for length := 0; length <= 240; length += 7 {
			slot := [2]int{start, start + length}
			got := GenerateStartOptions(dayWith(date, slot), now, testPolicy())
			if length < MinBlockMinutes {
				require.Empty(t, got, "slot %v", slot)
				continue
			}
			require.NotEmpty(t, got, "slot %v", slot)
			for _, b := range got {
				require.GreaterOrEqual(t, b.Start, slot[0])
				require.LessOrEqual(t, b.Start+MinBlockMinutes, slot[1])
			}
		}
	}
}

func TestGenerateStartOptions_SameDayLead(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	day := dayWith(date, [2]int{hm(9, 0), hm(13, 0)})

	tests := []struct {
		name  string
		now   time.Time
		first int
	}{
		{"before opening", time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC), hm(9, 0)},
		{"lead lands on boundary", time.Date(2026, 1, 15, 9, 15, 0, 0, time.UTC), hm(9, 30)},
		{"lead rounds up", time.Date(2026, 1, 15, 9, 7, 0, 0, time.UTC), hm(9, 30)},
		{"seconds round up", time.Date(2026, 1, 15, 9, 0, 1, 0, time.UTC), hm(9, 30)},
		{"exactly on boundary", time.Date(2026, 1, 15, 8, 45, 0, 0, time.UTC), hm(9, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateStartOptions(day, tt.now, testPolicy())
			require.NotEmpty(t, got)
			assert.Equal(t, tt.first, got[0].Start)
		})
	}

	late := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	assert.Empty(t, GenerateStartOptions(day, late, testPolicy()))
}

func TestGenerateStartOptions_PastDate(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, GenerateStartOptions(dayWith(date, [2]int{hm(9, 0), hm(12, 0)}), now, testPolicy()))
}

func TestGenerateStartOptions_CustomPolicy(t *testing.T) {
	p := testPolicy()
	p.BlockMinutes = 60
	p.StepMinutes = 60
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	date := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	got := GenerateStartOptions(dayWith(date, [2]int{hm(9, 0), hm(12, 0)}), now, p)
	assert.Equal(t, []int{hm(9, 0), hm(10, 0), hm(11, 0)}, starts(got))
}

func TestLeadCutoff(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, hm(10, 15), LeadCutoff(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), p))
	assert.Equal(t, hm(10, 30), LeadCutoff(time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC), p))
	assert.Equal(t, hm(10, 30), LeadCutoff(time.Date(2026, 1, 1, 10, 14, 59, 0, time.UTC), p))
}

func TestToOptionInfo(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	day := dayWith(date, [2]int{hm(9, 0), hm(10, 30)})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	infos := ToOptionInfo(GenerateStartOptions(day, now, testPolicy()), day, testPolicy())

	require.Len(t, infos, 2)
	assert.Equal(t, OptionInfo{Start: "09:00", End: "09:45", Extendable: true}, infos[0])
	assert.Equal(t, OptionInfo{Start: "09:30", End: "10:15", Extendable: false}, infos[1])
}

func TestFindOption(t *testing.T) {
	blocks := []Block{{Start: 540, End: 585}, {Start: 570, End: 615}}

	b, ok := FindOption(blocks, 570)
	assert.True(t, ok)
	assert.Equal(t, 615, b.End)

	_, ok = FindOption(blocks, 600)
	assert.False(t, ok)
}
