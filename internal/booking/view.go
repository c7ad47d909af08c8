package booking

import (
	"time"

	"tutorbook/internal/slots"
	"tutorbook/internal/timemath"
)

// View is a read-only snapshot of a session.
type View struct {
	ID         string         `json:"id"`
	StudentID  string         `json:"student_id"`
	Step       Step           `json:"step"`
	TutorID    string         `json:"tutor_id,omitempty"`
	TutorName  string         `json:"tutor_name,omitempty"`
	Month      string         `json:"month,omitempty"`
	HourlyRate float64        `json:"hourly_rate,omitempty"`
	Loading    bool           `json:"loading"`
	Error      string         `json:"error,omitempty"`
	Dates      []DateView     `json:"dates"`
	Day        *DayView       `json:"day,omitempty"`
	Selection  *SelectionView `json:"selection,omitempty"`
	Fields     FormFields     `json:"fields"`
	LessonID   string         `json:"lesson_id,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DateView is a selectable date.
type DateView struct {
	Date             string `json:"date"`
	TotalOpenMinutes int    `json:"total_open_minutes"`
}

// DayView is the selected day with its start options.
type DayView struct {
	Date             string             `json:"date"`
	TotalOpenMinutes int                `json:"total_open_minutes"`
	Options          []slots.OptionInfo `json:"options"`
	NoAvailability   bool               `json:"no_availability"`
}

// SelectionView previews the chosen lesson.
type SelectionView struct {
	Start           string  `json:"start"`
	End             string  `json:"end"`
	Extended        bool    `json:"extended"`
	CanExtend       bool    `json:"can_extend"`
	DurationMinutes int     `json:"duration_minutes"`
	Durations       []int   `json:"durations"` // bookable lengths from Start
	Price           float64 `json:"price"`
}

// View returns a snapshot of the session computed against the current
// clock and policy.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.submitting && (s.step == StepBlock || s.step == StepReady) {
		_ = s.revalidateLocked()
	}

	v := View{
		ID:         s.ID,
		StudentID:  s.StudentID,
		Step:       s.step,
		TutorID:    s.tutorID,
		TutorName:  s.tutorName,
		HourlyRate: s.rate,
		Loading:    s.loading,
		Dates:      []DateView{},
		Fields:     s.fields,
		LessonID:   s.lessonID,
		UpdatedAt:  s.updatedAt,
	}
	if !s.month.IsZero() {
		v.Month = slots.MonthKey(s.month)
	}
	if s.loadErr != nil {
		v.Error = s.loadErr.Error()
	}

	p := s.deps.Policy()
	now := s.deps.Clock.Now()
	for _, d := range slots.BuildIndex(s.slots, now, p).Days() {
		v.Dates = append(v.Dates, DateView{Date: d.Key(), TotalOpenMinutes: d.TotalOpenMinutes})
	}

	if s.sel.Day.IsZero() {
		return v
	}
	day, offered := s.offeredLocked(p, now)
	options := slots.ToOptionInfo(offered, day, p)
	v.Day = &DayView{
		Date:             day.Key(),
		TotalOpenMinutes: day.TotalOpenMinutes,
		Options:          options,
		NoAvailability:   len(options) == 0,
	}

	if s.sel.Primary == nil {
		return v
	}
	end := s.sel.End()
	_, canExtend := slots.FindAdjacent(*s.sel.Primary, day.Slots, p)
	duration := end.End - s.sel.Primary.Start
	v.Selection = &SelectionView{
		Start:           timemath.FormatMinutes(s.sel.Primary.Start),
		End:             timemath.FormatMinutes(end.End),
		Extended:        s.sel.Adjacent != nil,
		CanExtend:       canExtend,
		DurationMinutes: duration,
		Durations:       slots.DurationOptions(*s.sel.Primary, day.Slots, p),
		Price:           timemath.Price(duration, s.rate),
	}
	return v
}
