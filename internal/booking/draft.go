// Package booking turns a chosen lesson time into a validated lesson draft and
// keeps the per-student booking sessions that drive the selection.
package booking

import (
	"fmt"
	"strings"
	"time"

	"tutorbook/internal/slots"
	"tutorbook/internal/timemath"
	"tutorbook/internal/tutorapi"
)

// Validation error codes.
const (
	CodeMissingField     = "missing-required-field"
	CodeDurationTooShort = "duration-too-short"
	CodeDurationTooLong  = "duration-too-long"
	CodeInvalidSelection = "invalid-selection"
)

// ValidationError is a user-correctable problem with a booking.
type ValidationError struct {
	Code  string
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Field)
	}
	return e.Code
}

// Selection is the chosen lesson time. Adjacent, when set, starts where
// Primary ends and the two lie in one open slot.
type Selection struct {
	Day      time.Time
	Primary  *slots.Block
	Adjacent *slots.Block
}

// Clear drops the chosen blocks and keeps the day.
func (s *Selection) Clear() {
	s.Primary = nil
	s.Adjacent = nil
}

// End returns the last chosen block.
func (s Selection) End() *slots.Block {
	if s.Adjacent != nil {
		return s.Adjacent
	}
	return s.Primary
}

// FormFields are the lesson details typed by the student.
type FormFields struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Level       string `json:"level"`
	Description string `json:"description,omitempty"`
}

// Participants identifies who the lesson is between and at what rate.
type Participants struct {
	TutorID    string
	StudentID  string
	HourlyRate float64
}

// LessonDraft is a validated lesson ready to hand to the backend.
type LessonDraft struct {
	TutorID         string    `json:"tutor_id"`
	StudentID       string    `json:"student_id"`
	Title           string    `json:"title"`
	Subject         string    `json:"subject"`
	Level           string    `json:"level"`
	Description     string    `json:"description,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	HourlyRate      float64   `json:"hourly_rate"`
	TotalPrice      float64   `json:"total_price"`
	StartLabel      string    `json:"start_label"`
	EndLabel        string    `json:"end_label"`
}

// Request converts the draft to the backend's lesson creation body.
func (d LessonDraft) Request() tutorapi.LessonRequest {
	return tutorapi.LessonRequest{
		TutorID:         d.TutorID,
		StudentID:       d.StudentID,
		Title:           d.Title,
		Subject:         d.Subject,
		Level:           d.Level,
		Description:     d.Description,
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		DurationMinutes: d.DurationMinutes,
		HourlyRate:      d.HourlyRate,
		TotalPrice:      d.TotalPrice,
		StartLabel:      d.StartLabel,
		EndLabel:        d.EndLabel,
	}
}

// Formatter renders timestamps for display.
type Formatter interface {
	Format(t time.Time) string
}

// LayoutFormatter formats with a time layout.
type LayoutFormatter string

// DefaultFormatter renders "Mon, 02 Jan 2006 15:04".
const DefaultFormatter LayoutFormatter = "Mon, 02 Jan 2006 15:04"

func (f LayoutFormatter) Format(t time.Time) string {
	return t.Format(string(f))
}

// Finalize validates a selection with its form fields and builds the lesson
// draft. It performs no I/O.
func Finalize(sel Selection, who Participants, fields FormFields, p slots.Policy, f Formatter) (LessonDraft, error) {
	if err := requireFields(sel, who, fields); err != nil {
		return LessonDraft{}, err
	}
	if sel.Adjacent != nil && sel.Adjacent.Start != sel.Primary.End {
		return LessonDraft{}, &ValidationError{Code: CodeInvalidSelection, Field: "adjacent_block"}
	}
	if f == nil {
		f = DefaultFormatter
	}

	end := sel.End()
	startTime := timemath.At(sel.Day, sel.Primary.Start)
	endTime := timemath.At(sel.Day, end.End)

	duration := int(endTime.Sub(startTime) / time.Minute)
	if duration < p.MinLessonMinutes() {
		return LessonDraft{}, &ValidationError{Code: CodeDurationTooShort}
	}
	if duration > p.MaxLessonMinutes() {
		return LessonDraft{}, &ValidationError{Code: CodeDurationTooLong}
	}

	return LessonDraft{
		TutorID:         who.TutorID,
		StudentID:       who.StudentID,
		Title:           strings.TrimSpace(fields.Title),
		Subject:         strings.TrimSpace(fields.Subject),
		Level:           strings.TrimSpace(fields.Level),
		Description:     strings.TrimSpace(fields.Description),
		StartTime:       startTime,
		EndTime:         endTime,
		DurationMinutes: duration,
		HourlyRate:      who.HourlyRate,
		TotalPrice:      timemath.Price(duration, who.HourlyRate),
		StartLabel:      f.Format(startTime),
		EndLabel:        f.Format(endTime),
	}, nil
}

func requireFields(sel Selection, who Participants, fields FormFields) error {
	required := []struct {
		name    string
		missing bool
	}{
		{"day", sel.Day.IsZero()},
		{"primary_block", sel.Primary == nil},
		{"title", strings.TrimSpace(fields.Title) == ""},
		{"subject", strings.TrimSpace(fields.Subject) == ""},
		{"level", strings.TrimSpace(fields.Level) == ""},
		{"student_id", strings.TrimSpace(who.StudentID) == ""},
		{"tutor_id", strings.TrimSpace(who.TutorID) == ""},
	}
	for _, r := range required {
		if r.missing {
			return &ValidationError{Code: CodeMissingField, Field: r.name}
		}
	}
	return nil
}
