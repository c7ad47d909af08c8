package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tutorbook/internal/booking"
	"tutorbook/internal/metrics"
	"tutorbook/internal/slots"
	"tutorbook/internal/timemath"
)

// CalendarResponse lists the selectable dates of a tutor's month.
type CalendarResponse struct {
	TutorID string             `json:"tutor_id"`
	Month   string             `json:"month"`
	Dates   []booking.DateView `json:"dates"`
}

// DayOptionsResponse lists the start options of one day.
type DayOptionsResponse struct {
	TutorID          string             `json:"tutor_id"`
	Date             string             `json:"date"`
	TotalOpenMinutes int                `json:"total_open_minutes"`
	Selectable       bool               `json:"selectable"`
	Options          []slots.OptionInfo `json:"options"`
	NoAvailability   bool               `json:"no_availability"`
}

// handleCalendar returns the selectable dates of a month.
// GET /api/v1/tutors/{tutorID}/calendar?month=YYYY-MM
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("calendar")

	p := s.policy()
	tutorID := strings.TrimSpace(r.PathValue("tutorID"))
	month, err := s.monthParam(r.URL.Query().Get("month"), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	all, err := s.loadMonth(r.Context(), tutorID, month, p)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := CalendarResponse{TutorID: tutorID, Month: slots.MonthKey(month), Dates: []booking.DateView{}}
	for _, d := range slots.BuildIndex(all, s.clock.Now(), p).Days() {
		resp.Dates = append(resp.Dates, booking.DateView{Date: d.Key(), TotalOpenMinutes: d.TotalOpenMinutes})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDayOptions returns the start options of a day.
// GET /api/v1/tutors/{tutorID}/days/{date}/options
func (s *HTTPServer) handleDayOptions(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("day_options")

	p := s.policy()
	tutorID := strings.TrimSpace(r.PathValue("tutorID"))
	date, err := parseDateParam(r.PathValue("date"), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", "invalid date format; expected YYYY-MM-DD")
		return
	}

	all, err := s.loadMonth(r.Context(), tutorID, date, p)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	now := s.clock.Now()
	day := slots.FilterDay(all, date)
	resp := DayOptionsResponse{
		TutorID:          tutorID,
		Date:             slots.DateKey(date),
		TotalOpenMinutes: day.TotalOpenMinutes,
		Selectable:       slots.BuildIndex(all, now, p).Selectable(date),
		Options:          []slots.OptionInfo{},
	}
	if resp.Selectable {
		resp.Options = slots.ToOptionInfo(slots.GenerateStartOptions(day, now, p), day, p)
	}
	resp.NoAvailability = len(resp.Options) == 0
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) loadMonth(ctx context.Context, tutorID string, month time.Time, p slots.Policy) ([]slots.AvailabilitySlot, error) {
	if tutorID == "" {
		return nil, &booking.ValidationError{Code: booking.CodeMissingField, Field: "tutor_id"}
	}
	first, last := slots.MonthRange(month)
	resp, err := s.availability.GetAvailability(ctx, tutorID, first, last)
	if err != nil {
		metrics.IncAvailabilityFetch("error")
		s.logger.Error().Err(err).Str("tutor_id", tutorID).Str("month", slots.MonthKey(first)).Msg("availability fetch failed")
		return nil, err
	}
	metrics.IncAvailabilityFetch("ok")

	raw := make([]slots.RawSlot, 0, len(resp.AvailableSlots))
	for _, sl := range resp.AvailableSlots {
		raw = append(raw, slots.RawSlot{Date: sl.Date, StartTime: sl.StartTime, EndTime: sl.EndTime})
	}
	all, rejected := slots.Ingest(raw, p.Loc())
	for _, rerr := range rejected {
		s.logger.Warn().Err(rerr).Str("tutor_id", tutorID).Msg("dropping malformed availability entry")
	}
	return all, nil
}

// monthParam parses YYYY-MM, defaulting to the current month.
func (s *HTTPServer) monthParam(v string, p slots.Policy) (time.Time, error) {
	if v == "" {
		first, _ := slots.MonthRange(s.clock.Now().In(p.Loc()))
		return first, nil
	}
	return slots.ParseMonth(v, p.Loc())
}

func parseDateParam(v string, p slots.Policy) (time.Time, error) {
	return time.ParseInLocation(timemath.DateLayout, strings.TrimSpace(v), p.Loc())
}
