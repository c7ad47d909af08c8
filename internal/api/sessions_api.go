package api

import (
	"net/http"
	"strings"

	"tutorbook/internal/booking"
	"tutorbook/internal/metrics"
	"tutorbook/internal/timemath"
)

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	StudentID string `json:"student_id"`
}

// SetTutorRequest is the body of PUT /api/v1/sessions/{id}/tutor.
type SetTutorRequest struct {
	TutorID string `json:"tutor_id"`
	Month   string `json:"month,omitempty"` // Format: YYYY-MM
}

// SelectDayRequest is the body of PUT /api/v1/sessions/{id}/day.
type SelectDayRequest struct {
	Date string `json:"date"` // Format: YYYY-MM-DD
}

// PickBlockRequest is the body of PUT /api/v1/sessions/{id}/block.
type PickBlockRequest struct {
	Start string `json:"start"` // Format: HH:MM
}

// ExtendRequest is the body of PUT /api/v1/sessions/{id}/extend.
type ExtendRequest struct {
	Extend bool `json:"extend"`
}

// handleCreateSession starts a booking session.
// POST /api/v1/sessions
func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_create")

	var req CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.sessions.Create(req.StudentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session.View())
}

// GET /api/v1/sessions/{id}
func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_get")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// DELETE /api/v1/sessions/{id}
func (s *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_delete")

	if !s.sessions.Delete(r.PathValue("id")) {
		s.writeDomainError(w, r, booking.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetTutor loads a tutor's month into the session.
// PUT /api/v1/sessions/{id}/tutor
func (s *HTTPServer) handleSetTutor(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_tutor")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SetTutorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	month, err := s.monthParam(strings.TrimSpace(req.Month), s.policy())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	if err := session.LoadMonth(r.Context(), req.TutorID, month); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// PUT /api/v1/sessions/{id}/day
func (s *HTTPServer) handleSelectDay(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_day")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SelectDayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date == "" {
		writeError(w, http.StatusBadRequest, "bad-request", "date is required")
		return
	}
	date, err := parseDateParam(req.Date, s.policy())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", "invalid date format; expected YYYY-MM-DD")
		return
	}

	if err := session.SelectDay(date); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// PUT /api/v1/sessions/{id}/block
func (s *HTTPServer) handlePickBlock(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_block")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req PickBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := timemath.ToMinutes(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-time", err.Error())
		return
	}

	if err := session.PickBlock(start); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// DELETE /api/v1/sessions/{id}/block
func (s *HTTPServer) handleClearBlock(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_block_clear")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := session.ClearBlock(); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// PUT /api/v1/sessions/{id}/extend
func (s *HTTPServer) handleExtend(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_extend")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ExtendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := session.SetExtended(req.Extend); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// PUT /api/v1/sessions/{id}/fields
func (s *HTTPServer) handleSetFields(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_fields")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req booking.FormFields
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := session.SetFields(req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// handleSubmit validates the session's draft and creates the lesson.
// POST /api/v1/sessions/{id}/submit
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session_submit")

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	receipt, err := session.Submit(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *HTTPServer) session(w http.ResponseWriter, r *http.Request) (*booking.Session, bool) {
	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return session, true
}
