// Package api exposes the scheduling core and booking sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tutorbook/internal/booking"
	"tutorbook/internal/database"
	"tutorbook/internal/slots"
	"tutorbook/internal/tutorapi"
)

const maxBodyBytes = 1 << 20

// AvailabilitySource serves tutor availability for stateless lookups.
type AvailabilitySource interface {
	GetAvailability(ctx context.Context, tutorID string, start, end time.Time) (*tutorapi.AvailabilityResponse, error)
}

// LessonJournal lists journaled submissions.
type LessonJournal interface {
	ListLessonsByStudent(ctx context.Context, studentID string, limit int) ([]database.LessonRecord, error)
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Sessions     *booking.Store
	Availability AvailabilitySource
	Journal      LessonJournal
	Policy       func() slots.Policy
	Clock        booking.Clock
	Logger       *zerolog.Logger

	RequestsPerSecond float64
	Burst             int
	// TrustForwardedFor keys the rate limit on X-Forwarded-For; enable only
	// behind a proxy that sets it.
	TrustForwardedFor bool
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	server       *http.Server
	sessions     *booking.Store
	availability AvailabilitySource
	journal      LessonJournal
	policy       func() slots.Policy
	clock        booking.Clock
	logger       *zerolog.Logger
}

// NewHTTPServer builds the server listening on addr.
func NewHTTPServer(addr string, deps Deps) *HTTPServer {
	s := &HTTPServer{
		sessions:     deps.Sessions,
		availability: deps.Availability,
		journal:      deps.Journal,
		policy:       deps.Policy,
		clock:        deps.Clock,
		logger:       deps.Logger,
	}
	if s.policy == nil {
		s.policy = slots.DefaultPolicy
	}
	if s.clock == nil {
		s.clock = booking.RealClock{}
	}
	if s.logger == nil {
		nop := zerolog.Nop()
		s.logger = &nop
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tutors/{tutorID}/calendar", s.handleCalendar)
	mux.HandleFunc("GET /api/v1/tutors/{tutorID}/days/{date}/options", s.handleDayOptions)

	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/tutor", s.handleSetTutor)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/day", s.handleSelectDay)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/block", s.handlePickBlock)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/block", s.handleClearBlock)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/extend", s.handleExtend)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/fields", s.handleSetFields)
	mux.HandleFunc("POST /api/v1/sessions/{id}/submit", s.handleSubmit)

	mux.HandleFunc("GET /api/v1/students/{studentID}/lessons", s.handleStudentLessons)

	middleware := []Middleware{
		withRequestID,
		withAccessLog(s.logger),
		withRecover(s.logger),
		withBodyLimit(maxBodyBytes),
	}
	if deps.RequestsPerSecond > 0 {
		middleware = append(middleware, newClientLimiter(deps.RequestsPerSecond, deps.Burst, deps.TrustForwardedFor, s.clock.Now).Middleware())
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           chain(mux, middleware...),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// decodeJSON reads a JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", "invalid JSON body")
		return false
	}
	return true
}

var sessionErrors = []struct {
	err    error
	status int
	code   string
}{
	{booking.ErrSessionNotFound, http.StatusNotFound, "session-not-found"},
	{booking.ErrNoTutor, http.StatusConflict, "no-tutor"},
	{booking.ErrNoDay, http.StatusConflict, "no-day"},
	{booking.ErrNoBlock, http.StatusConflict, "no-block"},
	{booking.ErrDayNotSelectable, http.StatusConflict, "day-not-selectable"},
	{booking.ErrBlockNotOffered, http.StatusConflict, "block-not-offered"},
	{booking.ErrExtensionUnavailable, http.StatusConflict, "extension-unavailable"},
	{booking.ErrSuperseded, http.StatusConflict, "superseded"},
	{booking.ErrSubmitInProgress, http.StatusConflict, "submit-in-progress"},
	{booking.ErrInvalidStep, http.StatusConflict, "invalid-step"},
}

// writeDomainError maps booking, validation and backend errors to responses.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, verr.Code, verr.Error())
		return
	}

	var ferr *tutorapi.FetchError
	if errors.As(err, &ferr) {
		if ferr.Status == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "not-found", ferr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "fetch-failed", "backend request failed, please retry: "+ferr.Error())
		return
	}

	for _, e := range sessionErrors {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, e.err.Error())
			return
		}
	}

	s.logger.Error().Err(err).Str("request_id", requestIDFromContext(r.Context())).Msg("unhandled API error")
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
