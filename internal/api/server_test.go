package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tutorbook/internal/booking"
	"tutorbook/internal/database"
	"tutorbook/internal/export"
	"tutorbook/internal/slots"
	"tutorbook/internal/tutorapi"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeBackend struct {
	mu        sync.Mutex
	slots     []tutorapi.Slot
	availErr  error
	createErr error
	created   []tutorapi.LessonRequest
}

func (f *fakeBackend) GetTutor(_ context.Context, tutorID string) (*tutorapi.Tutor, error) {
	if tutorID == "missing" {
		return nil, &tutorapi.FetchError{Op: "get tutor", Status: http.StatusNotFound, Message: "tutor not found"}
	}
	return &tutorapi.Tutor{ID: tutorID, Name: "Ada", HourlyRate: 100}, nil
}

func (f *fakeBackend) GetAvailability(_ context.Context, _ string, start, end time.Time) (*tutorapi.AvailabilityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.availErr != nil {
		return nil, f.availErr
	}
	from, to := slots.DateKey(start), slots.DateKey(end)
	resp := &tutorapi.AvailabilityResponse{}
	for _, s := range f.slots {
		if s.Date >= from && s.Date <= to {
			resp.AvailableSlots = append(resp.AvailableSlots, s)
		}
	}
	return resp, nil
}

func (f *fakeBackend) CreateLesson(_ context.Context, req tutorapi.LessonRequest) (*tutorapi.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &tutorapi.Lesson{ID: fmt.Sprintf("lsn-%d", len(f.created)), Status: "pending"}, nil
}

func (f *fakeBackend) setErrors(avail, create error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availErr = avail
	f.createErr = create
}

func (f *fakeBackend) createdRequests() []tutorapi.LessonRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tutorapi.LessonRequest(nil), f.created...)
}

type testServer struct {
	*httptest.Server
	backend *fakeBackend
	db      *database.DB
}

func testPolicy() slots.Policy {
	p := slots.DefaultPolicy()
	p.Location = time.UTC
	return p
}

func setupTestServer(t *testing.T, mutate ...func(*Deps)) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "journal.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := &fakeBackend{slots: []tutorapi.Slot{
		{Date: "2026-03-02", StartTime: "09:00", EndTime: "10:30"},
		{Date: "2026-03-02", StartTime: "15:00", EndTime: "16:00"},
		{Date: "2026-03-04", StartTime: "10:00", EndTime: "10:30"},
		{Date: "2026-03-06", StartTime: "13:00", EndTime: "14:00"},
		{Date: "2026-03-07", StartTime: "bad", EndTime: "14:00"},
	}}
	clock := fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}

	store := booking.NewStore(booking.Deps{
		Backend: backend,
		Journal: db,
		Policy:  testPolicy,
		Clock:   clock,
		Logger:  &logger,
	}, time.Hour)

	deps := Deps{
		Sessions:     store,
		Availability: backend,
		Journal:      db,
		Policy:       testPolicy,
		Clock:        clock,
		Logger:       &logger,
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv := NewHTTPServer(":0", deps)
	ts := &testServer{Server: httptest.NewServer(srv.Handler()), backend: backend, db: db}
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHandleCalendar(t *testing.T) {
	ts := setupTestServer(t)

	var resp CalendarResponse
	status := ts.do(t, http.MethodGet, "/api/v1/tutors/t1/calendar?month=2026-03", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2026-03", resp.Month)
	assert.Equal(t, []booking.DateView{
		{Date: "2026-03-02", TotalOpenMinutes: 150},
		{Date: "2026-03-06", TotalOpenMinutes: 60},
	}, resp.Dates)

	status = ts.do(t, http.MethodGet, "/api/v1/tutors/t1/calendar", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2026-03", resp.Month)
}

func TestHandleCalendar_Errors(t *testing.T) {
	ts := setupTestServer(t)

	var errResp errorResponse
	status := ts.do(t, http.MethodGet, "/api/v1/tutors/t1/calendar?month=03-2026", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad-request", errResp.Code)

	ts.backend.setErrors(&tutorapi.FetchError{Op: "get availability", Status: http.StatusInternalServerError}, nil)
	status = ts.do(t, http.MethodGet, "/api/v1/tutors/t1/calendar?month=2026-03", nil, &errResp)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "fetch-failed", errResp.Code)
	assert.Contains(t, errResp.Error, "retry")
}

func TestHandleDayOptions(t *testing.T) {
	ts := setupTestServer(t)

	var resp DayOptionsResponse
	status := ts.do(t, http.MethodGet, "/api/v1/tutors/t1/days/2026-03-02/options", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Selectable)
	assert.Equal(t, 150, resp.TotalOpenMinutes)
	assert.Equal(t, []slots.OptionInfo{
		{Start: "09:00", End: "09:45", Extendable: true},
		{Start: "09:30", End: "10:15", Extendable: false},
		{Start: "15:00", End: "15:45", Extendable: false},
	}, resp.Options)

	status = ts.do(t, http.MethodGet, "/api/v1/tutors/t1/days/2026-03-04/options", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, resp.Selectable)
	assert.True(t, resp.NoAvailability)
	assert.Empty(t, resp.Options)

	var errResp errorResponse
	status = ts.do(t, http.MethodGet, "/api/v1/tutors/t1/days/02.03.2026/options", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSessionFlow(t *testing.T) {
	ts := setupTestServer(t)

	var view booking.View
	status := ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{StudentID: "s1"}, &view)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, view.ID)
	assert.Equal(t, booking.StepIdle, view.Step)
	base := "/api/v1/sessions/" + view.ID

	status = ts.do(t, http.MethodPut, base+"/tutor", SetTutorRequest{TutorID: "t1", Month: "2026-03"}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, booking.StepTutor, view.Step)
	assert.Len(t, view.Dates, 2)

	status = ts.do(t, http.MethodPut, base+"/day", SelectDayRequest{Date: "2026-03-02"}, &view)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, view.Day)
	assert.Len(t, view.Day.Options, 3)

	status = ts.do(t, http.MethodPut, base+"/block", PickBlockRequest{Start: "09:00"}, &view)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, view.Selection)
	assert.True(t, view.Selection.CanExtend)

	status = ts.do(t, http.MethodPut, base+"/extend", ExtendRequest{Extend: true}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 90, view.Selection.DurationMinutes)
	assert.InDelta(t, 150.0, view.Selection.Price, 1e-9)

	fields := booking.FormFields{Title: "Algebra basics", Subject: "Math", Level: "Beginner"}
	status = ts.do(t, http.MethodPut, base+"/fields", fields, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, booking.StepReady, view.Step)

	var receipt booking.Receipt
	status = ts.do(t, http.MethodPost, base+"/submit", nil, &receipt)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "lsn-1", receipt.LessonID)
	assert.Equal(t, 90, receipt.Draft.DurationMinutes)
	created := ts.backend.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, "s1", created[0].StudentID)

	var lessons StudentLessonsResponse
	status = ts.do(t, http.MethodGet, "/api/v1/students/s1/lessons", nil, &lessons)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, lessons.Lessons, 1)
	assert.Equal(t, "lsn-1", lessons.Lessons[0].LessonID)
	assert.Equal(t, booking.SubmissionCreated, lessons.Lessons[0].Status)

	status = ts.do(t, http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	var errResp errorResponse
	status = ts.do(t, http.MethodGet, base, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "session-not-found", errResp.Code)
}

func TestSessionErrors(t *testing.T) {
	ts := setupTestServer(t)

	var errResp errorResponse
	status := ts.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, booking.CodeMissingField, errResp.Code)

	status = ts.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"student": "s1"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	var view booking.View
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{StudentID: "s1"}, &view))
	base := "/api/v1/sessions/" + view.ID

	status = ts.do(t, http.MethodPut, base+"/day", SelectDayRequest{Date: "2026-03-02"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no-tutor", errResp.Code)

	status = ts.do(t, http.MethodPut, base+"/tutor", SetTutorRequest{TutorID: "missing"}, &errResp)
	assert.Equal(t, http.StatusNotFound, status)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/tutor", SetTutorRequest{TutorID: "t1", Month: "2026-03"}, &view))

	status = ts.do(t, http.MethodPut, base+"/day", SelectDayRequest{Date: "2026-03-04"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "day-not-selectable", errResp.Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/day", SelectDayRequest{Date: "2026-03-02"}, &view))

	status = ts.do(t, http.MethodPut, base+"/block", PickBlockRequest{Start: "9h"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid-time", errResp.Code)

	status = ts.do(t, http.MethodPut, base+"/block", PickBlockRequest{Start: "10:00"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "block-not-offered", errResp.Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/block", PickBlockRequest{Start: "15:00"}, &view))

	status = ts.do(t, http.MethodPut, base+"/extend", ExtendRequest{Extend: true}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "extension-unavailable", errResp.Code)

	status = ts.do(t, http.MethodPost, base+"/submit", nil, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, booking.CodeMissingField, errResp.Code)
	assert.Contains(t, errResp.Error, "title")

	var cleared booking.View
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, base+"/block", nil, &cleared))
	assert.Nil(t, cleared.Selection)
	assert.Equal(t, booking.StepDay, cleared.Step)
}

func TestSubmitBackendFailure(t *testing.T) {
	ts := setupTestServer(t)
	ts.backend.setErrors(nil, &tutorapi.FetchError{Op: "create lesson", Status: http.StatusConflict, Message: "slot already taken"})

	var view booking.View
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{StudentID: "s2"}, &view))
	base := "/api/v1/sessions/" + view.ID
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/tutor", SetTutorRequest{TutorID: "t1", Month: "2026-03"}, &view))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/day", SelectDayRequest{Date: "2026-03-06"}, &view))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/block", PickBlockRequest{Start: "13:00"}, &view))
	fields := booking.FormFields{Title: "Essay review", Subject: "English", Level: "Advanced"}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/fields", fields, &view))

	var errResp errorResponse
	status := ts.do(t, http.MethodPost, base+"/submit", nil, &errResp)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, errResp.Error, "slot already taken")

	var lessons StudentLessonsResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/students/s2/lessons?limit=5", nil, &lessons))
	require.Len(t, lessons.Lessons, 1)
	assert.Equal(t, booking.SubmissionFailed, lessons.Lessons[0].Status)

	status = ts.do(t, http.MethodGet, "/api/v1/students/s2/lessons?limit=abc", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRequestID(t *testing.T) {
	ts := setupTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/sessions/unknown", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-123")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(requestIDHeader))

	resp, err = ts.Client().Get(ts.URL + "/api/v1/sessions/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(d *Deps) {
		d.RequestsPerSecond = 0.001
		d.Burst = 1
	})

	var errResp errorResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/tutors/t1/calendar?month=2026-03", nil, nil))
	status := ts.do(t, http.MethodGet, "/api/v1/tutors/t1/calendar?month=2026-03", nil, &errResp)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate-limited", errResp.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	logger := zerolog.Nop()
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), withRequestID, withRecover(&logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestStudentLessons_Workbook(t *testing.T) {
	ts := setupTestServer(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ts.db.RecordSubmission(context.Background(), booking.Submission{
		SessionID: "sess-1",
		LessonID:  "lsn-9",
		Status:    booking.SubmissionCreated,
		Draft: booking.LessonDraft{
			TutorID: "t1", StudentID: "s7", Title: "Algebra basics", Subject: "Math", Level: "Beginner",
			StartTime: start, EndTime: start.Add(45 * time.Minute), DurationMinutes: 45,
			HourlyRate: 100, TotalPrice: 75,
		},
		CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}))

	resp, err := ts.Client().Get(ts.URL + "/api/v1/students/s7/lessons?format=xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentTypeXLSX, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "lessons-s7.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.LessonsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "lsn-9", rows[1][2])
	assert.Equal(t, "Algebra basics", rows[1][4])

	var errResp errorResponse
	status := ts.do(t, http.MethodGet, "/api/v1/students/s7/lessons?format=csv", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad-request", errResp.Code)
}
