package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"tutorbook/internal/database"
	"tutorbook/internal/export"
	"tutorbook/internal/metrics"
)

// StudentLessonsResponse lists a student's journaled lesson requests.
type StudentLessonsResponse struct {
	StudentID string                  `json:"student_id"`
	Lessons   []database.LessonRecord `json:"lessons"`
}

// handleStudentLessons returns the lesson requests a student submitted.
// GET /api/v1/students/{studentID}/lessons?limit=N&format=json|xlsx
func (s *HTTPServer) handleStudentLessons(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("student_lessons")

	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "lesson journal is not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad-request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "bad-request", "format must be json or xlsx")
		return
	}

	studentID := r.PathValue("studentID")
	lessons, err := s.journal.ListLessonsByStudent(r.Context(), studentID, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if format == "xlsx" {
		s.writeLessonsWorkbook(w, r, studentID, lessons)
		return
	}
	writeJSON(w, http.StatusOK, StudentLessonsResponse{StudentID: studentID, Lessons: lessons})
}

func (s *HTTPServer) writeLessonsWorkbook(w http.ResponseWriter, r *http.Request, studentID string, lessons []database.LessonRecord) {
	var buf bytes.Buffer
	if err := export.WriteLessons(&buf, lessons, s.policy().Loc()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "lessons-"+studentID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
