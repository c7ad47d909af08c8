package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"tutorbook/internal/booking"
)

// DB wraps sql.DB for the lesson request journal.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// LessonRecord is one journaled hand-off of a lesson draft.
type LessonRecord struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	LessonID        string    `json:"lesson_id,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
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
	CreatedAt       time.Time `json:"created_at"`
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS lesson_requests (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT NOT NULL,
            lesson_id TEXT,
            status TEXT NOT NULL,
            error TEXT,
            tutor_id TEXT NOT NULL,
            student_id TEXT NOT NULL,
            title TEXT NOT NULL,
            subject TEXT NOT NULL,
            level TEXT NOT NULL,
            description TEXT,
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            duration_minutes INTEGER NOT NULL,
            hourly_rate REAL NOT NULL,
            total_price REAL NOT NULL,
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_lesson_requests_student ON lesson_requests(student_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_lesson_requests_tutor ON lesson_requests(tutor_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_lesson_requests_status ON lesson_requests(status)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

// RecordSubmission stores the outcome of a lesson submission.
func (db *DB) RecordSubmission(ctx context.Context, sub booking.Submission) error {
	d := sub.Draft
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO lesson_requests (
            session_id, lesson_id, status, error, tutor_id, student_id,
            title, subject, level, description, start_time, end_time,
            duration_minutes, hourly_rate, total_price, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.SessionID, nullString(sub.LessonID), sub.Status, nullString(sub.Error), d.TutorID, d.StudentID,
		d.Title, d.Subject, d.Level, nullString(d.Description), d.StartTime.UTC(), d.EndTime.UTC(),
		d.DurationMinutes, d.HourlyRate, d.TotalPrice, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert lesson request: %w", err)
	}
	return nil
}

// ListLessonsByStudent returns a student's journaled submissions, newest first.
func (db *DB) ListLessonsByStudent(ctx context.Context, studentID string, limit int) ([]LessonRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
        SELECT id, session_id, lesson_id, status, error, tutor_id, student_id,
               title, subject, level, description, start_time, end_time,
               duration_minutes, hourly_rate, total_price, created_at
        FROM lesson_requests
        WHERE student_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query lesson requests: %w", err)
	}
	defer rows.Close()

	records := []LessonRecord{}
	for rows.Next() {
		var (
			r                        LessonRecord
			lessonID, errText, descr sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &lessonID, &r.Status, &errText, &r.TutorID, &r.StudentID,
			&r.Title, &r.Subject, &r.Level, &descr, &r.StartTime, &r.EndTime,
			&r.DurationMinutes, &r.HourlyRate, &r.TotalPrice, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lesson request: %w", err)
		}
		r.LessonID = lessonID.String
		r.Error = errText.String
		r.Description = descr.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
