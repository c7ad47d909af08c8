package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorbook/internal/booking"
	"tutorbook/internal/config"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "journal.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func submission(student, status string, createdAt time.Time) booking.Submission {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return booking.Submission{
		SessionID: "sess-1",
		Status:    status,
		CreatedAt: createdAt,
		Draft: booking.LessonDraft{
			TutorID:         "t1",
			StudentID:       student,
			Title:           "Algebra",
			Subject:         "Math",
			Level:           "Beginner",
			StartTime:       start,
			EndTime:         start.Add(90 * time.Minute),
			DurationMinutes: 90,
			HourlyRate:      100,
			TotalPrice:      150,
		},
	}
}

func TestJournal_RecordAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created := submission("s1", booking.SubmissionCreated, base)
	created.LessonID = "lsn-1"
	require.NoError(t, db.RecordSubmission(ctx, created))

	failed := submission("s1", booking.SubmissionFailed, base.Add(time.Minute))
	failed.Error = "create lesson: http 409: slot already taken"
	require.NoError(t, db.RecordSubmission(ctx, failed))

	require.NoError(t, db.RecordSubmission(ctx, submission("s2", booking.SubmissionCreated, base)))

	records, err := db.ListLessonsByStudent(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, booking.SubmissionFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "slot already taken")
	assert.Empty(t, records[0].LessonID)

	assert.Equal(t, "lsn-1", records[1].LessonID)
	assert.Equal(t, 90, records[1].DurationMinutes)
	assert.InDelta(t, 150.0, records[1].TotalPrice, 1e-9)
	assert.True(t, records[1].StartTime.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	assert.True(t, records[1].CreatedAt.Equal(base))

	none, err := db.ListLessonsByStudent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NoError(t, db.Ping(ctx))
}

func TestBackup_PerformAndCleanup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordSubmission(context.Background(), submission("s1", booking.SubmissionCreated, time.Now())))

	dir := t.TempDir()
	logger := zerolog.Nop()
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 7}, &logger)
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = svc.PerformBackup(context.Background())
	assert.Error(t, err)

	old := filepath.Join(dir, "journal_20260101_000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	stale := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.Chtimes(path, svc.now(), svc.now()))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
