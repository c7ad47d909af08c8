// Package export renders journaled lesson requests as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"tutorbook/internal/database"
)

// ContentTypeXLSX is the MIME type of the workbooks written here.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LessonsSheet is the name of the sheet holding the records.
const LessonsSheet = "Lessons"

var lessonColumns = []string{
	"Submitted", "Status", "Lesson ID", "Tutor", "Title", "Subject", "Level",
	"Start", "End", "Minutes", "Hourly rate", "Total price", "Error",
}

// sheetWriter appends rows to the active sheet of a workbook.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	if err := w.writeRow(toCells(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		first, _ := excelize.CoordinatesToCellName(1, 1)
		last, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = w.file.SetCellStyle(w.sheet, first, last, style)
	}
	return w.file.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (w *sheetWriter) writeRow(row []any) error {
	if w.sheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

// WriteLessons writes a workbook with one row per record to out.
func WriteLessons(out io.Writer, records []database.LessonRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet(LessonsSheet); err != nil {
		return err
	}
	if err := w.writeHeader(lessonColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := w.writeRow([]any{
			r.CreatedAt.In(loc).Format(time.DateTime),
			r.Status,
			r.LessonID,
			r.TutorID,
			r.Title,
			r.Subject,
			r.Level,
			r.StartTime.In(loc).Format("2006-01-02 15:04"),
			r.EndTime.In(loc).Format("2006-01-02 15:04"),
			r.DurationMinutes,
			r.HourlyRate,
			r.TotalPrice,
			r.Error,
		}); err != nil {
			return err
		}
	}
	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
