package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/xhad/quizpack/internal/models"
	"github.com/xhad/quizpack/pkg/roster"
)

// Workbook builds an xlsx payload in the default layout. Helpers fail the test
// on error to keep callers short.
func Workbook(t *testing.T, cfg models.Configuration, students []models.StudentRecord) []byte {
	t.Helper()

	layout := roster.DefaultLayout()
	book := excelize.NewFile()
	defer book.Close()

	if _, err := book.NewSheet(layout.RosterSheet); err != nil {
		t.Fatalf("new sheet: %v", err)
	}

	setRow(t, book, layout.ConfigSheet, 1, []interface{}{
		layout.Subject, layout.Topic, layout.QuestionCount, layout.AuthoringNotes,
	})
	setRow(t, book, layout.ConfigSheet, 2, []interface{}{
		cfg.Subject, cfg.Topic, cfg.QuestionsPerStudent, cfg.AuthoringNotes,
	})

	setRow(t, book, layout.RosterSheet, 1, []interface{}{
		layout.StudentName, layout.AverageScore, layout.Notes,
	})
	for i, s := range students {
		setRow(t, book, layout.RosterSheet, i+2, []interface{}{s.FullName, s.AverageScore, s.Notes})
	}

	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// WorkbookFile writes Workbook output into a temp dir and returns the path.
func WorkbookFile(t *testing.T, cfg models.Configuration, students []models.StudentRecord) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "roster.xlsx")
	if err := os.WriteFile(path, Workbook(t, cfg, students), 0o644); err != nil {
		t.Fatalf("write workbook file: %v", err)
	}
	return path
}

func setRow(t *testing.T, book *excelize.File, sheet string, row int, values []interface{}) {
	t.Helper()

	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		t.Fatalf("cell name: %v", err)
	}
	if err := book.SetSheetRow(sheet, cell, &values); err != nil {
		t.Fatalf("set row: %v", err)
	}
}

// Fractions is the configuration used across scenario tests.
func Fractions() models.Configuration {
	return models.Configuration{
		Subject:             "Math",
		Topic:               "Fractions",
		QuestionsPerStudent: 3,
		AuthoringNotes:      "keep numbers small",
	}
}
