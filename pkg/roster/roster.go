// Package roster reads a class workbook: one settings sheet and one student sheet.
package roster

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/xhad/quizpack/internal/models"
)

// ErrParse is matched by every error returned from Read.
var ErrParse = errors.New("roster: parse error")

type ParseError struct {
	Sheet  string
	Column string
	Row    int
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("roster")
	if e.Sheet != "" {
		fmt.Fprintf(&b, ": sheet %q", e.Sheet)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Layout names the sheets and the header of every required column.
type Layout struct {
	ConfigSheet string
	RosterSheet string

	Subject        string
	Topic          string
	QuestionCount  string
	AuthoringNotes string

	StudentName  string
	AverageScore string
	Notes        string
}

// DefaultLayout is the Persian-headed two-sheet workbook schools already use.
func DefaultLayout() Layout {
	return Layout{
		ConfigSheet:    "Sheet1",
		RosterSheet:    "Sheet2",
		Subject:        "نام درس",
		Topic:          "نام مبحث",
		QuestionCount:  "تعداد سوال به ازای هر دانش آموز",
		AuthoringNotes: "توضیحات کمکی در مورد نحوه ی طراحی سوال",
		StudentName:    "نام و نام خانوادگی دانش آموز",
		AverageScore:   "میانگین نمره ی دانش آموز از 20 نمره",
		Notes:          "توضیحات",
	}
}

func ReadFile(path string, layout Layout) (*models.Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	defer f.Close()
	return Read(f, layout)
}

// Read parses an xlsx payload. Student order follows the sheet.
func Read(r io.Reader, layout Layout) (*models.Roster, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer book.Close()

	cfg, err := readConfiguration(book, layout)
	if err != nil {
		return nil, err
	}

	students, err := readStudents(book, layout)
	if err != nil {
		return nil, err
	}

	return &models.Roster{Config: cfg, Students: students}, nil
}

func readConfiguration(book *excelize.File, layout Layout) (models.Configuration, error) {
	var cfg models.Configuration

	t, err := loadTable(book, layout.ConfigSheet,
		layout.Subject, layout.Topic, layout.QuestionCount, layout.AuthoringNotes)
	if err != nil {
		return cfg, err
	}
	if len(t.rows) == 0 {
		return cfg, &ParseError{Sheet: t.sheet, Err: errors.New("no configuration row")}
	}

	row := t.rows[0]
	cfg.Subject = t.cell(row, layout.Subject)
	cfg.Topic = t.cell(row, layout.Topic)
	cfg.AuthoringNotes = t.cell(row, layout.AuthoringNotes)

	raw := t.cell(row, layout.QuestionCount)
	n, err := parseCount(raw)
	if err != nil {
		return cfg, &ParseError{Sheet: t.sheet, Column: layout.QuestionCount, Row: row.line, Err: err}
	}
	cfg.QuestionsPerStudent = n

	return cfg, nil
}

func readStudents(book *excelize.File, layout Layout) ([]models.StudentRecord, error) {
	t, err := loadTable(book, layout.RosterSheet,
		layout.StudentName, layout.AverageScore, layout.Notes)
	if err != nil {
		return nil, err
	}

	students := make([]models.StudentRecord, 0, len(t.rows))
	for _, row := range t.rows {
		name := t.cell(row, layout.StudentName)
		rawScore := t.cell(row, layout.AverageScore)
		notes := t.cell(row, layout.Notes)

		if name == "" && rawScore == "" && notes == "" {
			continue
		}
		if name == "" {
			return nil, &ParseError{Sheet: t.sheet, Column: layout.StudentName, Row: row.line, Err: errors.New("empty student name")}
		}

		score, err := strconv.ParseFloat(rawScore, 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, &ParseError{Sheet: t.sheet, Column: layout.AverageScore, Row: row.line, Err: fmt.Errorf("invalid score %q", rawScore)}
		}

		students = append(students, models.StudentRecord{
			FullName:     name,
			AverageScore: score,
			Notes:        notes,
			Row:          row.line,
		})
	}

	return students, nil
}

func parseCount(raw string) (int, error) {
	if raw == "" {
		return 0, errors.New("question count is empty")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid question count %q", raw)
	}
	if f != math.Trunc(f) || f < 1 {
		return 0, fmt.Errorf("question count must be a whole number >= 1, got %q", raw)
	}
	return int(f), nil
}

type tableRow struct {
	line  int
	cells []string
}

// table is a sheet with its header resolved to column indexes.
type table struct {
	sheet   string
	columns map[string]int
	rows    []tableRow
}

func loadTable(book *excelize.File, sheet string, required ...string) (*table, error) {
	idx, err := book.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return nil, &ParseError{Sheet: sheet, Err: errors.New("sheet not found")}
	}

	rows, err := book.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &ParseError{Sheet: sheet, Err: err}
	}
	if len(rows) == 0 {
		return nil, &ParseError{Sheet: sheet, Err: errors.New("missing header row")}
	}

	t := &table{sheet: sheet, columns: make(map[string]int)}
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if _, dup := t.columns[h]; h != "" && !dup {
			t.columns[h] = i
		}
	}

	for _, name := range required {
		if _, ok := t.columns[strings.TrimSpace(name)]; !ok {
			return nil, &ParseError{Sheet: sheet, Column: name, Err: errors.New("missing column")}
		}
	}

	for i, cells := range rows[1:] {
		t.rows = append(t.rows, tableRow{line: i + 2, cells: cells})
	}

	return t, nil
}

func (t *table) cell(row tableRow, column string) string {
	i, ok := t.columns[strings.TrimSpace(column)]
	if !ok || i >= len(row.cells) {
		return ""
	}
	return strings.TrimSpace(row.cells[i])
}
