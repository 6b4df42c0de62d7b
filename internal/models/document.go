package models

// Configuration is the single-row settings table of a roster workbook.
type Configuration struct {
	Subject             string
	Topic               string
	QuestionsPerStudent int
	AuthoringNotes      string
}

// StudentRecord is one roster row. Row is the 1-based sheet row it came from.
type StudentRecord struct {
	FullName     string
	AverageScore float64
	Notes        string
	Row          int
}

// Roster is everything read from an uploaded workbook.
type Roster struct {
	Config   Configuration
	Students []StudentRecord
}

type GeneratedDocument struct {
	StudentName    string
	FileName       string
	HTML           string
	Path           string
	IdempotencyKey string
}

// Archive is a zip container built in memory.
type Archive struct {
	Name    string
	Data    []byte
	Entries []string
}
