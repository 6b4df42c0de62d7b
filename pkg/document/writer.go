// Package document turns a model reply into a standalone HTML page on disk.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/xhad/quizpack/internal/models"
)

// ErrIO is matched by every *IOError.
var ErrIO = errors.New("document: io error")

type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("document: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

type WriterConfig struct {
	OutputDir string
	Lang      string
	Title     string
	// AllowUnsafeHTML embeds model output without sanitizing it.
	AllowUnsafeHTML bool
}

type Writer struct {
	config WriterConfig
	policy *bluemonday.Policy
}

func NewWriter(config WriterConfig) (*Writer, error) {
	if config.OutputDir == "" {
		config.OutputDir = filepath.Join(os.TempDir(), "quizpack")
	}
	if config.Lang == "" {
		config.Lang = "fa"
	}
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: config.OutputDir, Err: err}
	}

	w := &Writer{config: config}
	if !config.AllowUnsafeHTML {
		w.policy = newPolicy()
	}
	return w, nil
}

func (w *Writer) Dir() string {
	return w.config.OutputDir
}

// Render cleans and (unless disabled) sanitizes body, then wraps it in the page.
func (w *Writer) Render(body string) (string, error) {
	body = Clean(body)
	if w.policy != nil {
		body = w.policy.Sanitize(body)
	}
	return Render(w.config.Lang, w.config.Title, body)
}

// Write renders body and writes it to fileName inside the output directory,
// replacing any existing file. Not safe for concurrent calls with the same fileName.
func (w *Writer) Write(fileName, studentName, body string) (*models.GeneratedDocument, error) {
	if fileName == "" {
		fileName = FileName(studentName)
	}
	if filepath.Base(fileName) != fileName {
		return nil, &IOError{Op: "write", Path: fileName, Err: errors.New("file name must not contain a path")}
	}

	html, err := w.Render(body)
	if err != nil {
		return nil, fmt.Errorf("document: render %s: %w", fileName, err)
	}

	path := filepath.Join(w.config.OutputDir, fileName)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return nil, &IOError{Op: "write", Path: path, Err: err}
	}

	return &models.GeneratedDocument{
		StudentName: studentName,
		FileName:    fileName,
		HTML:        html,
		Path:        path,
	}, nil
}

// FileName maps a display name to a file base name ending in .html.
func FileName(name string) string {
	return stem(name) + ".html"
}

func stem(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	s = strings.Trim(strings.TrimSpace(s), ".")
	if s == "" {
		s = "student"
	}
	return s
}

// Deduper hands out unique file names. A repeated display name gets a
// " (2)", " (3)" ... suffix. Comparison ignores case so archives extract
// cleanly on case-insensitive file systems.
type Deduper struct {
	used map[string]bool
}

func NewDeduper() *Deduper {
	return &Deduper{used: make(map[string]bool)}
}

func (d *Deduper) FileName(name string) string {
	base := stem(name)
	candidate := base
	for n := 2; d.used[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s (%d)", base, n)
	}
	d.used[strings.ToLower(candidate)] = true
	return candidate + ".html"
}
