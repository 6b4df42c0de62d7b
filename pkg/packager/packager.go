// Package packager bundles generated pages into one zip and removes them afterwards.
package packager

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xhad/quizpack/internal/models"
)

const DefaultArchiveName = "students_questions.zip"

// ErrIO is matched by every *IOError.
var ErrIO = errors.New("packager: io error")

type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("packager: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// Archive reads every file and stores it deflated under its base name.
// Entry timestamps are fixed so identical inputs give identical bytes.
func Archive(name string, files []string) (*models.Archive, error) {
	if name == "" {
		name = DefaultArchiveName
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := make([]string, 0, len(files))

	for _, path := range files {
		base := filepath.Base(path)
		if err := addFile(zw, path, base); err != nil {
			zw.Close()
			return nil, err
		}
		entries = append(entries, base)
	}

	if err := zw.Close(); err != nil {
		return nil, &IOError{Op: "close", Path: name, Err: err}
	}

	return &models.Archive{Name: name, Data: buf.Bytes(), Entries: entries}, nil
}

var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

func addFile(zw *zip.Writer, path, entry string) error {
	f, err := os.Open(path)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: epoch,
	})
	if err != nil {
		return &IOError{Op: "add", Path: path, Err: err}
	}
	if _, err := io.Copy(w, f); err != nil {
		return &IOError{Op: "read", Path: path, Err: err}
	}
	return nil
}

// Extract reads an archive back into memory keyed by entry name.
func Extract(data []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &IOError{Op: "open", Path: "archive", Err: err}
	}

	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, &IOError{Op: "open", Path: f.Name, Err: err}
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &IOError{Op: "read", Path: f.Name, Err: err}
		}
		out[f.Name] = content
	}
	return out, nil
}

// Delete removes each file. Files that are already gone are skipped.
func Delete(files []string) error {
	var errs []error
	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, &IOError{Op: "remove", Path: path, Err: err})
		}
	}
	return errors.Join(errs...)
}
