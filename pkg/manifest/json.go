// Package manifest reads and writes the JSON documents that link pipeline stages.
//
// Writes are atomic: the document is encoded to a temp file in the target
// directory and renamed into place, so a reader sees either the old document
// or the new one, never a partial file.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Encode renders v as 2-space indented JSON without HTML escaping.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteJSON atomically writes v to path, creating parent directories.
func WriteJSON(path string, v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory %s: %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %w", utils.ErrFilesystem, path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename into %s: %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// ReadJSON reads path, validates it against schema and decodes it into v.
// A missing or unreadable file wraps utils.ErrManifestRead; a shape mismatch is a *ValidationError.
func ReadJSON(path string, schema Schema, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", utils.ErrManifestRead, path, err)
	}
	if err := Validate(schema, path, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ValidationError{Path: path, Errors: []FieldError{{Field: "(root)", Message: err.Error()}}}
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsMissing reports whether err came from reading a manifest that does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, utils.ErrManifestRead) && errors.Is(err, os.ErrNotExist)
}

// JSONLWriter appends one JSON object per line. Safe for concurrent use.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
}

// NewJSONLWriter returns an appender for path; the file is created on first write.
func NewJSONLWriter(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

// Path returns the file being appended to.
func (w *JSONLWriter) Path() string { return w.path }

// Append encodes v on a single line and appends it.
func (w *JSONLWriter) Append(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", utils.ErrFilesystem, w.path, err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: append %s: %w", utils.ErrFilesystem, w.path, err)
	}
	return nil
}
