package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/www-e/formnew/internal/roster"
)

// File persists the document as a single JSON file, written atomically via
// a temp file and rename.
type File struct {
	path string
}

// NewFile creates a file-backed document store at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// LoadDocument reads the JSON file, returning (nil, nil) when it does not
// exist yet.
func (f *File) LoadDocument(_ context.Context) (*roster.Document, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc roster.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveDocument writes the document, replacing the previous file only after
// the new content is fully on disk.
func (f *File) SaveDocument(_ context.Context, doc *roster.Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".formnew-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}
