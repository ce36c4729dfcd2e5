package receipt

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save saves a file and returns the path/filename
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error

	// Find returns the path of the first file whose name starts with prefix
	Find(prefix string) (string, error)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Base(path)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(path string) error {
	if err := os.Remove(filepath.Join(l.basePath, filepath.Base(path))); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Find returns the first stored file starting with prefix
func (l *LocalStorage) Find(prefix string) (string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return "", fmt.Errorf("reading storage directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("no file for %s: %w", prefix, os.ErrNotExist)
}

// contentTypeFor guesses the MIME type of a stored receipt from its extension,
// then from its content
func contentTypeFor(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return http.DetectContentType(data)
}
