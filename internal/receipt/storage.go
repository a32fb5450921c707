package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Storage defines the interface for file storage operations
type Storage interface {
	// Save saves a file and returns the path/filename
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error
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

// Save saves a file to local storage. Existing files are never overwritten.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	fullPath, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(path string) error {
	fullPath, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Sweep removes regular files last modified more than olderThan ago and
// returns how many were removed. It is meant for staging directories that
// may hold leftovers from a crashed process.
func (l *LocalStorage) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return 0, fmt.Errorf("reading storage directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.basePath, entry.Name())); err != nil {
			return removed, fmt.Errorf("deleting file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// resolve joins a stored name onto the base path, refusing names that
// would escape it
func (l *LocalStorage) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	return filepath.Join(l.basePath, name), nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.ReplaceAll(strings.TrimSpace(base), " ", "_")

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}

	return base + ext
}
