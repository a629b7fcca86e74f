package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore places recordings and decoded responses under an
// application-private directory using timestamp-based names. Retention is
// left to the caller.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates dir if needed and returns a store rooted there
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the storage root
func (s *FileStore) Dir() string { return s.dir }

// RecordingPath returns a fresh destination for a new recording
func (s *FileStore) RecordingPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("recording_%d.wav", s.now().UnixNano()))
}

// SaveResponse persists decoded response audio and returns its path
func (s *FileStore) SaveResponse(data []byte) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("response_%d.wav", s.now().UnixNano()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to save response audio: %w", err)
	}
	return path, nil
}
