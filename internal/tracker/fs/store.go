// Package fs stores scan markers as empty files on the local filesystem,
// matching what acquisition hosts see in the beamline data directory.
package fs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"scantrack/internal/tracker"
)

var _ tracker.FileStore = (*Store)(nil)

// Store is a filesystem-backed marker store.
type Store struct{}

// New returns a filesystem marker store.
func New() *Store { return &Store{} }

// List returns the plain-file names in dir. A missing directory yields an
// empty listing so unprovisioned beamlines behave like empty ones.
func (s *Store) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Create writes an empty marker file, creating dir if needed.
func (s *Store) Create(_ context.Context, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), nil, 0o644)
}

// Remove deletes a marker file; an already-absent marker is not an error.
func (s *Store) Remove(_ context.Context, dir, name string) error {
	err := os.Remove(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
