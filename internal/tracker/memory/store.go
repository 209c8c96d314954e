// Package memory provides an in-memory marker store for tests and for
// deployments that only need database-backed numbering.
package memory

import (
	"context"
	"sync"

	"scantrack/internal/tracker"
)

var _ tracker.FileStore = (*Store)(nil)

// Store keeps marker names per directory in a map.
type Store struct {
	mu   sync.RWMutex
	dirs map[string]map[string]struct{}
}

// New returns an empty in-memory marker store.
func New() *Store {
	return &Store{dirs: make(map[string]map[string]struct{})}
}

// List returns the marker names recorded for dir.
func (s *Store) List(_ context.Context, dir string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dirs[dir]))
	for name := range s.dirs[dir] {
		names = append(names, name)
	}
	return names, nil
}

// Create records a marker name under dir.
func (s *Store) Create(_ context.Context, dir, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs[dir] == nil {
		s.dirs[dir] = make(map[string]struct{})
	}
	s.dirs[dir][name] = struct{}{}
	return nil
}

// Remove forgets a marker name under dir.
func (s *Store) Remove(_ context.Context, dir, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirs[dir], name)
	return nil
}
