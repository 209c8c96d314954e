// Package memory provides an in-memory implementation of the persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"scantrack/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.Store = (*Store)(nil)

// beamlineRow pairs a beamline record with its own lock so that counter
// increments serialise per beamline, never across unrelated beamlines.
type beamlineRow struct {
	mu  sync.Mutex
	rec domain.Beamline
}

// Store is a map-backed transactional store for the scantrack schema.
type Store struct {
	mu          sync.RWMutex
	templates   map[string]domain.Template
	byContent   map[domain.TemplateKind]map[string]string
	byName      map[string]*beamlineRow
	byID        map[string]*beamlineRow
	directories map[string]domain.DirectoryEntry
	dirOwners   map[dirKey]string
	newID       func() string
}

type dirKey struct {
	directory string
	extension string
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	s := &Store{
		templates:   make(map[string]domain.Template),
		byContent:   make(map[domain.TemplateKind]map[string]string),
		byName:      make(map[string]*beamlineRow),
		byID:        make(map[string]*beamlineRow),
		directories: make(map[string]domain.DirectoryEntry),
		dirOwners:   make(map[dirKey]string),
		newID:       uuid.NewString,
	}
	for _, kind := range domain.Kinds() {
		s.byContent[kind] = make(map[string]string)
	}
	return s
}

// CreateTemplate stores template content, returning the existing record when
// identical content is already present for the kind.
func (s *Store) CreateTemplate(_ context.Context, kind domain.TemplateKind, content string) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !kind.Valid() {
		return domain.Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "unknown template kind " + string(kind)}
	}
	if id, ok := s.byContent[kind][content]; ok {
		return s.templates[id], nil
	}
	tpl := domain.Template{ID: s.newID(), Kind: kind, Content: content}
	s.templates[tpl.ID] = tpl
	s.byContent[kind][content] = tpl.ID
	return tpl, nil
}

// GetTemplate fetches a template by id.
func (s *Store) GetTemplate(_ context.Context, id string) (domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return domain.Template{}, domain.ErrNotFound{Entity: domain.EntityTemplate, Key: id}
	}
	return tpl, nil
}

// ListTemplates returns all templates of a kind ordered by content.
func (s *Store) ListTemplates(_ context.Context, kind domain.TemplateKind) ([]domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Template, 0, len(s.byContent[kind]))
	for _, id := range s.byContent[kind] {
		out = append(out, s.templates[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Content < out[j].Content })
	return out, nil
}

func (s *Store) resolveRef(kind domain.TemplateKind, id *string) error {
	if id == nil {
		return nil
	}
	tpl, ok := s.templates[*id]
	if !ok || tpl.Kind != kind {
		return domain.ErrInvalidReference{Kind: kind, ID: *id}
	}
	return nil
}

func (s *Store) validateRefs(refs domain.TemplateRefs) error {
	if err := s.resolveRef(domain.KindVisit, refs.Visit); err != nil {
		return err
	}
	if err := s.resolveRef(domain.KindScan, refs.Scan); err != nil {
		return err
	}
	return s.resolveRef(domain.KindDetector, refs.Detector)
}

// CreateBeamline registers a beamline with optional template references.
func (s *Store) CreateBeamline(_ context.Context, name string, refs domain.TemplateRefs) (domain.Beamline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return domain.Beamline{}, domain.ErrDuplicateBeamline{Name: name}
	}
	if err := s.validateRefs(refs); err != nil {
		return domain.Beamline{}, err
	}
	row := &beamlineRow{rec: domain.Beamline{
		ID:                 s.newID(),
		Name:               name,
		VisitTemplateID:    refs.Visit,
		ScanTemplateID:     refs.Scan,
		DetectorTemplateID: refs.Detector,
	}}
	s.byName[name] = row
	s.byID[row.rec.ID] = row
	return row.rec, nil
}

// GetBeamline fetches a beamline by name.
func (s *Store) GetBeamline(_ context.Context, name string) (domain.Beamline, error) {
	s.mu.RLock()
	row, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return domain.Beamline{}, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: name}
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.rec, nil
}

// ListBeamlines returns all beamlines ordered by name.
func (s *Store) ListBeamlines(_ context.Context) ([]domain.Beamline, error) {
	s.mu.RLock()
	rows := make([]*beamlineRow, 0, len(s.byName))
	for _, row := range s.byName {
		rows = append(rows, row)
	}
	s.mu.RUnlock()
	out := make([]domain.Beamline, 0, len(rows))
	for _, row := range rows {
		row.mu.Lock()
		out = append(out, row.rec)
		row.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateTemplates re-points template references without touching the counter.
func (s *Store) UpdateTemplates(_ context.Context, name string, refs domain.TemplateRefs) (domain.Beamline, error) {
	s.mu.Lock()
	row, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return domain.Beamline{}, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: name}
	}
	if err := s.validateRefs(refs); err != nil {
		s.mu.Unlock()
		return domain.Beamline{}, err
	}
	s.mu.Unlock()

	row.mu.Lock()
	defer row.mu.Unlock()
	if refs.Visit != nil {
		row.rec.VisitTemplateID = refs.Visit
	}
	if refs.Scan != nil {
		row.rec.ScanTemplateID = refs.Scan
	}
	if refs.Detector != nil {
		row.rec.DetectorTemplateID = refs.Detector
	}
	return row.rec, nil
}

// SetDirectory records the beamline's output directory and extension.
func (s *Store) SetDirectory(_ context.Context, beamlineID, directory, extension string) (domain.DirectoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[beamlineID]; !ok {
		return domain.DirectoryEntry{}, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: beamlineID}
	}
	if _, ok := s.directories[beamlineID]; ok {
		return domain.DirectoryEntry{}, domain.ErrConflict{Beamline: beamlineID}
	}
	key := dirKey{directory: directory, extension: extension}
	if owner, ok := s.dirOwners[key]; ok && owner != beamlineID {
		return domain.DirectoryEntry{}, domain.ErrDuplicateDirectory{Directory: directory, Extension: extension}
	}
	entry := domain.DirectoryEntry{
		ID:         s.newID(),
		BeamlineID: beamlineID,
		Directory:  directory,
		Extension:  extension,
	}
	s.directories[beamlineID] = entry
	s.dirOwners[key] = beamlineID
	return entry, nil
}

// GetDirectory fetches the beamline's directory entry.
func (s *Store) GetDirectory(_ context.Context, beamlineID string) (domain.DirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.directories[beamlineID]
	if !ok {
		return domain.DirectoryEntry{}, domain.ErrNotFound{Entity: domain.EntityDirectory, Key: beamlineID}
	}
	return entry, nil
}

// NextScanNumber performs the atomic read-increment-write on the beamline's
// counter. Only the target beamline's row lock is held, so unrelated
// beamlines never serialise against each other. A cancelled context leaves
// the counter unchanged.
func (s *Store) NextScanNumber(ctx context.Context, name string, floor int64) (int64, error) {
	s.mu.RLock()
	row, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return 0, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: name}
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	next := row.rec.ScanNumber
	if floor > next {
		next = floor
	}
	next++
	row.rec.ScanNumber = next
	return next, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
