package domain

import "context"

// Store is the minimal abstraction over durable backends. Uniqueness and
// reference constraints are enforced transactionally by each implementation;
// callers never bypass them.
type Store interface {
	// CreateTemplate inserts template content for a kind, returning the
	// existing record when identical content is already stored.
	CreateTemplate(ctx context.Context, kind TemplateKind, content string) (Template, error)
	// GetTemplate fetches a template by id. Returns ErrNotFound when absent.
	GetTemplate(ctx context.Context, id string) (Template, error)
	// ListTemplates returns all templates of a kind, ordered by content.
	ListTemplates(ctx context.Context, kind TemplateKind) ([]Template, error)

	// CreateBeamline registers a beamline with optional template references.
	// Returns ErrDuplicateBeamline when the name is taken and
	// ErrInvalidReference when a reference does not resolve.
	CreateBeamline(ctx context.Context, name string, refs TemplateRefs) (Beamline, error)
	// GetBeamline fetches a beamline by name. Returns ErrNotFound when absent.
	GetBeamline(ctx context.Context, name string) (Beamline, error)
	// ListBeamlines returns all beamlines ordered by name.
	ListBeamlines(ctx context.Context) ([]Beamline, error)
	// UpdateTemplates re-points template references without touching the
	// scan counter. Nil fields keep their current value.
	UpdateTemplates(ctx context.Context, name string, refs TemplateRefs) (Beamline, error)

	// SetDirectory records the beamline's output directory and extension.
	// Returns ErrConflict when the beamline already has an entry and
	// ErrDuplicateDirectory when the pair belongs to another beamline.
	SetDirectory(ctx context.Context, beamlineID, directory, extension string) (DirectoryEntry, error)
	// GetDirectory fetches the beamline's directory entry. Returns
	// ErrNotFound when unset.
	GetDirectory(ctx context.Context, beamlineID string) (DirectoryEntry, error)

	// NextScanNumber atomically increments and returns the beamline's scan
	// number. The returned value is max(current, floor)+1; concurrent calls
	// for one beamline never observe the same value and failed attempts
	// leave the counter unchanged. Returns ErrNotFound for unknown names.
	NextScanNumber(ctx context.Context, name string, floor int64) (int64, error)

	// Close releases backend resources.
	Close() error
}
