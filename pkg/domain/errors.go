package domain

import "fmt"

// EntityType identifies the kind of record an error refers to.
type EntityType string

// Entity identifiers used by typed errors and persistence buckets.
const (
	// EntityBeamline identifies a beamline record.
	EntityBeamline EntityType = "beamline"
	// EntityTemplate identifies a path template record.
	EntityTemplate EntityType = "template"
	// EntityDirectory identifies a directory registry record.
	EntityDirectory EntityType = "directory"
)

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	Key    string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// ErrDuplicateBeamline is returned when registering a beamline whose name is
// already taken.
type ErrDuplicateBeamline struct {
	Name string
}

func (e ErrDuplicateBeamline) Error() string {
	return fmt.Sprintf("beamline %s already registered", e.Name)
}

// ErrDuplicateDirectory is returned when the (directory, extension) pair is
// already owned by another beamline.
type ErrDuplicateDirectory struct {
	Directory string
	Extension string
}

func (e ErrDuplicateDirectory) Error() string {
	return fmt.Sprintf("directory %s with extension %s already registered", e.Directory, e.Extension)
}

// ErrConflict is returned when a beamline that already has a directory entry
// attempts to register another one.
type ErrConflict struct {
	Beamline string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("beamline %s already has a directory entry", e.Beamline)
}

// ErrMissingTemplate is returned when a path is requested for a kind the
// beamline has no template reference for.
type ErrMissingTemplate struct {
	Beamline string
	Kind     TemplateKind
}

func (e ErrMissingTemplate) Error() string {
	return fmt.Sprintf("beamline %s has no %s template", e.Beamline, e.Kind)
}

// ErrUnresolvedPlaceholder is returned when a template token is not part of
// the recognised set for its kind, or has no value attached at render time.
type ErrUnresolvedPlaceholder struct {
	Token    string
	Template string
}

func (e ErrUnresolvedPlaceholder) Error() string {
	return fmt.Sprintf("unresolved placeholder {%s} in template %q", e.Token, e.Template)
}

// ErrInvalidTemplate is returned when template content cannot be parsed.
type ErrInvalidTemplate struct {
	Template string
	Reason   string
}

func (e ErrInvalidTemplate) Error() string {
	return fmt.Sprintf("invalid template %q: %s", e.Template, e.Reason)
}

// ErrInvalidSubdirectory is returned when a caller-supplied subdirectory
// escapes the visit directory.
type ErrInvalidSubdirectory struct {
	Segment string
}

func (e ErrInvalidSubdirectory) Error() string {
	return fmt.Sprintf("invalid subdirectory segment %q", e.Segment)
}

// ErrInvalidReference is returned when a template reference points at a
// missing record or one of the wrong kind.
type ErrInvalidReference struct {
	Kind TemplateKind
	ID   string
}

func (e ErrInvalidReference) Error() string {
	return fmt.Sprintf("%s template reference %s does not resolve", e.Kind, e.ID)
}
