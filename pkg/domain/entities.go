// Package domain defines the persistent entities, typed errors, and the
// storage abstraction used by scantrack.
package domain

// TemplateKind identifies which of the three path templates a record holds.
type TemplateKind string

// Template kinds, each stored in its own table.
const (
	// KindVisit is the visit directory template.
	KindVisit TemplateKind = "visit"
	// KindScan is the scan file template.
	KindScan TemplateKind = "scan"
	// KindDetector is the per-detector file template.
	KindDetector TemplateKind = "detector"
)

// Kinds returns all template kinds in a stable order.
func Kinds() []TemplateKind {
	return []TemplateKind{KindVisit, KindScan, KindDetector}
}

// Valid reports whether k is a recognised template kind.
func (k TemplateKind) Valid() bool {
	switch k {
	case KindVisit, KindScan, KindDetector:
		return true
	}
	return false
}

// Template is an immutable path template. Content is unique within its kind.
type Template struct {
	ID      string       `json:"id"`
	Kind    TemplateKind `json:"kind"`
	Content string       `json:"content"`
}

// TemplateRefs carries optional template references for a beamline. A nil
// field leaves the existing reference untouched on update.
type TemplateRefs struct {
	Visit    *string `json:"visit,omitempty"`
	Scan     *string `json:"scan,omitempty"`
	Detector *string `json:"detector,omitempty"`
}

// Beamline binds a beamline name to its scan counter and template references.
// ScanNumber holds the last issued number; the first allocation returns 1.
type Beamline struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	ScanNumber         int64   `json:"scan_number"`
	VisitTemplateID    *string `json:"visit_template_id,omitempty"`
	ScanTemplateID     *string `json:"scan_template_id,omitempty"`
	DetectorTemplateID *string `json:"detector_template_id,omitempty"`
}

// TemplateID returns the beamline's reference for the given kind, or nil when
// no template of that kind is configured.
func (b Beamline) TemplateID(kind TemplateKind) *string {
	switch kind {
	case KindVisit:
		return b.VisitTemplateID
	case KindScan:
		return b.ScanTemplateID
	case KindDetector:
		return b.DetectorTemplateID
	}
	return nil
}

// DirectoryEntry records a beamline's output directory and file extension.
// The (Directory, Extension) pair is unique facility-wide and doubles as the
// location of the side-car number marker files.
type DirectoryEntry struct {
	ID         string `json:"id"`
	BeamlineID string `json:"beamline_id"`
	Directory  string `json:"directory"`
	Extension  string `json:"extension"`
}
