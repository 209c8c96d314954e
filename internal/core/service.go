// Package core implements the scantrack service: beamline registration,
// template management, scan number allocation, and path resolution over a
// pluggable persistence store.
package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"scantrack/internal/template"
	"scantrack/internal/tracker"
	"scantrack/pkg/domain"
)

// Service operation names used in metrics, traces, and audit entries.
const (
	OpCreateTemplate   = "create_template"
	OpListTemplates    = "list_templates"
	OpRegisterBeamline = "register_beamline"
	OpUpdateTemplates  = "update_templates"
	OpSetDirectory     = "set_directory"
	OpAllocateScan     = "allocate_scan"
	OpResolvePaths     = "resolve_paths"
	OpVisitDirectory   = "visit_directory"
)

// Service exposes the beamline numbering and path resolution operations.
type Service struct {
	store     domain.Store
	markers   *tracker.Tracker
	templates *gocache.Cache

	log     Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the service clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer attaches a tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder attaches an audit recorder.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithTracker enables directory marker synchronisation on allocation.
func WithTracker(t *tracker.Tracker) Option {
	return func(s *Service) { s.markers = t }
}

// NewService constructs a service over the supplied store. Templates are
// immutable, so by-id lookups are served from an expiring read-through cache.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		templates: gocache.New(time.Hour, 10*time.Minute),
		log:       NewSlogLogger(nil),
		clock:     systemClock{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		audit:     noopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.Store { return s.store }

// run wraps a service operation with tracing, metrics, and audit recording.
func (s *Service) run(ctx context.Context, operation, subject string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	start := s.clock.Now()
	err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)

	entry := AuditEntry{Operation: operation, Subject: subject, Success: err == nil, At: s.clock.Now()}
	if err != nil {
		entry.Error = err.Error()
		s.log.Warn("operation failed", "operation", operation, "subject", subject, "error", err)
	} else {
		s.log.Debug("operation completed", "operation", operation, "subject", subject, "duration", duration)
	}
	s.audit.Record(ctx, entry)
	return err
}

// CreateTemplate validates and stores template content for a kind. Identical
// content returns the existing record.
func (s *Service) CreateTemplate(ctx context.Context, kind domain.TemplateKind, content string) (domain.Template, error) {
	var created domain.Template
	err := s.run(ctx, OpCreateTemplate, content, func(ctx context.Context) error {
		if !kind.Valid() {
			return domain.ErrInvalidTemplate{Template: content, Reason: "unknown template kind " + string(kind)}
		}
		if _, err := template.Parse(kind, content); err != nil {
			return err
		}
		var err error
		created, err = s.store.CreateTemplate(ctx, kind, content)
		if err == nil {
			s.templates.Set(created.ID, created, gocache.DefaultExpiration)
		}
		return err
	})
	return created, err
}

// ListTemplates returns all templates of a kind.
func (s *Service) ListTemplates(ctx context.Context, kind domain.TemplateKind) ([]domain.Template, error) {
	var out []domain.Template
	err := s.run(ctx, OpListTemplates, string(kind), func(ctx context.Context) error {
		var err error
		out, err = s.store.ListTemplates(ctx, kind)
		return err
	})
	return out, err
}

// RegisterBeamline registers a new beamline with optional template references.
func (s *Service) RegisterBeamline(ctx context.Context, name string, refs domain.TemplateRefs) (domain.Beamline, error) {
	var created domain.Beamline
	err := s.run(ctx, OpRegisterBeamline, name, func(ctx context.Context) error {
		if name == "" {
			return fmt.Errorf("beamline name required")
		}
		var err error
		created, err = s.store.CreateBeamline(ctx, name, refs)
		return err
	})
	return created, err
}

// GetBeamline fetches a beamline by name.
func (s *Service) GetBeamline(ctx context.Context, name string) (domain.Beamline, error) {
	return s.store.GetBeamline(ctx, name)
}

// ListBeamlines returns all registered beamlines.
func (s *Service) ListBeamlines(ctx context.Context) ([]domain.Beamline, error) {
	return s.store.ListBeamlines(ctx)
}

// UpdateTemplates re-points a beamline's template references. The scan
// counter is never touched.
func (s *Service) UpdateTemplates(ctx context.Context, name string, refs domain.TemplateRefs) (domain.Beamline, error) {
	var updated domain.Beamline
	err := s.run(ctx, OpUpdateTemplates, name, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateTemplates(ctx, name, refs)
		return err
	})
	return updated, err
}

// SetDirectory records the beamline's output directory and file extension.
func (s *Service) SetDirectory(ctx context.Context, name, directory, extension string) (domain.DirectoryEntry, error) {
	var entry domain.DirectoryEntry
	err := s.run(ctx, OpSetDirectory, name, func(ctx context.Context) error {
		if directory == "" || extension == "" {
			return fmt.Errorf("directory and extension required")
		}
		beamline, err := s.store.GetBeamline(ctx, name)
		if err != nil {
			return err
		}
		entry, err = s.store.SetDirectory(ctx, beamline.ID, directory, extension)
		return err
	})
	return entry, err
}

// GetDirectory fetches the beamline's directory entry by name.
func (s *Service) GetDirectory(ctx context.Context, name string) (domain.DirectoryEntry, error) {
	beamline, err := s.store.GetBeamline(ctx, name)
	if err != nil {
		return domain.DirectoryEntry{}, err
	}
	return s.store.GetDirectory(ctx, beamline.ID)
}

// AllocateScanNumber issues the next scan number for the beamline. When a
// directory entry exists and a tracker is configured, the directory's highest
// marker acts as a floor so externally written files can never collide, and
// the new number is mirrored back as a marker file.
func (s *Service) AllocateScanNumber(ctx context.Context, name string) (int64, error) {
	var next int64
	err := s.run(ctx, OpAllocateScan, name, func(ctx context.Context) error {
		beamline, err := s.store.GetBeamline(ctx, name)
		if err != nil {
			return err
		}
		var err2 error
		next, err2 = s.allocate(ctx, beamline)
		return err2
	})
	return next, err
}

// allocate performs floor reconciliation, the atomic increment, and the
// marker write-back for an already-fetched beamline.
func (s *Service) allocate(ctx context.Context, beamline domain.Beamline) (int64, error) {
	var dir *domain.DirectoryEntry
	var floor int64
	if s.markers != nil {
		entry, err := s.store.GetDirectory(ctx, beamline.ID)
		switch {
		case err == nil:
			dir = &entry
			floor, err = s.markers.Highest(ctx, entry.Directory, entry.Extension)
			if err != nil {
				// The database remains authoritative when the directory
				// cannot be read.
				s.log.Warn("marker scan failed", "beamline", beamline.Name, "directory", entry.Directory, "error", err)
				floor = 0
			}
		case errors.As(err, &domain.ErrNotFound{}):
			// No directory entry, database-only numbering.
		default:
			return 0, err
		}
	}

	next, err := s.store.NextScanNumber(ctx, beamline.Name, floor)
	if err != nil {
		return 0, err
	}

	if dir != nil {
		if err := s.markers.Record(ctx, dir.Directory, dir.Extension, next, floor); err != nil {
			// The allocation is already committed; a missing marker only
			// delays the next reconciliation.
			s.log.Warn("marker write failed", "beamline", beamline.Name, "number", next, "error", err)
		}
	}
	return next, nil
}

// ResolveOptions carries the optional parts of a resolution request.
type ResolveOptions struct {
	// Subdirectory is an optional relative path inserted via {subdirectory}.
	Subdirectory string
	// Detectors lists detector names to render per-detector paths for.
	Detectors []string
}

// DetectorPath pairs a requested detector name with its resolved path.
type DetectorPath struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Resolution is the outcome of a scan allocation plus template rendering.
type Resolution struct {
	Beamline      string         `json:"beamline"`
	Visit         string         `json:"visit"`
	ScanNumber    int64          `json:"scan_number"`
	VisitPath     string         `json:"visit_path"`
	ScanPath      string         `json:"scan_path"`
	DetectorPaths []DetectorPath `json:"detector_paths,omitempty"`
}

// ResolvePaths allocates the next scan number and renders the beamline's
// templates for the given visit. Detector paths are rendered only when
// detectors are requested; requesting them without a detector template fails
// with ErrMissingTemplate before any number is consumed.
func (s *Service) ResolvePaths(ctx context.Context, name, visit string, opts ResolveOptions) (Resolution, error) {
	var res Resolution
	err := s.run(ctx, OpResolvePaths, name, func(ctx context.Context) error {
		if visit == "" {
			return fmt.Errorf("visit required")
		}
		beamline, err := s.store.GetBeamline(ctx, name)
		if err != nil {
			return err
		}

		visitTpl, err := s.parsedTemplate(ctx, beamline, domain.KindVisit)
		if err != nil {
			return err
		}
		scanTpl, err := s.parsedTemplate(ctx, beamline, domain.KindScan)
		if err != nil {
			return err
		}
		var detectorTpl *template.Template
		if len(opts.Detectors) > 0 {
			tpl, err := s.parsedTemplate(ctx, beamline, domain.KindDetector)
			if err != nil {
				return err
			}
			detectorTpl = &tpl
		}

		subdirectory, err := template.CleanSubdirectory(opts.Subdirectory)
		if err != nil {
			return err
		}

		values := template.Values{
			template.FieldBeamline:     beamline.Name,
			template.FieldVisit:        visit,
			template.FieldProposal:     template.ProposalOf(visit),
			template.FieldSubdirectory: subdirectory,
		}
		if entry, dirErr := s.store.GetDirectory(ctx, beamline.ID); dirErr == nil {
			values[template.FieldDirectory] = entry.Directory
			values[template.FieldExtension] = entry.Extension
		} else if !errors.As(dirErr, &domain.ErrNotFound{}) {
			return dirErr
		}

		// Scan and detector values arrive after allocation; every other field
		// a template uses must already be present so a render failure cannot
		// consume a number.
		for _, tpl := range []*template.Template{&visitTpl, &scanTpl, detectorTpl} {
			if tpl == nil {
				continue
			}
			for _, field := range tpl.Fields() {
				if field == template.FieldScan || field == template.FieldDetector {
					continue
				}
				if _, ok := values[field]; !ok {
					return domain.ErrUnresolvedPlaceholder{Token: string(field), Template: tpl.Content()}
				}
			}
		}

		// Everything that can fail without consuming a number has passed;
		// allocate and render.
		number, err := s.allocate(ctx, beamline)
		if err != nil {
			return err
		}
		values[template.FieldScan] = strconv.FormatInt(number, 10)

		visitPath, err := visitTpl.Render(values)
		if err != nil {
			return err
		}
		scanPath, err := scanTpl.Render(values)
		if err != nil {
			return err
		}
		res = Resolution{
			Beamline:   beamline.Name,
			Visit:      visit,
			ScanNumber: number,
			VisitPath:  visitPath,
			ScanPath:   scanPath,
		}
		for _, det := range opts.Detectors {
			values[template.FieldDetector] = template.NormalizeDetector(det)
			p, err := detectorTpl.Render(values)
			if err != nil {
				return err
			}
			res.DetectorPaths = append(res.DetectorPaths, DetectorPath{Name: det, Path: p})
		}
		return nil
	})
	return res, err
}

// VisitDirectory renders the beamline's visit template for a visit without
// allocating a scan number.
func (s *Service) VisitDirectory(ctx context.Context, name, visit string) (string, error) {
	var dir string
	err := s.run(ctx, OpVisitDirectory, name, func(ctx context.Context) error {
		if visit == "" {
			return fmt.Errorf("visit required")
		}
		beamline, err := s.store.GetBeamline(ctx, name)
		if err != nil {
			return err
		}
		tpl, err := s.parsedTemplate(ctx, beamline, domain.KindVisit)
		if err != nil {
			return err
		}
		dir, err = tpl.Render(template.Values{
			template.FieldBeamline: beamline.Name,
			template.FieldVisit:    visit,
			template.FieldProposal: template.ProposalOf(visit),
		})
		return err
	})
	return dir, err
}

// parsedTemplate resolves the beamline's reference for a kind and parses its
// content. Missing references fail with ErrMissingTemplate.
func (s *Service) parsedTemplate(ctx context.Context, beamline domain.Beamline, kind domain.TemplateKind) (template.Template, error) {
	id := beamline.TemplateID(kind)
	if id == nil {
		return template.Template{}, domain.ErrMissingTemplate{Beamline: beamline.Name, Kind: kind}
	}
	rec, err := s.templateByID(ctx, *id)
	if err != nil {
		return template.Template{}, err
	}
	return template.Parse(kind, rec.Content)
}

// templateByID serves template lookups from the cache, falling back to the
// store. Templates are immutable so cached records never go stale.
func (s *Service) templateByID(ctx context.Context, id string) (domain.Template, error) {
	if v, ok := s.templates.Get(id); ok {
		if tpl, ok := v.(domain.Template); ok {
			return tpl, nil
		}
	}
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	s.templates.Set(id, tpl, gocache.DefaultExpiration)
	return tpl, nil
}
