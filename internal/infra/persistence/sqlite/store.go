// Package sqlite provides the embedded SQLite implementation of the
// persistence store. Counter increments are single UPDATE..RETURNING
// statements so per-beamline atomicity comes from the database itself.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"scantrack/internal/infra/persistence/migrations"
	"scantrack/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain
// interface.
var _ domain.Store = (*Store)(nil)

// Store persists the scantrack schema in a single SQLite file.
type Store struct {
	db    *sql.DB
	path  string
	newID func() string
}

// NewStore opens (creating if needed) the SQLite database at path and applies
// the embedded migrations.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "scantrack.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, newID: uuid.NewString}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, "sqlite")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func templateTable(kind domain.TemplateKind) (string, error) {
	switch kind {
	case domain.KindVisit:
		return "visit_template", nil
	case domain.KindScan:
		return "scan_template", nil
	case domain.KindDetector:
		return "detector_template", nil
	}
	return "", domain.ErrInvalidTemplate{Reason: "unknown template kind " + string(kind)}
}

// isUniqueViolation matches the driver's UNIQUE constraint error for the
// given column list, e.g. "beamline.name".
func isUniqueViolation(err error, columns string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+columns)
}

// CreateTemplate inserts template content for a kind. The conflict-update
// keeps the statement idempotent: identical content returns the existing id.
func (s *Store) CreateTemplate(ctx context.Context, kind domain.TemplateKind, content string) (domain.Template, error) {
	table, err := templateTable(kind)
	if err != nil {
		return domain.Template{}, err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, template) VALUES (?, ?)
		ON CONFLICT (template) DO UPDATE SET template = excluded.template
		RETURNING id`, table)
	var id string
	if err := s.db.QueryRowContext(ctx, q, s.newID(), content).Scan(&id); err != nil {
		return domain.Template{}, fmt.Errorf("insert %s: %w", table, err)
	}
	return domain.Template{ID: id, Kind: kind, Content: content}, nil
}

// GetTemplate fetches a template by id, searching each kind's table.
func (s *Store) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	for _, kind := range domain.Kinds() {
		table, err := templateTable(kind)
		if err != nil {
			return domain.Template{}, err
		}
		var content string
		err = s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT template FROM %s WHERE id = ?`, table), id).Scan(&content)
		switch {
		case err == nil:
			return domain.Template{ID: id, Kind: kind, Content: content}, nil
		case errors.Is(err, sql.ErrNoRows):
			continue
		default:
			return domain.Template{}, fmt.Errorf("select %s: %w", table, err)
		}
	}
	return domain.Template{}, domain.ErrNotFound{Entity: domain.EntityTemplate, Key: id}
}

// ListTemplates returns all templates of a kind ordered by content.
func (s *Store) ListTemplates(ctx context.Context, kind domain.TemplateKind) ([]domain.Template, error) {
	table, err := templateTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, template FROM %s ORDER BY template`, table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Template
	for rows.Next() {
		tpl := domain.Template{Kind: kind}
		if err := rows.Scan(&tpl.ID, &tpl.Content); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Store) checkRef(ctx context.Context, q queryer, kind domain.TemplateKind, id *string) error {
	if id == nil {
		return nil
	}
	table, err := templateTable(kind)
	if err != nil {
		return err
	}
	var one int
	err = q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table), *id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrInvalidReference{Kind: kind, ID: *id}
	}
	if err != nil {
		return fmt.Errorf("check %s reference: %w", table, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) checkRefs(ctx context.Context, q queryer, refs domain.TemplateRefs) error {
	if err := s.checkRef(ctx, q, domain.KindVisit, refs.Visit); err != nil {
		return err
	}
	if err := s.checkRef(ctx, q, domain.KindScan, refs.Scan); err != nil {
		return err
	}
	return s.checkRef(ctx, q, domain.KindDetector, refs.Detector)
}

// CreateBeamline registers a beamline with optional template references.
func (s *Store) CreateBeamline(ctx context.Context, name string, refs domain.TemplateRefs) (domain.Beamline, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Beamline{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkRefs(ctx, tx, refs); err != nil {
		return domain.Beamline{}, err
	}
	rec := domain.Beamline{
		ID:                 s.newID(),
		Name:               name,
		VisitTemplateID:    refs.Visit,
		ScanTemplateID:     refs.Scan,
		DetectorTemplateID: refs.Detector,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO beamline (id, name, scan_number, visit, scan, detector) VALUES (?, ?, 0, ?, ?, ?)`,
		rec.ID, rec.Name, rec.VisitTemplateID, rec.ScanTemplateID, rec.DetectorTemplateID)
	if isUniqueViolation(err, "beamline.name") {
		return domain.Beamline{}, domain.ErrDuplicateBeamline{Name: name}
	}
	if err != nil {
		return domain.Beamline{}, fmt.Errorf("insert beamline: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Beamline{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func scanBeamline(row *sql.Row) (domain.Beamline, error) {
	var rec domain.Beamline
	var visit, scan, detector sql.NullString
	if err := row.Scan(&rec.ID, &rec.Name, &rec.ScanNumber, &visit, &scan, &detector); err != nil {
		return domain.Beamline{}, err
	}
	if visit.Valid {
		rec.VisitTemplateID = &visit.String
	}
	if scan.Valid {
		rec.ScanTemplateID = &scan.String
	}
	if detector.Valid {
		rec.DetectorTemplateID = &detector.String
	}
	return rec, nil
}

// GetBeamline fetches a beamline by name.
func (s *Store) GetBeamline(ctx context.Context, name string) (domain.Beamline, error) {
	rec, err := scanBeamline(s.db.QueryRowContext(ctx,
		`SELECT id, name, scan_number, visit, scan, detector FROM beamline WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Beamline{}, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: name}
	}
	if err != nil {
		return domain.Beamline{}, fmt.Errorf("select beamline: %w", err)
	}
	return rec, nil
}

// ListBeamlines returns all beamlines ordered by name.
func (s *Store) ListBeamlines(ctx context.Context) ([]domain.Beamline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, scan_number, visit, scan, detector FROM beamline ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select beamlines: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Beamline
	for rows.Next() {
		var rec domain.Beamline
		var visit, scan, detector sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ScanNumber, &visit, &scan, &detector); err != nil {
			return nil, fmt.Errorf("scan beamline: %w", err)
		}
		if visit.Valid {
			rec.VisitTemplateID = &visit.String
		}
		if scan.Valid {
			rec.ScanTemplateID = &scan.String
		}
		if detector.Valid {
			rec.DetectorTemplateID = &detector.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateTemplates re-points template references without touching the counter.
func (s *Store) UpdateTemplates(ctx context.Context, name string, refs domain.TemplateRefs) (domain.Beamline, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Beamline{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkRefs(ctx, tx, refs); err != nil {
		return domain.Beamline{}, err
	}
	rec, err := scanBeamline(tx.QueryRowContext(ctx,
		`UPDATE beamline SET
			visit = coalesce(?, visit),
			scan = coalesce(?, scan),
			detector = coalesce(?, detector)
		WHERE name = ?
		RETURNING id, name, scan_number, visit, scan, detector`,
		refs.Visit, refs.Scan, refs.Detector, name))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Beamline{}, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: name}
	}
	if err != nil {
		return domain.Beamline{}, fmt.Errorf("update beamline: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Beamline{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// SetDirectory records the beamline's output directory and extension.
func (s *Store) SetDirectory(ctx context.Context, beamlineID, directory, extension string) (domain.DirectoryEntry, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM beamline WHERE id = ?`, beamlineID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DirectoryEntry{}, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: beamlineID}
	}
	if err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("check beamline: %w", err)
	}
	entry := domain.DirectoryEntry{
		ID:         s.newID(),
		BeamlineID: beamlineID,
		Directory:  directory,
		Extension:  extension,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO directory (id, beamline, directory, extension) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.BeamlineID, entry.Directory, entry.Extension)
	switch {
	case isUniqueViolation(err, "directory.beamline"):
		return domain.DirectoryEntry{}, domain.ErrConflict{Beamline: beamlineID}
	case isUniqueViolation(err, "directory.directory, directory.extension"):
		return domain.DirectoryEntry{}, domain.ErrDuplicateDirectory{Directory: directory, Extension: extension}
	case err != nil:
		return domain.DirectoryEntry{}, fmt.Errorf("insert directory: %w", err)
	}
	return entry, nil
}

// GetDirectory fetches the beamline's directory entry.
func (s *Store) GetDirectory(ctx context.Context, beamlineID string) (domain.DirectoryEntry, error) {
	var entry domain.DirectoryEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, beamline, directory, extension FROM directory WHERE beamline = ?`, beamlineID).
		Scan(&entry.ID, &entry.BeamlineID, &entry.Directory, &entry.Extension)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DirectoryEntry{}, domain.ErrNotFound{Entity: domain.EntityDirectory, Key: beamlineID}
	}
	if err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("select directory: %w", err)
	}
	return entry, nil
}

// NextScanNumber performs the atomic read-increment-write as a single UPDATE
// statement; SQLite serialises writers per database, so two allocations can
// never observe the same value, and a failed statement changes nothing.
func (s *Store) NextScanNumber(ctx context.Context, name string, floor int64) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE beamline SET scan_number = max(scan_number, ?) + 1 WHERE name = ? RETURNING scan_number`,
		floor, name).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound{Entity: domain.EntityBeamline, Key: name}
	}
	if err != nil {
		return 0, fmt.Errorf("increment scan number: %w", err)
	}
	return next, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }
