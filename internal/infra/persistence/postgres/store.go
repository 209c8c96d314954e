// Package postgres provides the PostgreSQL implementation of the persistence
// store, mirroring the sqlite store's semantics for multi-node deployments.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"scantrack/internal/infra/persistence/migrations"
	"scantrack/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain
// interface.
var _ domain.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/scantrack?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists the scantrack schema in PostgreSQL.
type Store struct {
	db    *sql.DB
	newID func() string
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and applies the embedded migrations.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, newID: uuid.NewString}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, "postgres")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
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

// isUniqueViolation matches Postgres unique-violation errors (SQLSTATE 23505)
// by constraint name.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// CreateTemplate inserts template content for a kind. The conflict-update
// keeps the statement idempotent: identical content returns the existing id.
func (s *Store) CreateTemplate(ctx context.Context, kind domain.TemplateKind, content string) (domain.Template, error) {
	table, err := templateTable(kind)
	if err != nil {
		return domain.Template{}, err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, template) VALUES ($1, $2)
		ON CONFLICT (template) DO UPDATE SET template = EXCLUDED.template
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
			fmt.Sprintf(`SELECT template FROM %s WHERE id = $1`, table), id).Scan(&content)
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

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
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
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, table), *id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrInvalidReference{Kind: kind, ID: *id}
	}
	if err != nil {
		return fmt.Errorf("check %s reference: %w", table, err)
	}
	return nil
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
		`INSERT INTO beamline (id, name, scan_number, visit, scan, detector) VALUES ($1, $2, 0, $3, $4, $5)`,
		rec.ID, rec.Name, rec.VisitTemplateID, rec.ScanTemplateID, rec.DetectorTemplateID)
	if isUniqueViolation(err, "beamline_name_unique") {
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
		`SELECT id, name, scan_number, visit, scan, detector FROM beamline WHERE name = $1`, name))
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
			visit = coalesce($1, visit),
			scan = coalesce($2, scan),
			detector = coalesce($3, detector)
		WHERE name = $4
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
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM beamline WHERE id = $1`, beamlineID).Scan(&one)
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
		`INSERT INTO directory (id, beamline, directory, extension) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.BeamlineID, entry.Directory, entry.Extension)
	switch {
	case isUniqueViolation(err, "directory_beamline_unique"):
		return domain.DirectoryEntry{}, domain.ErrConflict{Beamline: beamlineID}
	case isUniqueViolation(err, "directory_pair_unique"):
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
		`SELECT id, beamline, directory, extension FROM directory WHERE beamline = $1`, beamlineID).
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
// statement, relying on Postgres row locking for per-beamline atomicity.
// Unrelated beamlines update independent rows and never serialise.
func (s *Store) NextScanNumber(ctx context.Context, name string, floor int64) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE beamline SET scan_number = greatest(scan_number, $1) + 1 WHERE name = $2 RETURNING scan_number`,
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

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
