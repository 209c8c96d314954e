// Package tracker mirrors allocated scan numbers as marker files in each
// beamline's data directory. Acquisition software that writes its own numbered
// files keeps the directory ahead of the database; reading the markers back
// lets the allocator treat the directory contents as a floor for the counter.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// FileStore abstracts the storage holding marker files. Implementations cover
// a local filesystem, an in-memory map for tests, and an S3 bucket.
type FileStore interface {
	// List returns the file names present in dir. A missing directory is an
	// empty listing, not an error.
	List(ctx context.Context, dir string) ([]string, error)
	// Create writes an empty marker file named name in dir.
	Create(ctx context.Context, dir, name string) error
	// Remove deletes the named marker. Removing an absent marker is a no-op.
	Remove(ctx context.Context, dir, name string) error
}

// Tracker reads and writes numbered marker files of the form "<n>.<ext>".
type Tracker struct {
	files FileStore
	log   *slog.Logger
}

// New wraps a FileStore. A nil logger falls back to slog.Default.
func New(files FileStore, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{files: files, log: log}
}

// Highest returns the largest marker number present in dir for the given
// extension, or zero when the directory holds none. Files that do not parse
// as "<n>.<ext>" are ignored.
func (t *Tracker) Highest(ctx context.Context, dir, ext string) (int64, error) {
	names, err := t.files.List(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("list markers in %s: %w", dir, err)
	}
	var highest int64
	for _, name := range names {
		n, ok := parseMarker(name, ext)
		if ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

// Record writes the marker for number and removes the marker for previous.
// The new marker is written first so a crash between the two operations
// leaves the directory ahead of the database rather than behind it. A failed
// removal is logged and not returned; the stale marker is harmless.
func (t *Tracker) Record(ctx context.Context, dir, ext string, number, previous int64) error {
	if err := t.files.Create(ctx, dir, markerName(number, ext)); err != nil {
		return fmt.Errorf("write marker %d in %s: %w", number, dir, err)
	}
	if previous > 0 && previous != number {
		if err := t.files.Remove(ctx, dir, markerName(previous, ext)); err != nil {
			t.log.WarnContext(ctx, "stale scan marker left behind",
				"directory", dir, "marker", markerName(previous, ext), "error", err)
		}
	}
	return nil
}

func markerName(n int64, ext string) string {
	return strconv.FormatInt(n, 10) + "." + ext
}

func parseMarker(name, ext string) (int64, bool) {
	stem, ok := strings.CutSuffix(name, "."+ext)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
