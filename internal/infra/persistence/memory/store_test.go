package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"scantrack/pkg/domain"
)

func strPtr(s string) *string { return &s }

func TestCreateTemplateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	first, err := store.CreateTemplate(ctx, domain.KindVisit, "/data/{visit}")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	second, err := store.CreateTemplate(ctx, domain.KindVisit, "/data/{visit}")
	if err != nil {
		t.Fatalf("create duplicate template: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("identical content must return the existing id: %s vs %s", first.ID, second.ID)
	}
	// Same content under a different kind is a distinct record.
	other, err := store.CreateTemplate(ctx, domain.KindScan, "/data/{visit}")
	if err != nil {
		t.Fatalf("create scan template: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("content uniqueness is scoped per kind")
	}
}

func TestGetTemplateNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.GetTemplate(context.Background(), "missing")
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBeamlineDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	created, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{})
	if err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	if _, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{}); err == nil {
		t.Fatal("expected duplicate beamline error")
	} else {
		var dup domain.ErrDuplicateBeamline
		if !errors.As(err, &dup) || dup.Name != "i22" {
			t.Fatalf("expected ErrDuplicateBeamline{i22}, got %v", err)
		}
	}
	// The existing record must be unmodified.
	got, err := store.GetBeamline(ctx, "i22")
	if err != nil {
		t.Fatalf("get beamline: %v", err)
	}
	if got.ID != created.ID || got.ScanNumber != 0 {
		t.Fatalf("existing record modified: %+v", got)
	}
}

func TestCreateBeamlineValidatesReferences(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{Visit: strPtr("missing")})
	var invalid domain.ErrInvalidReference
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	// A reference of the wrong kind must also fail.
	scanTpl, err := store.CreateTemplate(ctx, domain.KindScan, "{scan}")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	_, err = store.CreateBeamline(ctx, "i22", domain.TemplateRefs{Visit: &scanTpl.ID})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected kind mismatch to fail, got %v", err)
	}
}

func TestUpdateTemplatesKeepsCounter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	visit, err := store.CreateTemplate(ctx, domain.KindVisit, "/data/{visit}")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{}); err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.NextScanNumber(ctx, "i22", 0); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}
	updated, err := store.UpdateTemplates(ctx, "i22", domain.TemplateRefs{Visit: &visit.ID})
	if err != nil {
		t.Fatalf("update templates: %v", err)
	}
	if updated.ScanNumber != 3 {
		t.Fatalf("scan number must survive template updates, got %d", updated.ScanNumber)
	}
	if updated.VisitTemplateID == nil || *updated.VisitTemplateID != visit.ID {
		t.Fatalf("visit reference not updated: %+v", updated)
	}
}

func TestSetDirectoryConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	a, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{})
	if err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	b, err := store.CreateBeamline(ctx, "b21", domain.TemplateRefs{})
	if err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	if _, err := store.SetDirectory(ctx, a.ID, "/data/i22", "nxs"); err != nil {
		t.Fatalf("set directory: %v", err)
	}

	_, err = store.SetDirectory(ctx, a.ID, "/data/other", "nxs")
	var conflict domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict for second entry, got %v", err)
	}

	_, err = store.SetDirectory(ctx, b.ID, "/data/i22", "nxs")
	var dup domain.ErrDuplicateDirectory
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateDirectory, got %v", err)
	}

	// A's entry is unaffected by B's failed attempt.
	entry, err := store.GetDirectory(ctx, a.ID)
	if err != nil {
		t.Fatalf("get directory: %v", err)
	}
	if entry.Directory != "/data/i22" || entry.Extension != "nxs" {
		t.Fatalf("owner entry modified: %+v", entry)
	}

	// Same pair with a different extension is fine.
	if _, err := store.SetDirectory(ctx, b.ID, "/data/i22", "h5"); err != nil {
		t.Fatalf("distinct extension should be accepted: %v", err)
	}
}

func TestNextScanNumberSequence(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{}); err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	for want := int64(1); want <= 5; want++ {
		got, err := store.NextScanNumber(ctx, "i22", 0)
		if err != nil {
			t.Fatalf("allocate %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	// Floor reconciliation jumps past external numbers.
	got, err := store.NextScanNumber(ctx, "i22", 100)
	if err != nil {
		t.Fatalf("allocate with floor: %v", err)
	}
	if got != 101 {
		t.Fatalf("expected 101, got %d", got)
	}
	// A floor below the counter has no effect.
	got, err = store.NextScanNumber(ctx, "i22", 5)
	if err != nil {
		t.Fatalf("allocate with low floor: %v", err)
	}
	if got != 102 {
		t.Fatalf("expected 102, got %d", got)
	}
}

func TestNextScanNumberUnknownBeamline(t *testing.T) {
	store := NewStore()
	_, err := store.NextScanNumber(context.Background(), "nope", 0)
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNextScanNumberCancelledContext(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{}); err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.NextScanNumber(cancelled, "i22", 0); err == nil {
		t.Fatal("expected cancelled allocation to fail")
	}
	got, err := store.NextScanNumber(ctx, "i22", 0)
	if err != nil {
		t.Fatalf("allocate after cancellation: %v", err)
	}
	if got != 1 {
		t.Fatalf("cancelled attempt must not consume a number, got %d", got)
	}
}

func TestConcurrentAllocationsAreGapless(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, err := store.CreateBeamline(ctx, "i22", domain.TemplateRefs{}); err != nil {
		t.Fatalf("create beamline: %v", err)
	}
	const n = 200
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := store.NextScanNumber(ctx, "i22", 0)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			results <- num
		}()
	}
	wg.Wait()
	close(results)
	seen := make(map[int64]bool, n)
	for num := range results {
		if seen[num] {
			t.Fatalf("duplicate scan number %d", num)
		}
		seen[num] = true
	}
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Fatalf("missing scan number %d", want)
		}
	}
}
