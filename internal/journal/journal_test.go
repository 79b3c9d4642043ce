package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/perpetual-s/gemi-memory/internal/kv"
)

func newTestJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	db, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, opts...)
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	var hooked []string
	j := newTestJournal(t, WithSaveHook(func(id string) { hooked = append(hooked, id) }))

	e, err := j.Save(ctx, "  Went hiking with Ana.  ")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if e.Text != "Went hiking with Ana." {
		t.Errorf("expected trimmed text, got %q", e.Text)
	}
	if len(hooked) != 1 || hooked[0] != e.ID {
		t.Errorf("expected save hook with %s, got %v", e.ID, hooked)
	}

	got, err := j.Entry(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != e.Text || got.ExtractedAt != nil {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestSaveEmpty(t *testing.T) {
	called := false
	j := newTestJournal(t, WithSaveHook(func(string) { called = true }))

	if _, err := j.Save(context.Background(), " \n "); !errors.Is(err, ErrEmptyEntry) {
		t.Errorf("expected ErrEmptyEntry, got %v", err)
	}
	if called {
		t.Error("hook must not run for rejected entries")
	}
}

func TestListAndPending(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	j := newTestJournal(t, WithClock(func() time.Time { return now }))

	first, _ := j.Save(ctx, "first")
	now = now.Add(time.Hour)
	second, _ := j.Save(ctx, "second")
	now = now.Add(time.Hour)
	third, _ := j.Save(ctx, "third")

	list, err := j.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != third.ID || list[2].ID != first.ID {
		t.Errorf("expected newest first, got %v", list)
	}
	if limited, _ := j.List(ctx, 2); len(limited) != 2 {
		t.Errorf("expected 2 entries, got %d", len(limited))
	}

	if err := j.MarkExtracted(ctx, second.ID, now); err != nil {
		t.Fatalf("mark extracted: %v", err)
	}
	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != third.ID {
		t.Errorf("expected first and third pending, got %v", pending)
	}

	got, _ := j.Entry(ctx, second.ID)
	if got.ExtractedAt == nil || !got.ExtractedAt.Equal(now) {
		t.Errorf("expected extracted_at %v, got %v", now, got.ExtractedAt)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	e, _ := j.Save(ctx, "to remove")
	if err := j.Delete(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := j.Entry(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := j.Delete(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := j.MarkExtracted(ctx, e.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound when marking deleted entry, got %v", err)
	}
}
