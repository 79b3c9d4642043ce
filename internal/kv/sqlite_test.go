package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.Put(ctx, "a/1", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "a/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("expected 'one', got %q", got)
	}

	// Overwrite
	s.Put(ctx, "a/1", []byte("uno"))
	got, _ = s.Get(ctx, "a/1")
	if string(got) != "uno" {
		t.Errorf("expected 'uno', got %q", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestDB(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	s.Put(ctx, "k", []byte("v"))
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting again is fine
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	s.Put(ctx, "memory/active/b", []byte("2"))
	s.Put(ctx, "memory/active/a", []byte("1"))
	s.Put(ctx, "memory/archived/c", []byte("3"))
	s.Put(ctx, "setting/x", []byte("4"))

	var keys []string
	err := s.Scan(ctx, "memory/active/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "memory/active/a" || keys[1] != "memory/active/b" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestScanStopsOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	s.Put(ctx, "p/1", []byte("1"))
	s.Put(ctx, "p/2", []byte("2"))

	stop := errors.New("stop")
	calls := 0
	err := s.Scan(ctx, "p/", func(string, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("expected stop after 1 call, got %v after %d", err, calls)
	}
}

func TestScanCallbackCanQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	s.Put(ctx, "p/1", []byte("1"))

	err := s.Scan(ctx, "p/", func(key string, _ []byte) error {
		_, err := s.Get(ctx, key)
		return err
	})
	if err != nil {
		t.Fatalf("nested get inside scan: %v", err)
	}
}

func TestApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	s.Put(ctx, "keep", []byte("v"))

	err := s.Apply(ctx,
		DeleteOp("keep"),
		PutOp("new", []byte("n")),
	)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := s.Get(ctx, "keep"); !errors.Is(err, ErrNotFound) {
		t.Error("expected keep to be deleted")
	}
	if v, _ := s.Get(ctx, "new"); string(v) != "n" {
		t.Errorf("expected 'n', got %q", v)
	}

	// A canceled context rolls everything back
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Apply(cctx, PutOp("ghost", []byte("g"))); err == nil {
		t.Fatal("expected error on canceled context")
	}
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Error("expected no partial write")
	}
}

func TestApplyExpectMissingRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	s.Put(ctx, "present", []byte("p"))

	if err := s.Apply(ctx, ExpectOp("present"), PutOp("a", []byte("a"))); err != nil {
		t.Fatalf("apply with present key: %v", err)
	}

	err := s.Apply(ctx,
		PutOp("b", []byte("b")),
		ExpectOp("absent"),
		DeleteOp("present"),
	)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Error("expected put before the failed expect to be rolled back")
	}
	if _, err := s.Get(ctx, "present"); err != nil {
		t.Errorf("expected present to survive, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "re.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Put(ctx, "k", []byte("v"))
	s.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if v, _ := s2.Get(ctx, "k"); string(v) != "v" {
		t.Errorf("expected 'v' after reopen, got %q", v)
	}
}
