package persistence

import (
	"bytes"
	"errors"
	"testing"

	"cfdb/pkg/dberrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_BatchCommitGet(t *testing.T) {
	s := openTestStore(t)

	b := s.Batch()
	if err := b.Set(0, []byte("foo"), []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Set(1, []byte("foo"), []byte("v2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	got, err := s.Get(0, []byte("foo"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("Expected v1, got %q", got)
	}

	// Same key under another family is a different row.
	got, err = s.Get(1, []byte("foo"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("Expected v2, got %q", got)
	}

	if _, err := s.Get(2, []byte("foo")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_BatchDelete(t *testing.T) {
	s := openTestStore(t)

	b := s.Batch()
	b.Set(0, []byte("k"), []byte("v"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	b = s.Batch()
	b.Delete(0, []byte("k"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := s.Get(0, []byte("k")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_DropFamily(t *testing.T) {
	s := openTestStore(t)

	b := s.Batch()
	b.Set(3, []byte("a"), []byte("1"))
	b.Set(3, []byte("b"), []byte("2"))
	b.Set(4, []byte("a"), []byte("3"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := s.DropFamily(3); err != nil {
		t.Fatalf("DropFamily failed: %v", err)
	}

	if _, err := s.Get(3, []byte("a")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for dropped family, got %v", err)
	}
	if _, err := s.Get(3, []byte("b")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for dropped family, got %v", err)
	}

	// The neighboring family is untouched.
	got, err := s.Get(4, []byte("a"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("3")) {
		t.Fatalf("Expected 3, got %q", got)
	}
}
