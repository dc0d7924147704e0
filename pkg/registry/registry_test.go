package registry

import (
	"errors"
	"testing"

	"cfdb/pkg/dberrors"
)

func openTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	return r
}

func TestRegistry_CreateResolveList(t *testing.T) {
	dir := t.TempDir()
	r := openTestRegistry(t, dir)

	if !r.Fresh() {
		t.Fatal("Expected fresh registry")
	}

	for i, name := range []string{"default", "one", "two"} {
		id, err := r.Create(name)
		if err != nil {
			t.Fatalf("Create %q failed: %v", name, err)
		}
		if id != uint32(i) {
			t.Fatalf("Expected id %d for %q, got %d", i, name, id)
		}
	}

	id, err := r.Resolve("one")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("Expected id 1, got %d", id)
	}

	names := r.ActiveNames()
	want := []string{"default", "one", "two"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Position %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}

func TestRegistry_DuplicateCreate(t *testing.T) {
	r := openTestRegistry(t, t.TempDir())

	if _, err := r.Create("default"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := r.Create("default")
	if !errors.Is(err, dberrors.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegistry_DropAndNameReuse(t *testing.T) {
	r := openTestRegistry(t, t.TempDir())

	id, err := r.Create("cache")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Drop(id); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	if _, err := r.Resolve("cache"); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after drop, got %v", err)
	}
	if err := r.Drop(id); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on double drop, got %v", err)
	}

	// The name is free again; the id must not be.
	reused, err := r.Create("cache")
	if err != nil {
		t.Fatalf("Create after drop failed: %v", err)
	}
	if reused == id {
		t.Fatalf("Id %d was reused", id)
	}
}

func TestRegistry_FoldSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	r := openTestRegistry(t, dir)
	def, _ := r.Create("default")
	one, err := r.Create("one")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Drop(one); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if err := r.AdvanceMark(def, 42); err != nil {
		t.Fatalf("AdvanceMark failed: %v", err)
	}
	dbID := r.DBID()
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openTestRegistry(t, dir)
	if reopened.Fresh() {
		t.Fatal("Expected non-fresh registry after reopen")
	}
	if reopened.DBID() != dbID {
		t.Fatalf("DB id changed across reopen: %q vs %q", reopened.DBID(), dbID)
	}
	if got := reopened.ActiveNames(); len(got) != 1 || got[0] != "default" {
		t.Fatalf("Expected active {default}, got %v", got)
	}
	if mark := reopened.Mark(def); mark != 42 {
		t.Fatalf("Expected mark 42, got %d", mark)
	}
	if reopened.IsActive(one) {
		t.Fatal("Dropped family still active after reopen")
	}

	// A second fold of the same records must land on the same state.
	again := openTestRegistry(t, dir)
	if got := again.ActiveNames(); len(got) != 1 || got[0] != "default" {
		t.Fatalf("Second fold diverged: %v", got)
	}
}

func TestRegistry_MarkBookkeeping(t *testing.T) {
	r := openTestRegistry(t, t.TempDir())

	a, _ := r.Create("a")
	b, _ := r.Create("b")

	if err := r.AdvanceMark(a, 10); err != nil {
		t.Fatalf("AdvanceMark failed: %v", err)
	}
	if err := r.AdvanceMark(b, 7); err != nil {
		t.Fatalf("AdvanceMark failed: %v", err)
	}
	// Regression must be ignored.
	if err := r.AdvanceMark(a, 5); err != nil {
		t.Fatalf("AdvanceMark failed: %v", err)
	}

	if got := r.Mark(a); got != 10 {
		t.Fatalf("Expected mark 10, got %d", got)
	}
	if got := r.MaxMark(); got != 10 {
		t.Fatalf("Expected max mark 10, got %d", got)
	}
	if got := r.MinActiveMark(); got != 7 {
		t.Fatalf("Expected min active mark 7, got %d", got)
	}
}

func TestListColumnFamilies(t *testing.T) {
	dir := t.TempDir()

	if _, err := ListColumnFamilies(dir); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound without manifest, got %v", err)
	}

	r := openTestRegistry(t, dir)
	r.Create("default")
	two, _ := r.Create("two")
	r.Create("three")
	r.Drop(two)
	r.Close()

	names, err := ListColumnFamilies(dir)
	if err != nil {
		t.Fatalf("ListColumnFamilies failed: %v", err)
	}
	want := []string{"default", "three"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, names)
		}
	}
}
