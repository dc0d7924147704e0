package db

import (
	"sync"
	"sync/atomic"

	"cfdb/pkg/types"
)

// ColumnFamilyHandle is a caller-visible, non-owning reference into the
// registry. The registry stays the sole owner of the entry; dropping the
// family invalidates every handle bound to it without dangling.
type ColumnFamilyHandle struct {
	id    types.CFID
	name  string
	valid atomic.Bool
}

func (h *ColumnFamilyHandle) ID() types.CFID { return h.id }
func (h *ColumnFamilyHandle) Name() string   { return h.name }

// Valid reports whether the handle still refers to a live column family.
func (h *ColumnFamilyHandle) Valid() bool { return h.valid.Load() }

// handleTable tracks every live handle per family, reference-counted so a
// drop can account for handles still held by callers.
type handleTable struct {
	mu   sync.Mutex
	byID map[types.CFID][]*ColumnFamilyHandle
}

func newHandleTable() *handleTable {
	return &handleTable{byID: make(map[types.CFID][]*ColumnFamilyHandle)}
}

// Bind issues a new valid handle for (id, name) and takes a reference.
func (t *handleTable) Bind(id types.CFID, name string) *ColumnFamilyHandle {
	h := &ColumnFamilyHandle{id: id, name: name}
	h.valid.Store(true)

	t.mu.Lock()
	t.byID[id] = append(t.byID[id], h)
	t.mu.Unlock()

	return h
}

// Release drops one reference. The handle becomes unusable either way.
func (t *handleTable) Release(h *ColumnFamilyHandle) {
	h.valid.Store(false)

	t.mu.Lock()
	defer t.mu.Unlock()

	held := t.byID[h.id]
	for i, other := range held {
		if other == h {
			t.byID[h.id] = append(held[:i], held[i+1:]...)
			break
		}
	}
	if len(t.byID[h.id]) == 0 {
		delete(t.byID, h.id)
	}
}

// Refs counts handles still bound to id.
func (t *handleTable) Refs(id types.CFID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID[id])
}

// Invalidate voids every handle for id. Held handles keep their identity but
// fail all further operations.
func (t *handleTable) Invalidate(id types.CFID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, h := range t.byID[id] {
		h.valid.Store(false)
	}
	delete(t.byID, id)
}

// InvalidateAll voids every handle, used when the engine closes.
func (t *handleTable) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, held := range t.byID {
		for _, h := range held {
			h.valid.Store(false)
		}
		delete(t.byID, id)
	}
}
