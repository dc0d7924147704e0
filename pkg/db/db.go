package db

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"cfdb/pkg/clock"
	"cfdb/pkg/dberrors"
	"cfdb/pkg/memtable"
	"cfdb/pkg/merge"
	"cfdb/pkg/persistence"
	"cfdb/pkg/registry"
	"cfdb/pkg/types"
	"cfdb/pkg/wal"
)

// family is one column family's live state. The registry owns the durable
// entry; this is only its in-memory shadow.
type family struct {
	id   types.CFID
	name string
	opts ColumnFamilyOptions
	mt   *memtable.Memtable
}

// DB is a persistent key-value engine whose keyspace is partitioned into
// column families. All families share one WAL, one global sequence clock and
// one recovery path.
//
// Lock order: writeMu before stateMu. The write path serializes on writeMu
// (single writer per log); reads take stateMu.RLock only; checkpoints and
// registry mutations take both.
type DB struct {
	path string
	opts Options

	reg     *registry.Registry
	journal *wal.Manager
	store   *persistence.Store
	seq     *clock.SeqClock
	handles *handleTable

	writeMu sync.Mutex
	stateMu sync.RWMutex

	families map[types.CFID]*family

	flushCh chan struct{}
	flusher *checkpointer
	closed  atomic.Bool
}

// CreateColumnFamily allocates a new family and returns a handle to it. The
// manifest record is durable before the handle is observable. Fails with
// ErrAlreadyExists while an active family carries the name; names of dropped
// families are free to reuse.
func (d *DB) CreateColumnFamily(opts ColumnFamilyOptions, name string) (*ColumnFamilyHandle, error) {
	if d.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	id, err := d.reg.Create(name)
	if err != nil {
		return nil, err
	}

	d.families[id] = &family{
		id:   id,
		name: name,
		opts: opts,
		mt:   memtable.New(d.opts.MemtableFlushBytes, d.flushCh),
	}

	slog.Info("created column family", "name", name, "id", id)

	return d.handles.Bind(id, name), nil
}

// DropColumnFamily durably retires the handle's family. The handle (and any
// sibling handle) is invalidated; the family's checkpointed data is removed
// and its WAL records are skipped by future recoveries.
func (d *DB) DropColumnFamily(h *ColumnFamilyHandle) error {
	if d.closed.Load() {
		return dberrors.ErrClosed
	}
	if h == nil || !h.Valid() {
		return dberrors.ErrColumnFamilyDropped
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if err := d.reg.Drop(h.id); err != nil {
		return err
	}

	refs := d.handles.Refs(h.id)
	d.handles.Invalidate(h.id)
	delete(d.families, h.id)

	if err := d.store.DropFamily(h.id); err != nil {
		return fmt.Errorf("failed to clear dropped family %q: %w", h.name, err)
	}

	slog.Info("dropped column family", "name", h.name, "id", h.id, "open_handles", refs)

	return nil
}

// Put overwrites the key in the handle's family.
func (d *DB) Put(h *ColumnFamilyHandle, key, value []byte) error {
	return d.write(h, wal.OpPut, key, value)
}

// Delete removes the key from the handle's family.
func (d *DB) Delete(h *ColumnFamilyHandle, key []byte) error {
	return d.write(h, wal.OpDelete, key, nil)
}

// Merge appends a merge operand for the key. Operands accumulate in write
// order and are resolved by the family's merge operator on read or flush.
func (d *DB) Merge(h *ColumnFamilyHandle, key, operand []byte) error {
	return d.write(h, wal.OpMerge, key, operand)
}

// write is the single write path: allocate the next global sequence, append
// the record durably, then apply it to in-memory state. Success is reported
// only after the WAL append is synced.
func (d *DB) write(h *ColumnFamilyHandle, op wal.Op, key, value []byte) error {
	if d.closed.Load() {
		return dberrors.ErrClosed
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	fam, err := d.familyFor(h)
	if err != nil {
		return err
	}
	if op == wal.OpMerge && fam.opts.MergeOperator == nil {
		return fmt.Errorf("%w: merge into %q without a merge operator", dberrors.ErrInvalidArgument, fam.name)
	}

	key = append([]byte(nil), key...)
	value = append([]byte(nil), value...)

	seqN := d.seq.Next()
	d.journal.Append(wal.Record{
		SeqNum: seqN,
		CF:     fam.id,
		Op:     op,
		Key:    key,
		Value:  value,
	})

	// wait for the WAL to confirm the write
	res := <-d.journal.Done()
	for res.SeqNum != seqN {
		res = <-d.journal.Done()
	}
	if res.Err != nil {
		return fmt.Errorf("failed to append WAL record: %w", res.Err)
	}

	switch op {
	case wal.OpPut:
		fam.mt.Put(key, value, seqN)
	case wal.OpDelete:
		fam.mt.Delete(key, seqN)
	case wal.OpMerge:
		fam.mt.Merge(key, value, seqN)
	}

	return nil
}

// Get returns the current value for the key in the handle's family, lazily
// resolving any pending merge chain. Absent keys and tombstones surface
// dberrors.ErrNotFound.
func (d *DB) Get(h *ColumnFamilyHandle, key []byte, _ ReadOptions) ([]byte, error) {
	if d.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	fam, err := d.familyFor(h)
	if err != nil {
		return nil, err
	}

	e, ok := fam.mt.Get(key)
	if !ok {
		_, payload, found, err := d.storedGet(fam.id, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, dberrors.ErrNotFound
		}
		return payload, nil
	}

	switch e.Kind {
	case memtable.KindPut:
		return append([]byte(nil), e.Value...), nil
	case memtable.KindDelete:
		return nil, dberrors.ErrNotFound
	case memtable.KindMerge:
		base, err := d.mergeBase(fam.id, key, e)
		if err != nil {
			return nil, err
		}
		return merge.Resolve(fam.opts.MergeOperator, key, base, e.Operands)
	default:
		return nil, fmt.Errorf("%w: unknown memtable entry kind %d", dberrors.ErrCorruption, e.Kind)
	}
}

// mergeBase finds the value a pending chain folds onto.
func (d *DB) mergeBase(cf types.CFID, key []byte, e memtable.Entry) ([]byte, error) {
	switch e.Base {
	case memtable.BaseValue:
		return e.Value, nil
	case memtable.BaseNone:
		return nil, nil
	default: // BaseUnknown: the base, if any, is in the checkpoint store
		_, payload, found, err := d.storedGet(cf, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return payload, nil
	}
}

// familyFor maps a handle to live family state. Callers hold stateMu.
func (d *DB) familyFor(h *ColumnFamilyHandle) (*family, error) {
	if h == nil || !h.Valid() {
		return nil, dberrors.ErrColumnFamilyDropped
	}
	fam, ok := d.families[h.id]
	if !ok {
		return nil, dberrors.ErrColumnFamilyDropped
	}
	return fam, nil
}

// ReleaseHandle drops the caller's reference without affecting the family.
func (d *DB) ReleaseHandle(h *ColumnFamilyHandle) {
	if h == nil {
		return
	}
	d.handles.Release(h)
}

// Close checkpoints all unflushed state, stops background work and releases
// every resource. Idempotent.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.flusher.Stop()
	d.journal.Stop()

	var firstErr error
	if err := d.checkpoint(); err != nil {
		firstErr = fmt.Errorf("final checkpoint failed: %w", err)
	}

	for _, c := range []struct {
		name string
		fn   func() error
	}{
		{"wal", d.journal.Close},
		{"checkpoint store", d.store.Close},
		{"manifest", d.reg.Close},
	} {
		if err := c.fn(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to close %s: %w", c.name, err)
			} else {
				slog.Warn("error while closing database", "component", c.name, "error", err)
			}
		}
	}

	d.handles.InvalidateAll()
	slog.Info("database closed", "path", d.path)

	return firstErr
}

// ListColumnFamilies reports the active families recorded in the manifest at
// path, in id order, without opening the database.
func ListColumnFamilies(path string) ([]string, error) {
	return registry.ListColumnFamilies(path)
}
