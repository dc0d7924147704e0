package db

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"cfdb/pkg/clock"
	"cfdb/pkg/dberrors"
	"cfdb/pkg/memtable"
	"cfdb/pkg/persistence"
	"cfdb/pkg/registry"
	"cfdb/pkg/types"
	"cfdb/pkg/wal"
)

// Open opens (or initializes) the database at path with exactly the given
// column families.
//
// The requested set must equal the persisted active set, not a subset or a
// superset, or Open fails with ErrInvalidArgument: the engine never
// silently creates or hides column families on open. The one exception is a
// fresh database, which accepts exactly {"default"}.
//
// Recovery runs to completion before any handle is returned: the manifest is
// folded into the registry, WAL segments are replayed in log order with
// every record applied at most once, and replayed state is checkpointed.
// Handles are returned in descriptor order.
func Open(opts Options, path string, descriptors []ColumnFamilyDescriptor) (*DB, []*ColumnFamilyHandle, error) {
	opts = opts.withDefaults()

	requested, err := requestedNames(descriptors)
	if err != nil {
		return nil, nil, err
	}

	reg, err := registry.Open(path)
	if err != nil {
		return nil, nil, err
	}

	if reg.Fresh() {
		if len(requested) != 1 || requested[0] != types.DefaultColumnFamilyName {
			reg.Close()
			return nil, nil, fmt.Errorf(
				"%w: a new database opens with exactly [%s], requested %v",
				dberrors.ErrInvalidArgument, types.DefaultColumnFamilyName, requested)
		}
		if _, err := reg.Create(types.DefaultColumnFamilyName); err != nil {
			reg.Close()
			return nil, nil, err
		}
	} else if err := matchActiveSet(requested, reg.ActiveNames()); err != nil {
		reg.Close()
		return nil, nil, err
	}

	store, err := persistence.Open(filepath.Join(path, "store"))
	if err != nil {
		reg.Close()
		return nil, nil, err
	}

	walDir := opts.WALDir
	if walDir == "" {
		walDir = filepath.Join(path, "wal")
	}
	journal, err := wal.New(walDir, opts.SegmentSizeBytes)
	if err != nil {
		store.Close()
		reg.Close()
		return nil, nil, err
	}

	d := &DB{
		path:     path,
		opts:     opts,
		reg:      reg,
		journal:  journal,
		store:    store,
		seq:      clock.NewSeq(reg.MaxMark()),
		handles:  newHandleTable(),
		families: make(map[types.CFID]*family),
		flushCh:  make(chan struct{}, 1),
	}

	for _, desc := range descriptors {
		id, err := reg.Resolve(desc.Name)
		if err != nil {
			d.failOpen()
			return nil, nil, err
		}
		d.families[id] = &family{
			id:   id,
			name: desc.Name,
			opts: desc.Options,
			mt:   memtable.New(opts.MemtableFlushBytes, d.flushCh),
		}
	}

	replayed, err := d.recover()
	if err != nil {
		d.failOpen()
		return nil, nil, err
	}
	if replayed > 0 {
		if err := d.checkpointLocked(); err != nil {
			d.failOpen()
			return nil, nil, fmt.Errorf("post-recovery checkpoint failed: %w", err)
		}
	}

	ctx := context.Background()
	d.journal.Start(ctx)
	d.flusher = newCheckpointer(d)
	d.flusher.Start(ctx)

	handles := make([]*ColumnFamilyHandle, len(descriptors))
	for i, desc := range descriptors {
		id, _ := reg.Resolve(desc.Name)
		handles[i] = d.handles.Bind(id, desc.Name)
	}

	slog.Info("database opened",
		"path", path,
		"db_id", reg.DBID(),
		"column_families", requested,
		"replayed_records", replayed,
	)

	return d, handles, nil
}

// recover replays every WAL segment, oldest first. A record is skipped when
// its family is unknown (dropped before this open) or when its sequence is
// at or below the family's persisted mark (already checkpointed; this guard
// makes re-replaying a segment restored from a backup a no-op).
// Everything else is applied and counted.
func (d *DB) recover() (int, error) {
	replayed := 0

	err := d.journal.Replay(func(rec wal.Record) error {
		// The global clock must clear every sequence ever issued, including
		// records for dropped families that nothing else accounts for.
		if rec.SeqNum > d.seq.Val() {
			d.seq.Set(rec.SeqNum)
		}

		fam, ok := d.families[rec.CF]
		if !ok {
			return nil
		}
		if rec.SeqNum <= d.reg.Mark(rec.CF) {
			return nil
		}

		switch rec.Op {
		case wal.OpPut:
			fam.mt.Put(rec.Key, rec.Value, rec.SeqNum)
		case wal.OpDelete:
			fam.mt.Delete(rec.Key, rec.SeqNum)
		case wal.OpMerge:
			fam.mt.Merge(rec.Key, rec.Value, rec.SeqNum)
		default:
			return fmt.Errorf("%w: unknown WAL op %d at seq %d", dberrors.ErrCorruption, rec.Op, rec.SeqNum)
		}
		replayed++

		return nil
	})
	if err != nil {
		return 0, err
	}

	return replayed, nil
}

// failOpen releases everything a partially constructed DB holds. Open is
// atomic-or-failed: no handle escapes a failed recovery.
func (d *DB) failOpen() {
	d.journal.Close()
	d.store.Close()
	d.reg.Close()
}

func requestedNames(descriptors []ColumnFamilyDescriptor) ([]string, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("%w: no column families requested", dberrors.ErrInvalidArgument)
	}

	seen := make(map[string]bool, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		if desc.Name == "" {
			return nil, fmt.Errorf("%w: empty column family name", dberrors.ErrInvalidArgument)
		}
		if seen[desc.Name] {
			return nil, fmt.Errorf("%w: column family %q requested twice", dberrors.ErrInvalidArgument, desc.Name)
		}
		seen[desc.Name] = true
		names = append(names, desc.Name)
	}

	return names, nil
}

// matchActiveSet enforces the exact-set contract between the request and the
// manifest.
func matchActiveSet(requested, persisted []string) error {
	reqSorted := append([]string(nil), requested...)
	perSorted := append([]string(nil), persisted...)
	sort.Strings(reqSorted)
	sort.Strings(perSorted)

	mismatch := len(reqSorted) != len(perSorted)
	if !mismatch {
		for i := range reqSorted {
			if reqSorted[i] != perSorted[i] {
				mismatch = true
				break
			}
		}
	}
	if mismatch {
		return fmt.Errorf(
			"%w: requested column families %v do not match persisted set %v",
			dberrors.ErrInvalidArgument, reqSorted, perSorted)
	}

	return nil
}
