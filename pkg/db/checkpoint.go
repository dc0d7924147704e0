package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"cfdb/pkg/dberrors"
	"cfdb/pkg/memtable"
	"cfdb/pkg/merge"
	"cfdb/pkg/persistence"
	"cfdb/pkg/types"
)

// Checkpointed values carry the sequence number of the newest write folded
// into them: [seq u64 LE][payload]. A checkpoint that runs again over the
// same replayed records (crash between store commit and mark append) sees a
// stored sequence >= the entry's and skips it, keeping application of every
// logical write at-most-once.
const storedHeaderLen = 8

func encodeStored(seq types.SeqNum, payload []byte) []byte {
	out := make([]byte, storedHeaderLen+len(payload))
	binary.LittleEndian.PutUint64(out, seq)
	copy(out[storedHeaderLen:], payload)
	return out
}

func decodeStored(b []byte) (types.SeqNum, []byte, error) {
	if len(b) < storedHeaderLen {
		return 0, nil, fmt.Errorf("%w: stored value shorter than its header", dberrors.ErrCorruption)
	}
	return binary.LittleEndian.Uint64(b), b[storedHeaderLen:], nil
}

// storedGet reads a checkpointed value. found is false for absent keys.
func (d *DB) storedGet(cf types.CFID, key []byte) (types.SeqNum, []byte, bool, error) {
	raw, err := d.store.Get(cf, key)
	if err != nil {
		if errors.Is(err, dberrors.ErrNotFound) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	seq, payload, err := decodeStored(raw)
	if err != nil {
		return 0, nil, false, err
	}
	return seq, payload, true, nil
}

// checkpoint flushes every family's memtable into the checkpoint store and
// advances the persisted sequence marks, then prunes WAL segments the marks
// have made obsolete.
func (d *DB) checkpoint() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	return d.checkpointLocked()
}

func (d *DB) checkpointLocked() error {
	dirty := false
	for _, fam := range d.families {
		if fam.mt.Len() > 0 {
			dirty = true
			break
		}
	}
	if !dirty {
		return nil
	}

	// Seal the active segment so the checkpoint covers whole segments only.
	if err := d.journal.Rotate(); err != nil {
		return err
	}

	batch := d.store.Batch()
	marks := make(map[types.CFID]types.SeqNum)

	for _, fam := range d.families {
		var maxSeq types.SeqNum
		for _, it := range fam.mt.Sorted() {
			if err := d.stageItem(batch, fam, it); err != nil {
				return fmt.Errorf("flush of %q failed: %w", fam.name, err)
			}
			if it.Entry.SeqNum > maxSeq {
				maxSeq = it.Entry.SeqNum
			}
		}
		if maxSeq > 0 {
			marks[fam.id] = maxSeq
		}
	}

	if batch.Len() > 0 {
		if err := d.store.Commit(batch); err != nil {
			return err
		}
	}

	// Marks move only after the store commit is durable.
	for id, seqN := range marks {
		if err := d.reg.AdvanceMark(id, seqN); err != nil {
			return err
		}
	}
	for _, fam := range d.families {
		fam.mt.Reset()
	}

	if err := d.journal.PruneTo(d.reg.MinActiveMark()); err != nil {
		return err
	}

	slog.Debug("checkpoint complete", "families", len(marks), "min_mark", d.reg.MinActiveMark())

	return nil
}

// stageItem stages one memtable item into the batch, resolving merge chains
// eagerly. Items whose effect is already present in the store (stored
// sequence >= the item's) are skipped.
func (d *DB) stageItem(batch *persistence.Batch, fam *family, it memtable.Item) error {
	e := it.Entry

	switch e.Kind {
	case memtable.KindDelete:
		return batch.Delete(fam.id, it.Key)

	case memtable.KindPut:
		storedSeq, _, found, err := d.storedGet(fam.id, it.Key)
		if err != nil {
			return err
		}
		if found && storedSeq >= e.SeqNum {
			return nil
		}
		return batch.Set(fam.id, it.Key, encodeStored(e.SeqNum, e.Value))

	case memtable.KindMerge:
		var base []byte
		switch e.Base {
		case memtable.BaseValue:
			base = e.Value
		case memtable.BaseNone:
			base = nil
		default:
			storedSeq, payload, found, err := d.storedGet(fam.id, it.Key)
			if err != nil {
				return err
			}
			if found && storedSeq >= e.SeqNum {
				// chain already folded by a checkpoint that didn't get to
				// advance the mark before a crash
				return nil
			}
			if found {
				base = payload
			}
		}

		resolved, err := merge.Resolve(fam.opts.MergeOperator, it.Key, base, e.Operands)
		if err != nil {
			return err
		}
		return batch.Set(fam.id, it.Key, encodeStored(e.SeqNum, resolved))

	default:
		return fmt.Errorf("%w: unknown memtable entry kind %d", dberrors.ErrCorruption, e.Kind)
	}
}
