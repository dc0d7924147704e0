package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"

	"cfdb/pkg/dberrors"
	"cfdb/pkg/types"

	"github.com/cockroachdb/pebble"
)

// Store holds the checkpointed state of every column family in one pebble
// instance. Keys are namespaced by a big-endian column-family id prefix, so
// families never see each other's data and a whole family can be cleared
// with a single range delete.
//
// Pebble's own WAL is disabled: the engine's WAL is the source of truth, and
// a checkpoint commits a batch and then flushes pebble's memtable before the
// sequence marks are advanced.
type Store struct {
	inner *pebble.DB
}

const keyPrefixLen = 4

// Open creates or opens the checkpoint store under dir.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{
		DisableWAL: true,
	}
	inner, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &Store{inner: inner}, nil
}

// EncodeKey namespaces a user key under its column family.
func EncodeKey(cf types.CFID, key []byte) []byte {
	out := make([]byte, keyPrefixLen+len(key))
	binary.BigEndian.PutUint32(out, cf)
	copy(out[keyPrefixLen:], key)
	return out
}

// Get returns a copy of the checkpointed value for (cf, key), or
// dberrors.ErrNotFound.
func (s *Store) Get(cf types.CFID, key []byte) ([]byte, error) {
	val, closer, err := s.inner.Get(EncodeKey(cf, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, dberrors.ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint store get: %w", err)
	}

	out := append([]byte(nil), val...)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("checkpoint store get close: %w", err)
	}

	return out, nil
}

// Batch starts an atomic multi-key update.
func (s *Store) Batch() *Batch {
	return &Batch{inner: s.inner.NewBatch()}
}

// Batch accumulates checkpoint mutations for one atomic commit.
type Batch struct {
	inner *pebble.Batch
}

func (b *Batch) Set(cf types.CFID, key, value []byte) error {
	return b.inner.Set(EncodeKey(cf, key), value, nil)
}

func (b *Batch) Delete(cf types.CFID, key []byte) error {
	return b.inner.Delete(EncodeKey(cf, key), nil)
}

func (b *Batch) Len() int {
	return int(b.inner.Count())
}

// Commit applies the batch and flushes pebble's memtable, making the batch
// durable despite the disabled pebble WAL. Callers advance sequence marks
// only after Commit returns.
func (s *Store) Commit(b *Batch) error {
	defer b.inner.Close()

	if err := b.inner.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("checkpoint store commit: %w", err)
	}
	if err := s.inner.Flush(); err != nil {
		return fmt.Errorf("checkpoint store flush: %w", err)
	}

	return nil
}

// DropFamily removes every key of cf. The id prefix is fixed-width, so the
// range [prefix(cf), prefix(cf)+1) covers exactly the family's keyspace.
func (s *Store) DropFamily(cf types.CFID) error {
	start := EncodeKey(cf, nil)
	end, err := prefixSuccessor(start)
	if err != nil {
		return err
	}

	if err := s.inner.DeleteRange(start, end, pebble.NoSync); err != nil {
		return fmt.Errorf("checkpoint store drop family: %w", err)
	}
	if err := s.inner.Flush(); err != nil {
		return fmt.Errorf("checkpoint store flush: %w", err)
	}

	return nil
}

func prefixSuccessor(prefix []byte) ([]byte, error) {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1], nil
		}
	}
	return nil, fmt.Errorf("column family id space exhausted")
}

func (s *Store) Close() error {
	if s == nil || s.inner == nil {
		return nil
	}
	return s.inner.Close()
}
