package memtable

import "cfdb/pkg/types"

// Kind tags the in-memory state of a key.
type Kind uint8

const (
	// KindPut holds a resolved value.
	KindPut Kind = iota
	// KindDelete is a tombstone shielding any older state.
	KindDelete
	// KindMerge holds an unresolved operand chain, oldest operand first.
	KindMerge
)

// BaseState says what a merge chain knows about the value underneath it.
type BaseState uint8

const (
	// BaseUnknown: the chain started on a key absent from this memtable; the
	// base, if any, lives in the checkpointed store.
	BaseUnknown BaseState = iota
	// BaseValue: the chain sits on top of an in-memory put.
	BaseValue
	// BaseNone: the chain sits on top of an in-memory tombstone; older
	// checkpointed state must not leak through.
	BaseNone
)

// Entry is the per-key variant: Resolved(value) for puts, a tombstone for
// deletes, or Pending(base, operands) for merge chains awaiting resolution.
type Entry struct {
	Kind     Kind
	Value    []byte
	Base     BaseState
	Operands [][]byte
	SeqNum   types.SeqNum
}

// Item pairs a key with its entry when draining the memtable in key order.
type Item struct {
	Key   []byte
	Entry Entry
}

func (e Entry) approxBytes(key []byte) uint64 {
	n := uint64(len(key)) + uint64(len(e.Value)) + 16
	for _, op := range e.Operands {
		n += uint64(len(op))
	}
	return n
}
