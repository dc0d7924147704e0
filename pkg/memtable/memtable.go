package memtable

import (
	"bytes"
	"sync/atomic"

	"cfdb/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

type concurrentSet = skipmap.FuncMap[[]byte, Entry]

// Memtable is one column family's unflushed state: a concurrent ordered map
// from user key to the latest Entry for that key. Mutators are serialized by
// the engine's write path; readers run concurrently against the skipmap.
type Memtable struct {
	underlying *concurrentSet
	size       atomic.Uint64

	threshold uint64
	flushHint chan<- struct{}
}

// New builds a memtable that nudges flushHint (non-blocking) whenever its
// contents outgrow flushThresholdBytes. The channel is typically shared by
// every family of one engine, feeding a single background checkpointer.
func New(flushThresholdBytes uint64, flushHint chan<- struct{}) *Memtable {
	return &Memtable{
		underlying: newSet(),
		threshold:  flushThresholdBytes,
		flushHint:  flushHint,
	}
}

func newSet() *concurrentSet {
	return skipmap.NewFunc[[]byte, Entry](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}

func (mt *Memtable) Get(k []byte) (Entry, bool) {
	return mt.underlying.Load(k)
}

// Put overwrites whatever state the key had with a resolved value.
func (mt *Memtable) Put(k, v []byte, seq types.SeqNum) {
	mt.store(k, Entry{Kind: KindPut, Value: v, SeqNum: seq})
}

// Delete overwrites the key with a tombstone.
func (mt *Memtable) Delete(k []byte, seq types.SeqNum) {
	mt.store(k, Entry{Kind: KindDelete, SeqNum: seq})
}

// Merge appends an operand to the key's chain, promoting an in-memory put or
// tombstone into the chain's base. Operand order is write order.
func (mt *Memtable) Merge(k, operand []byte, seq types.SeqNum) {
	prev, ok := mt.underlying.Load(k)

	var next Entry
	switch {
	case !ok:
		next = Entry{Kind: KindMerge, Base: BaseUnknown}
	case prev.Kind == KindPut:
		next = Entry{Kind: KindMerge, Base: BaseValue, Value: prev.Value}
	case prev.Kind == KindDelete:
		next = Entry{Kind: KindMerge, Base: BaseNone}
	default:
		next = prev
	}

	next.Operands = append(append([][]byte(nil), next.Operands...), operand)
	next.SeqNum = seq

	mt.store(k, next)
}

func (mt *Memtable) store(k []byte, e Entry) {
	mt.underlying.Store(k, e)

	if mt.size.Add(e.approxBytes(k)) >= mt.threshold && mt.threshold > 0 && mt.flushHint != nil {
		select {
		case mt.flushHint <- struct{}{}:
		default: // a hint is already pending, coalesce
		}
	}
}

// Sorted drains a snapshot of all items in ascending key order.
func (mt *Memtable) Sorted() []Item {
	out := make([]Item, 0, mt.underlying.Len())
	mt.underlying.Range(func(key []byte, e Entry) bool {
		out = append(out, Item{Key: key, Entry: e})
		return true
	})
	return out
}

func (mt *Memtable) Len() int {
	return mt.underlying.Len()
}

// Reset discards all entries after a checkpoint has persisted them.
func (mt *Memtable) Reset() {
	mt.underlying = newSet()
	mt.size.Store(0)
}

func (mt *Memtable) ApproxBytes() uint64 {
	return mt.size.Load()
}
