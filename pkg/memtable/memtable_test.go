package memtable

import (
	"bytes"
	"fmt"
	"testing"
)

func TestMemtable_PutGetDelete(t *testing.T) {
	mt := New(0, nil)

	mt.Put([]byte("foo"), []byte("v1"), 1)
	e, ok := mt.Get([]byte("foo"))
	if !ok || e.Kind != KindPut || !bytes.Equal(e.Value, []byte("v1")) {
		t.Fatalf("Unexpected entry after put: %+v ok=%v", e, ok)
	}

	mt.Put([]byte("foo"), []byte("v2"), 2)
	e, _ = mt.Get([]byte("foo"))
	if !bytes.Equal(e.Value, []byte("v2")) || e.SeqNum != 2 {
		t.Fatalf("Overwrite lost: %+v", e)
	}

	mt.Delete([]byte("foo"), 3)
	e, ok = mt.Get([]byte("foo"))
	if !ok || e.Kind != KindDelete {
		t.Fatalf("Expected tombstone, got %+v ok=%v", e, ok)
	}
}

func TestMemtable_MergeChains(t *testing.T) {
	mt := New(0, nil)

	t.Run("OnAbsentKey", func(t *testing.T) {
		mt.Merge([]byte("a"), []byte("op1"), 1)
		mt.Merge([]byte("a"), []byte("op2"), 2)

		e, ok := mt.Get([]byte("a"))
		if !ok || e.Kind != KindMerge || e.Base != BaseUnknown {
			t.Fatalf("Unexpected entry: %+v", e)
		}
		if len(e.Operands) != 2 || !bytes.Equal(e.Operands[0], []byte("op1")) {
			t.Fatalf("Operand order broken: %v", e.Operands)
		}
	})

	t.Run("OnPutBase", func(t *testing.T) {
		mt.Put([]byte("b"), []byte("base"), 3)
		mt.Merge([]byte("b"), []byte("op"), 4)

		e, _ := mt.Get([]byte("b"))
		if e.Kind != KindMerge || e.Base != BaseValue || !bytes.Equal(e.Value, []byte("base")) {
			t.Fatalf("Expected chain over put base, got %+v", e)
		}
	})

	t.Run("OnTombstone", func(t *testing.T) {
		mt.Delete([]byte("c"), 5)
		mt.Merge([]byte("c"), []byte("op"), 6)

		e, _ := mt.Get([]byte("c"))
		if e.Kind != KindMerge || e.Base != BaseNone {
			t.Fatalf("Tombstone base lost: %+v", e)
		}
	})

	t.Run("PutCutsChain", func(t *testing.T) {
		mt.Merge([]byte("d"), []byte("op"), 7)
		mt.Put([]byte("d"), []byte("fresh"), 8)

		e, _ := mt.Get([]byte("d"))
		if e.Kind != KindPut || len(e.Operands) != 0 {
			t.Fatalf("Put did not cut the chain: %+v", e)
		}
	})
}

func TestMemtable_SortedOrder(t *testing.T) {
	mt := New(0, nil)

	for _, k := range []string{"mirko", "bla", "fodor"} {
		mt.Put([]byte(k), []byte("v"), 1)
	}

	items := mt.Sorted()
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if bytes.Compare(items[i-1].Key, items[i].Key) >= 0 {
			t.Fatalf("Items out of order: %q >= %q", items[i-1].Key, items[i].Key)
		}
	}
}

func TestMemtable_FlushHint(t *testing.T) {
	hint := make(chan struct{}, 1)
	mt := New(64, hint)

	for i := 0; i < 8; i++ {
		mt.Put([]byte(fmt.Sprintf("key-%d", i)), bytes.Repeat([]byte("x"), 16), uint64(i+1))
	}

	select {
	case <-hint:
	default:
		t.Fatal("Expected a flush hint after crossing the threshold")
	}

	mt.Reset()
	if mt.Len() != 0 || mt.ApproxBytes() != 0 {
		t.Fatalf("Reset left state behind: len=%d bytes=%d", mt.Len(), mt.ApproxBytes())
	}
}
