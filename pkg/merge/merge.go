package merge

import (
	"encoding/binary"
	"fmt"
)

// Operator combines a chain of merge operands written for a single key into
// one value. Operands are folded left to right in the order they were
// written; the fold must be pure so a key can be resolved any number of
// times with the same result.
type Operator interface {
	// Name identifies the operator in logs and diagnostics.
	Name() string

	// FullMerge folds operands onto the existing value. existing is nil when
	// no base value was ever written for the key.
	FullMerge(key []byte, existing []byte, operands [][]byte) ([]byte, error)
}

// Resolve left-folds the operand chain with op. It is the single merge entry
// point used both at read time and when flushing replayed state.
func Resolve(op Operator, key, existing []byte, operands [][]byte) ([]byte, error) {
	if op == nil {
		return nil, fmt.Errorf("merge on %q without a merge operator", key)
	}
	if len(operands) == 0 {
		return existing, nil
	}
	return op.FullMerge(key, existing, operands)
}

// UInt64Add treats values as 8-byte little-endian unsigned integers and sums
// the operand chain onto the existing value. A missing base counts as zero.
type UInt64Add struct{}

func (UInt64Add) Name() string { return "uint64add" }

func (UInt64Add) FullMerge(key []byte, existing []byte, operands [][]byte) ([]byte, error) {
	sum, err := decodeFixed64(key, existing)
	if err != nil {
		return nil, err
	}
	for _, opnd := range operands {
		v, err := decodeFixed64(key, opnd)
		if err != nil {
			return nil, err
		}
		sum += v
	}
	return EncodeFixed64(sum), nil
}

func decodeFixed64(key, b []byte) (uint64, error) {
	if b == nil {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64add operand for %q has width %d, want 8", key, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// EncodeFixed64 encodes v the way UInt64Add expects its operands.
func EncodeFixed64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeFixed64 is the inverse of EncodeFixed64.
func DecodeFixed64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Append concatenates operands after the existing value, oldest first.
type Append struct {
	// Delim is inserted between joined values when non-empty.
	Delim []byte
}

func (Append) Name() string { return "append" }

func (a Append) FullMerge(_ []byte, existing []byte, operands [][]byte) ([]byte, error) {
	out := make([]byte, 0, len(existing))
	out = append(out, existing...)
	for _, opnd := range operands {
		if len(out) > 0 && len(a.Delim) > 0 {
			out = append(out, a.Delim...)
		}
		out = append(out, opnd...)
	}
	return out, nil
}
