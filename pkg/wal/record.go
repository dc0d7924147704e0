package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"cfdb/pkg/dberrors"
	"cfdb/pkg/types"
)

// Op is the logical operation carried by a WAL record.
type Op uint8

const (
	OpPut Op = iota
	OpDelete
	OpMerge
)

// Record is a single sequenced write tagged with its column family. Sequence
// numbers are global across all column families sharing the log.
type Record struct {
	SeqNum types.SeqNum
	CF     types.CFID
	Op     Op
	Key    []byte
	Value  []byte
}

// Frame layout, little-endian:
//
//	seq u64 | cfid u32 | op u8 | keylen u32 | key | vallen u32 | val | crc u32
//
// The CRC (IEEE) covers every byte before it.
func encodeRecord(rec Record) ([]byte, error) {
	if len(rec.Key) > math.MaxUint32 {
		return nil, fmt.Errorf("key too large: %d", len(rec.Key))
	}
	if len(rec.Value) > math.MaxUint32 {
		return nil, fmt.Errorf("value too large: %d", len(rec.Value))
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, rec.SeqNum)
	binary.Write(buf, binary.LittleEndian, rec.CF)
	binary.Write(buf, binary.LittleEndian, uint8(rec.Op))
	binary.Write(buf, binary.LittleEndian, uint32(len(rec.Key)))
	buf.Write(rec.Key)
	binary.Write(buf, binary.LittleEndian, uint32(len(rec.Value)))
	buf.Write(rec.Value)

	sum := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(buf, binary.LittleEndian, sum)

	return buf.Bytes(), nil
}

// decodeRecord reads one framed record. io.EOF means a clean end of segment;
// anything malformed past the first byte is surfaced as ErrCorruption, never
// silently truncated.
func decodeRecord(r io.Reader) (Record, error) {
	var rec Record

	header := make([]byte, 8+4+1+4)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("%w: torn record header: %v", dberrors.ErrCorruption, err)
	}

	crc := crc32.NewIEEE()
	crc.Write(header)

	rec.SeqNum = binary.LittleEndian.Uint64(header[0:8])
	rec.CF = binary.LittleEndian.Uint32(header[8:12])
	rec.Op = Op(header[12])
	keyLen := binary.LittleEndian.Uint32(header[13:17])

	rec.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, rec.Key); err != nil {
		return rec, fmt.Errorf("%w: torn record key: %v", dberrors.ErrCorruption, err)
	}
	crc.Write(rec.Key)

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return rec, fmt.Errorf("%w: torn record value length: %v", dberrors.ErrCorruption, err)
	}
	crc.Write(lenBuf[:])
	valLen := binary.LittleEndian.Uint32(lenBuf[:])

	rec.Value = make([]byte, valLen)
	if _, err := io.ReadFull(r, rec.Value); err != nil {
		return rec, fmt.Errorf("%w: torn record value: %v", dberrors.ErrCorruption, err)
	}
	crc.Write(rec.Value)

	var sumBuf [4]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return rec, fmt.Errorf("%w: torn record checksum: %v", dberrors.ErrCorruption, err)
	}
	if got := binary.LittleEndian.Uint32(sumBuf[:]); got != crc.Sum32() {
		return rec, fmt.Errorf("%w: record checksum mismatch at seq %d", dberrors.ErrCorruption, rec.SeqNum)
	}

	return rec, nil
}
