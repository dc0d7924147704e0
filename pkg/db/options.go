package db

import (
	"cfdb/pkg/merge"
	"cfdb/pkg/wal"
)

// Options configures the engine as a whole.
type Options struct {
	// WALDir overrides where log segments live. Empty means <path>/wal.
	WALDir string

	// SegmentSizeBytes is the WAL rotation threshold.
	SegmentSizeBytes int64

	// MemtableFlushBytes triggers a background checkpoint once any family's
	// unflushed state grows past it.
	MemtableFlushBytes uint64
}

func (o Options) withDefaults() Options {
	if o.SegmentSizeBytes <= 0 {
		o.SegmentSizeBytes = wal.DefaultSegmentSizeBytes
	}
	if o.MemtableFlushBytes == 0 {
		o.MemtableFlushBytes = 4 * 1024 * 1024
	}
	return o
}

// ColumnFamilyOptions configures one column family.
type ColumnFamilyOptions struct {
	// MergeOperator resolves merge operand chains for this family. Families
	// without one reject Merge writes at read/flush time.
	MergeOperator merge.Operator
}

// ColumnFamilyDescriptor names a column family to open or create.
type ColumnFamilyDescriptor struct {
	Name    string
	Options ColumnFamilyOptions
}

// ReadOptions tune a single Get.
type ReadOptions struct {
	// VerifyChecksums double-checks block checksums in the checkpoint store.
	// WAL records are always checksum-verified during recovery.
	VerifyChecksums bool
}
