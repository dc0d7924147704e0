package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqNum is the global monotonically increasing sequence number assigned to
// every write. It establishes a single total order across all column families
// sharing the WAL.
type SeqNum = uint64

// CFID identifies a column family. Ids are assigned monotonically by the
// registry and never reused, even after the family is dropped.
type CFID = uint32

// DefaultColumnFamilyName is the name of the column family every database
// starts with.
const DefaultColumnFamilyName = "default"

// DefaultColumnFamilyID is the registry id reserved for the default column family.
const DefaultColumnFamilyID CFID = 0
