package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cfdb/pkg/dberrors"
	"cfdb/pkg/types"
)

// ManifestName is the registry log file inside the database directory.
const ManifestName = "MANIFEST"

const (
	kindPreamble = "preamble"
	kindCreate   = "create"
	kindDrop     = "drop"
	kindMark     = "mark"
)

// manifestRecord is one registry mutation, one JSON object per line. The
// registry's current view is the fold of all records in file order, so
// re-folding the same stream always reproduces the same state.
type manifestRecord struct {
	Kind string       `json:"kind"`
	DBID string       `json:"db_id,omitempty"`
	ID   types.CFID   `json:"id,omitempty"`
	Name string       `json:"name,omitempty"`
	Seq  types.SeqNum `json:"seq,omitempty"`
}

// appendRecord makes rec durable before the caller mutates any in-memory
// state. A record is applied only if fully written and synced.
func appendRecord(f *os.File, rec manifestRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest record: %w", err)
	}
	data = append(data, '\n')

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync manifest: %w", err)
	}

	return nil
}

// foldManifest streams the manifest at path through fn in record order.
func foldManifest(path string, fn func(manifestRecord) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec manifestRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: manifest line %d: %v", dberrors.ErrCorruption, line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	return nil
}

func manifestPath(dir string) string {
	return filepath.Join(dir, ManifestName)
}
