package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"cfdb/pkg/dberrors"
	"cfdb/pkg/types"

	"github.com/google/uuid"
)

// State of a registry entry. Ids of dropped entries are never reused; their
// names are free for new families once the drop record is durable.
type State uint8

const (
	Active State = iota
	Dropped
)

// Entry is the registry's record of one column family. The registry is the
// sole owner; handles reference entries by id only.
type Entry struct {
	ID    types.CFID
	Name  string
	State State

	// Mark is the highest sequence number durably reflected in the family's
	// checkpointed state. Recovery never re-applies a WAL record at or below
	// it and never skips one above it.
	Mark types.SeqNum
}

// Registry is the durable column-family catalog. Every mutation appends its
// manifest record and syncs it before in-memory state changes, which is what
// makes the catalog recoverable after a crash between the two steps.
type Registry struct {
	mu      sync.RWMutex
	file    *os.File
	dbID    string
	nextID  types.CFID
	entries map[types.CFID]*Entry
	byName  map[string]types.CFID
}

// Open loads (or initializes) the manifest in dir and folds it into the
// current registry view.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	path := manifestPath(dir)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	r := &Registry{
		file:    file,
		entries: make(map[types.CFID]*Entry),
		byName:  make(map[string]types.CFID),
	}

	if err := foldManifest(path, r.apply); err != nil {
		file.Close()
		return nil, err
	}

	if r.dbID == "" {
		// brand new manifest, stamp the database identity first
		r.dbID = uuid.NewString()
		if err := appendRecord(r.file, manifestRecord{Kind: kindPreamble, DBID: r.dbID}); err != nil {
			file.Close()
			return nil, err
		}
	}

	return r, nil
}

// apply folds one manifest record into memory. Used only during Open, where
// records arrive in append order.
func (r *Registry) apply(rec manifestRecord) error {
	switch rec.Kind {
	case kindPreamble:
		r.dbID = rec.DBID
	case kindCreate:
		r.entries[rec.ID] = &Entry{ID: rec.ID, Name: rec.Name, State: Active}
		r.byName[rec.Name] = rec.ID
		if rec.ID >= r.nextID {
			r.nextID = rec.ID + 1
		}
	case kindDrop:
		if e, ok := r.entries[rec.ID]; ok {
			e.State = Dropped
			if r.byName[e.Name] == rec.ID {
				delete(r.byName, e.Name)
			}
		}
	case kindMark:
		if e, ok := r.entries[rec.ID]; ok && rec.Seq > e.Mark {
			e.Mark = rec.Seq
		}
	default:
		return fmt.Errorf("%w: unknown manifest record kind %q", dberrors.ErrCorruption, rec.Kind)
	}

	return nil
}

// DBID is the identity stamped into the manifest preamble.
func (r *Registry) DBID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dbID
}

// Fresh reports whether no column family was ever created.
func (r *Registry) Fresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) == 0
}

// Create allocates the next id for name and durably records it. Fails with
// ErrAlreadyExists if an active entry already carries the name.
func (r *Registry) Create(name string) (types.CFID, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty column family name", dberrors.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return 0, fmt.Errorf("%w: column family %q", dberrors.ErrAlreadyExists, name)
	}

	id := r.nextID
	if err := appendRecord(r.file, manifestRecord{Kind: kindCreate, ID: id, Name: name}); err != nil {
		return 0, err
	}

	r.nextID = id + 1
	r.entries[id] = &Entry{ID: id, Name: name, State: Active}
	r.byName[name] = id

	return id, nil
}

// Drop durably retires the entry. Fails with ErrNotFound if id is not active.
func (r *Registry) Drop(id types.CFID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.State != Active {
		return fmt.Errorf("%w: column family id %d", dberrors.ErrNotFound, id)
	}

	if err := appendRecord(r.file, manifestRecord{Kind: kindDrop, ID: id}); err != nil {
		return err
	}

	e.State = Dropped
	if r.byName[e.Name] == id {
		delete(r.byName, e.Name)
	}

	return nil
}

// AdvanceMark durably raises the persisted sequence mark for id. Lower or
// equal marks are no-ops.
func (r *Registry) AdvanceMark(id types.CFID, seq types.SeqNum) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: column family id %d", dberrors.ErrNotFound, id)
	}
	if seq <= e.Mark {
		return nil
	}

	if err := appendRecord(r.file, manifestRecord{Kind: kindMark, ID: id, Seq: seq}); err != nil {
		return err
	}
	e.Mark = seq

	return nil
}

// Resolve maps an active name to its id.
func (r *Registry) Resolve(name string) (types.CFID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: column family %q", dberrors.ErrNotFound, name)
	}
	return id, nil
}

// Get returns a copy of the entry for id, active or dropped.
func (r *Registry) Get(id types.CFID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsActive reports whether id names a live column family.
func (r *Registry) IsActive(id types.CFID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return ok && e.State == Active
}

// List returns copies of all active entries ordered by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.byName))
	for _, e := range r.entries {
		if e.State == Active {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// ActiveNames returns the names of all active entries ordered by id.
func (r *Registry) ActiveNames() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Mark returns the persisted sequence mark for id, zero for unknown ids.
func (r *Registry) Mark(id types.CFID) types.SeqNum {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[id]; ok {
		return e.Mark
	}
	return 0
}

// MaxMark returns the highest mark across all entries, dropped included. The
// global sequence clock must start above it.
func (r *Registry) MaxMark() types.SeqNum {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max types.SeqNum
	for _, e := range r.entries {
		if e.Mark > max {
			max = e.Mark
		}
	}
	return max
}

// MinActiveMark returns the lowest mark among active entries. WAL segments
// wholly at or below it are safe to prune.
func (r *Registry) MinActiveMark() types.SeqNum {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var min types.SeqNum
	first := true
	for _, e := range r.entries {
		if e.State != Active {
			continue
		}
		if first || e.Mark < min {
			min = e.Mark
			first = false
		}
	}
	return min
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// ListColumnFamilies folds the manifest at dir without opening the database
// and returns active family names in id order.
func ListColumnFamilies(dir string) ([]string, error) {
	path := manifestPath(dir)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no manifest in %s", dberrors.ErrNotFound, dir)
		}
		return nil, err
	}

	r := &Registry{
		entries: make(map[types.CFID]*Entry),
		byName:  make(map[string]types.CFID),
	}
	if err := foldManifest(path, r.apply); err != nil {
		return nil, err
	}

	return r.ActiveNames(), nil
}
