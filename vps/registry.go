package vps

import (
	"log"
	"sync"
)

// Registry is the authoritative in-memory mapping from instance name
// to Record, with synchronous load/save against a Store. The raw map
// never leaves the registry boundary; readers get copies.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	store   Store
}

// NewRegistry creates an empty registry backed by the given store.
// A nil store disables durability (used by tests).
func NewRegistry(store Store) *Registry {
	return &Registry{
		records: make(map[string]Record),
		store:   store,
	}
}

// Load replaces the in-memory state with the last persisted snapshot.
// Called once at process start and by the admin restore operation.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.Load()
	if err != nil {
		return Wrap(KindPersistenceFailed, err, "loading registry")
	}
	if records == nil {
		records = make(map[string]Record)
	}
	r.mu.Lock()
	r.records = records
	r.mu.Unlock()
	log.Printf("Registry loaded: %d instances", len(records))
	return nil
}

// Save persists the full registry. The write is a whole-snapshot
// overwrite; registry size is small and writes are infrequent.
func (r *Registry) Save() error {
	if r.store == nil {
		return nil
	}
	snapshot := r.Snapshot()
	if err := r.store.Save(snapshot); err != nil {
		return Wrap(KindPersistenceFailed, err, "saving registry")
	}
	return nil
}

// Get returns the record for name, if present.
func (r *Registry) Get(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Insert adds a record. The caller is responsible for having checked
// uniqueness and quota under the manager lock.
func (r *Registry) Insert(rec Record) {
	r.mu.Lock()
	r.records[rec.Name] = rec
	r.mu.Unlock()
}

// Remove deletes the record for name, reporting whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[name]; !ok {
		return false
	}
	delete(r.records, name)
	return true
}

// Snapshot returns a copy of the full mapping.
func (r *Registry) Snapshot() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]Record, len(r.records))
	for name, rec := range r.records {
		snapshot[name] = rec
	}
	return snapshot
}

// OwnedBy returns copies of all records owned by ownerID.
func (r *Registry) OwnedBy(ownerID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []Record
	for _, rec := range r.records {
		if rec.OwnerID == ownerID {
			owned = append(owned, rec)
		}
	}
	return owned
}

// Len returns the number of managed instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
