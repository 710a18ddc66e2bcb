package cache

import (
	"fmt"

	"github.com/storyline-app/storyline/internal/types"
)

// Store is the normalized record store: one entry per work item id,
// holding the latest known full snapshot. It is the single shared
// mutable structure of the cache layer; the session serializes all
// access, so Store itself carries no lock. UI code never touches it
// directly.
type Store struct {
	entries map[string]*types.DetailEntry

	// onChange is notified after every successful Put/Patch/Restore so
	// dependent views can re-derive their summaries without a refetch.
	// Called synchronously with the session lock held.
	onChange func(id string)
}

// NewStore returns an empty record store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*types.DetailEntry)}
}

// Get returns the entry for id, or false if absent. Callers must treat
// the entry as read-only; mutations go through Patch.
func (st *Store) Get(id string) (*types.DetailEntry, bool) {
	e, ok := st.entries[id]
	return e, ok
}

// Put replaces the entry for id wholesale.
func (st *Store) Put(id string, entry *types.DetailEntry) {
	st.entries[id] = entry
	st.notify(id)
}

// PutSummary merges a freshly fetched item summary into the store.
// Detail-only fields already cached (description, comment pages) are
// preserved; the summary fields are taken from the server as
// authoritative.
func (st *Store) PutSummary(item *types.WorkItem) {
	if e, ok := st.entries[item.ID]; ok {
		e.Item = item.Clone()
	} else {
		st.entries[item.ID] = &types.DetailEntry{Item: item.Clone()}
	}
	st.notify(item.ID)
}

// Patch structurally merges the partial into the entry for id. Fields
// not carried by the patch are never touched, so a concurrently-set
// field outside the patch survives. Returns ErrNotFound if the id has
// no entry.
func (st *Store) Patch(id string, patch *types.ItemPatch) (*types.DetailEntry, error) {
	e, ok := st.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	patch.Apply(e.Item)
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	st.notify(id)
	return e, nil
}

// Restore puts back a snapshot taken before an optimistic patch,
// field-for-field. Used only by the coordinator's rollback path.
func (st *Store) Restore(id string, snapshot *types.DetailEntry) {
	st.entries[id] = snapshot
	st.notify(id)
}

// Delete evicts the entry for id. Only committed deletes evict; view
// invalidation never removes record store entries.
func (st *Store) Delete(id string) {
	delete(st.entries, id)
}

// Len returns the number of cached records.
func (st *Store) Len() int {
	return len(st.entries)
}

func (st *Store) notify(id string) {
	if st.onChange != nil {
		st.onChange(id)
	}
}
