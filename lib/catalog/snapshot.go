package catalog

import (
	"maps"
	"slices"
	"strings"
)

// Snapshot is an immutable view of the catalog, all collection states and
// their root pages. Every With*/Without* derivation returns a new Snapshot
// with SeqNo()+1 and leaves the receiver untouched. Maps a derivation does
// not change are shared between the two snapshots; they are never written
// after construction.
type Snapshot struct {
	seqNo            uint64
	allocTail        uint64
	catalog          map[string]CatalogEntry
	states           map[uint64]CollectionState
	rootPageIDs      map[uint64]uint64
	nextCollectionID uint64
}

// NewSnapshot builds a snapshot from decoded catalog entries and states.
// The root page map is taken from the states.
func NewSnapshot(seqNo, allocTail, nextCollectionID uint64, entries []CatalogEntry, states []CollectionState) *Snapshot {
	s := &Snapshot{
		seqNo:            seqNo,
		allocTail:        allocTail,
		catalog:          make(map[string]CatalogEntry, len(entries)),
		states:           make(map[uint64]CollectionState, len(states)),
		rootPageIDs:      make(map[uint64]uint64, len(states)),
		nextCollectionID: nextCollectionID,
	}
	for _, e := range entries {
		s.catalog[e.Name] = e
	}
	for _, st := range states {
		s.states[st.CollectionID] = st
		s.rootPageIDs[st.CollectionID] = st.RootPageID
	}
	return s
}

// Empty returns the snapshot of a fresh store.
func Empty(allocTail uint64) *Snapshot {
	return NewSnapshot(0, allocTail, 1, nil, nil)
}

// derive returns a shallow copy with the sequence number advanced.
func (s *Snapshot) derive() *Snapshot {
	c := *s
	c.seqNo++
	return &c
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (s *Snapshot) SeqNo() uint64 {
	return s.seqNo
}

func (s *Snapshot) AllocTail() uint64 {
	return s.allocTail
}

func (s *Snapshot) NextCollectionID() uint64 {
	return s.nextCollectionID
}

// Entry returns the catalog entry for name.
func (s *Snapshot) Entry(name string) (CatalogEntry, bool) {
	e, ok := s.catalog[name]
	return e, ok
}

// State returns the state of collection id with its current root page.
func (s *Snapshot) State(id uint64) (CollectionState, bool) {
	st, ok := s.states[id]
	if ok {
		st.RootPageID = s.rootPageIDs[id]
	}
	return st, ok
}

// Lookup resolves name to the collection's state.
func (s *Snapshot) Lookup(name string) (CollectionState, bool) {
	e, ok := s.catalog[name]
	if !ok {
		return CollectionState{}, false
	}
	return s.State(e.CollectionID)
}

func (s *Snapshot) RootPageID(id uint64) (uint64, bool) {
	r, ok := s.rootPageIDs[id]
	return r, ok
}

// Entries returns all catalog entries sorted by name.
func (s *Snapshot) Entries() []CatalogEntry {
	out := slices.Collect(maps.Values(s.catalog))
	slices.SortFunc(out, func(a, b CatalogEntry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// States returns all collection states sorted by id.
func (s *Snapshot) States() []CollectionState {
	out := make([]CollectionState, 0, len(s.states))
	for _, id := range slices.Sorted(maps.Keys(s.states)) {
		st, _ := s.State(id)
		out = append(out, st)
	}
	return out
}

func (s *Snapshot) CollectionCount() int {
	return len(s.catalog)
}

// --------------------------------------------------------------------------
// Derivations
// --------------------------------------------------------------------------

func (s *Snapshot) WithAllocTail(tail uint64) *Snapshot {
	c := s.derive()
	c.allocTail = tail
	return c
}

func (s *Snapshot) WithNextCollectionID(next uint64) *Snapshot {
	c := s.derive()
	c.nextCollectionID = next
	return c
}

// WithRootPageID moves the root of collection id.
func (s *Snapshot) WithRootPageID(id, root uint64) *Snapshot {
	c := s.derive()
	c.rootPageIDs = maps.Clone(s.rootPageIDs)
	c.rootPageIDs[id] = root
	if st, ok := s.states[id]; ok {
		st.RootPageID = root
		c.states = maps.Clone(s.states)
		c.states[id] = st
	}
	return c
}

// WithRootAndAllocTail moves the root of collection id and the allocation
// tail in one derivation.
func (s *Snapshot) WithRootAndAllocTail(id, root, tail uint64) *Snapshot {
	c := s.WithRootPageID(id, root)
	c.allocTail = tail
	return c
}

// WithState replaces the state (root page and count included) of its
// collection.
func (s *Snapshot) WithState(st CollectionState) *Snapshot {
	c := s.derive()
	c.states = maps.Clone(s.states)
	c.states[st.CollectionID] = st
	c.rootPageIDs = maps.Clone(s.rootPageIDs)
	c.rootPageIDs[st.CollectionID] = st.RootPageID
	return c
}

func (s *Snapshot) WithCatalogEntry(e CatalogEntry) *Snapshot {
	c := s.derive()
	c.catalog = maps.Clone(s.catalog)
	c.catalog[e.Name] = e
	return c
}

func (s *Snapshot) WithoutCatalogEntry(name string) *Snapshot {
	c := s.derive()
	c.catalog = maps.Clone(s.catalog)
	delete(c.catalog, name)
	return c
}

// WithNewCollection registers a collection under e.Name with state st and
// advances the next collection id past it.
func (s *Snapshot) WithNewCollection(e CatalogEntry, st CollectionState) *Snapshot {
	c := s.derive()
	c.catalog = maps.Clone(s.catalog)
	c.catalog[e.Name] = e
	c.states = maps.Clone(s.states)
	c.states[st.CollectionID] = st
	c.rootPageIDs = maps.Clone(s.rootPageIDs)
	c.rootPageIDs[st.CollectionID] = st.RootPageID
	if st.CollectionID >= c.nextCollectionID {
		c.nextCollectionID = st.CollectionID + 1
	}
	return c
}

// WithoutCollection removes collection id and every catalog entry that
// points to it.
func (s *Snapshot) WithoutCollection(id uint64) *Snapshot {
	c := s.derive()
	c.catalog = maps.Clone(s.catalog)
	maps.DeleteFunc(c.catalog, func(_ string, e CatalogEntry) bool { return e.CollectionID == id })
	c.states = maps.Clone(s.states)
	delete(c.states, id)
	c.rootPageIDs = maps.Clone(s.rootPageIDs)
	delete(c.rootPageIDs, id)
	return c
}

// Equal compares all fields, not only the sequence number.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.seqNo == o.seqNo &&
		s.allocTail == o.allocTail &&
		s.nextCollectionID == o.nextCollectionID &&
		maps.Equal(s.catalog, o.catalog) &&
		maps.Equal(s.states, o.states) &&
		maps.Equal(s.rootPageIDs, o.rootPageIDs)
}
