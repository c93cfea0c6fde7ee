package fxstore

import (
	"bytes"

	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// OpenMode selects how a collection constructor treats an existing name.
type OpenMode int

const (
	ModeCreate       OpenMode = iota // fail with RetCAlreadyExists if the name is taken
	ModeOpen                         // fail with RetCNotFound if the name is absent
	ModeCreateOrOpen                 // create unless present, never fails on a race
)

func (m OpenMode) String() string {
	switch m {
	case ModeCreate:
		return "CREATE"
	case ModeOpen:
		return "OPEN"
	default:
		return "CREATE_OR_OPEN"
	}
}

func refOf(d codec.Descriptor) catalog.CodecRef {
	if d == nil {
		return catalog.CodecRef{}
	}
	return catalog.CodecRef{ID: d.ID(), Version: d.Version()}
}

// resolve creates or opens collection name with the given kind and codecs
// and returns its id. kc is nil for sets, lists and deques; for sets vc is
// the element codec.
func (s *Store) resolve(name string, kind store.Kind, kc, vc codec.Descriptor, mode OpenMode) (uint64, error) {
	if err := store.ValidateName(name); err != nil {
		return 0, err
	}
	if vc == nil || (kind == store.KindMap && kc == nil) {
		return 0, store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	if kc != nil {
		s.bindComparator(kc)
	}
	s.bindComparator(vc)

	var id uint64
	err := s.update(func(snap *catalog.Snapshot) (*catalog.Snapshot, error) {
		if st, ok := snap.Lookup(name); ok {
			if mode == ModeCreate {
				return nil, store.Errorf(store.RetCAlreadyExists, "collection %q already exists", name)
			}
			id = st.CollectionID
			return s.checkCollection(snap, name, st, kind, kc, vc)
		}
		if mode == ModeOpen {
			return nil, store.Errorf(store.RetCNotFound, "collection %q does not exist", name)
		}

		id = snap.NextCollectionID()
		st := catalog.CollectionState{
			CollectionID: id,
			Kind:         kind,
			KeyCodec:     refOf(kc),
			ValueCodec:   refOf(vc),
		}
		log.Debugf("creating %s %q (id %d, codecs %s/%s)", kind, name, id, st.KeyCodec, st.ValueCodec)
		return snap.WithNewCollection(catalog.CatalogEntry{Name: name, CollectionID: id}, st), nil
	})
	return id, err
}

// checkCollection validates kind and codecs of an existing collection and
// migrates it if an upgrade is allowed and needed.
func (s *Store) checkCollection(snap *catalog.Snapshot, name string, st catalog.CollectionState, kind store.Kind, kc, vc codec.Descriptor) (*catalog.Snapshot, error) {
	if st.Kind != kind {
		return nil, store.Errorf(store.RetCTypeMismatch, "collection %q is a %s, not a %s", name, st.Kind, kind)
	}
	upgrade := false
	check := func(what string, stored catalog.CodecRef, d codec.Descriptor) error {
		if d == nil {
			return nil
		}
		switch {
		case stored.ID != d.ID():
			return store.Errorf(store.RetCTypeMismatch, "collection %q: %s codec is %s, not %s", name, what, stored.ID, d.ID())
		case stored.Version > d.Version():
			return store.Errorf(store.RetCVersionMismatch, "collection %q: %s codec %s was written by v%d, installed is v%d", name, what, d.ID(), stored.Version, d.Version())
		case stored.Version < d.Version():
			if !s.opts.AllowCodecUpgrade {
				return store.Errorf(store.RetCVersionMismatch, "collection %q: %s codec %s needs an upgrade from v%d to v%d, codec upgrades are disabled", name, what, d.ID(), stored.Version, d.Version())
			}
			upgrade = true
		}
		return nil
	}
	if err := check("key", st.KeyCodec, kc); err != nil {
		return nil, err
	}
	if err := check("value", st.ValueCodec, vc); err != nil {
		return nil, err
	}
	if !upgrade {
		return snap, nil
	}
	return s.migrate(snap, name, st, kc, vc)
}

// --------------------------------------------------------------------------
// Comparators
// --------------------------------------------------------------------------

// bindComparator remembers the ordering of a codec id so that maintenance
// operations (verify, compaction) can order keys of collections that have
// not been opened through a typed handle.
func (s *Store) bindComparator(d codec.Descriptor) {
	s.comparators.Store(d.ID(), d.CompareBytes)
}

// compareFor returns the key ordering of a codec id. Unknown ids fall back
// to plain byte order.
func (s *Store) compareFor(codecID string) btree.Compare {
	if cmp, ok := s.comparators.Load(codecID); ok {
		return cmp
	}
	if d, ok := s.codecs.ByID(codecID); ok {
		return d.CompareBytes
	}
	return bytes.Compare
}

// keyOrder returns the ordering of the tree of an ordered collection.
func (s *Store) keyOrder(st catalog.CollectionState) btree.Compare {
	if st.Kind == store.KindSet {
		return s.compareFor(st.ValueCodec.ID)
	}
	return s.compareFor(st.KeyCodec.ID)
}

// --------------------------------------------------------------------------
// Handle table
// --------------------------------------------------------------------------

type handleKey struct {
	id       uint64
	key, val catalog.CodecRef
}

// cachedHandle returns the handle already opened for key if it has type H,
// otherwise it stores and returns mk().
func cachedHandle[H any](s *Store, key handleKey, mk func() H) H {
	v, _ := s.handles.LoadOrCompute(key, func() any { return mk() })
	if h, ok := v.(H); ok {
		return h
	}
	return mk()
}

func (s *Store) forgetHandles(id uint64) {
	s.handles.Range(func(k handleKey, _ any) bool {
		if k.id == id {
			s.handles.Delete(k)
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Exists reports whether a collection named name is live.
func (s *Store) Exists(name string) (bool, error) {
	snap, err := s.snapshot()
	if err != nil {
		return false, err
	}
	_, ok := snap.Entry(name)
	return ok, nil
}

// Drop removes collection name. Dropping an absent name returns false.
// Handles of the dropped collection fail with RetCNotFound afterwards.
func (s *Store) Drop(name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, err
	}
	var id uint64
	err := s.update(func(snap *catalog.Snapshot) (*catalog.Snapshot, error) {
		e, ok := snap.Entry(name)
		if !ok {
			return snap, nil
		}
		id = e.CollectionID
		log.Debugf("dropping %q (id %d)", name, id)
		return snap.WithoutCollection(id), nil
	})
	if err != nil || id == 0 {
		return false, err
	}
	s.forgetHandles(id)
	return true, nil
}

// Rename moves collection oldName to newName. The collection id and all
// handles stay valid.
func (s *Store) Rename(oldName, newName string) error {
	if err := store.ValidateName(oldName); err != nil {
		return err
	}
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	return s.update(func(snap *catalog.Snapshot) (*catalog.Snapshot, error) {
		e, ok := snap.Entry(oldName)
		if !ok {
			return nil, store.Errorf(store.RetCNotFound, "collection %q does not exist", oldName)
		}
		if oldName == newName {
			return snap, nil
		}
		if _, taken := snap.Entry(newName); taken {
			return nil, store.Errorf(store.RetCAlreadyExists, "collection %q already exists", newName)
		}
		return snap.WithoutCatalogEntry(oldName).WithCatalogEntry(catalog.CatalogEntry{Name: newName, CollectionID: e.CollectionID}), nil
	})
}

// List describes all live collections ordered by name.
func (s *Store) List() ([]store.CollectionInfo, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return listSnapshot(snap), nil
}

func listSnapshot(snap *catalog.Snapshot) []store.CollectionInfo {
	entries := snap.Entries()
	infos := make([]store.CollectionInfo, 0, len(entries))
	for _, e := range entries {
		st, ok := snap.State(e.CollectionID)
		if !ok {
			continue
		}
		infos = append(infos, store.CollectionInfo{
			Name:         e.Name,
			ID:           st.CollectionID,
			Kind:         st.Kind,
			KeyCodec:     st.KeyCodec.ID,
			ValueCodec:   st.ValueCodec.ID,
			KeyVersion:   st.KeyCodec.Version,
			ValueVersion: st.ValueCodec.Version,
			Count:        st.Count,
		})
	}
	return infos
}
