package fxstore

import (
	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/ost"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// ScanRaw visits the encoded contents of collection name in collection
// order without decoding them. For maps key and value are set, for sets only
// key; for lists and deques key is nil and value holds the element.
func (s *Store) ScanRaw(name string, fn func(key, value []byte) bool) error {
	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	st, ok := snap.Lookup(name)
	if !ok {
		return store.Errorf(store.RetCNotFound, "collection %q does not exist", name)
	}

	if st.Kind.Ordered() {
		set := st.Kind == store.KindSet
		return btree.Open(s.pages, s.keyOrder(st), st.RootPageID).Ascend(btree.All, func(k, v []byte) bool {
			if set {
				v = nil
			}
			return fn(k, v)
		})
	}
	return ost.Open(s.pages, st.RootPageID).Ascend(0, func(_ uint64, v []byte) bool {
		return fn(nil, v)
	})
}
