package fxstore

import (
	"fmt"

	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/ost"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// migrate rewrites collection st so that its keys and values are encoded
// with the installed codec versions. Every stored key and value runs
// through an UpgradeContext with the store's hook; the tree is rebuilt from
// scratch and swapped in with the new codec refs in one derivation. On
// failure the returned error leaves the collection untouched.
func (s *Store) migrate(snap *catalog.Snapshot, name string, st catalog.CollectionState, kc, vc codec.Descriptor) (*catalog.Snapshot, error) {
	hook := s.opts.CodecUpgradeHook
	vctx := codec.NewUpgradeContext(vc, st.ValueCodec.Version, hook)
	kctx := vctx
	if kc != nil {
		kctx = codec.NewUpgradeContext(kc, st.KeyCodec.Version, hook)
	}

	next := st
	next.KeyCodec = upgradedRef(st.KeyCodec, kc, hook != nil)
	next.ValueCodec = upgradedRef(st.ValueCodec, vc, hook != nil)

	if hook != nil && st.RootPageID != 0 {
		var (
			root, count uint64
			err         error
		)
		if st.Kind.Ordered() {
			root, count, err = s.migrateOrdered(st, kctx, vctx)
		} else {
			root, count, err = s.migrateSequence(st, vctx)
		}
		if err != nil {
			log.Errorf("upgrade of collection %q failed: %v", name, err)
			return nil, err
		}
		next.RootPageID = root
		next.Count = count
	}

	log.Infof("upgraded collection %q (id %d): key %s -> %s, value %s -> %s, %d elements",
		name, st.CollectionID, st.KeyCodec, next.KeyCodec, st.ValueCodec, next.ValueCodec, next.Count)
	return snap.WithState(next), nil
}

func upgradedRef(stored catalog.CodecRef, d codec.Descriptor, hooked bool) catalog.CodecRef {
	if d == nil || stored.Version == d.Version() {
		return stored
	}
	ref := refOf(d)
	if hooked {
		ref.UpgradeHookID = fmt.Sprintf("v%d->v%d", stored.Version, d.Version())
	}
	return ref
}

func (s *Store) migrateOrdered(st catalog.CollectionState, kctx, vctx *codec.UpgradeContext) (uint64, uint64, error) {
	src := btree.Open(s.pages, s.keyOrder(st), st.RootPageID)
	cmp := vctx.Codec().CompareBytes
	if st.Kind == store.KindMap {
		cmp = kctx.Codec().CompareBytes
	}
	dst := btree.Open(s.pages, cmp, 0)

	var (
		count uint64
		ferr  error
	)
	err := src.Ascend(btree.All, func(k, v []byte) bool {
		if st.Kind == store.KindSet {
			k, ferr = vctx.UpgradeIfNeeded(k)
		} else if k, ferr = kctx.UpgradeIfNeeded(k); ferr == nil {
			v, ferr = vctx.UpgradeIfNeeded(v)
		}
		if ferr != nil {
			return false
		}
		var replaced bool
		if _, replaced, ferr = dst.Put(k, v); ferr != nil {
			return false
		}
		if !replaced {
			count++
		}
		return true
	})
	if err == nil {
		err = ferr
	}
	if err != nil {
		return 0, 0, err
	}
	return dst.Root(), count, nil
}

func (s *Store) migrateSequence(st catalog.CollectionState, vctx *codec.UpgradeContext) (uint64, uint64, error) {
	src := ost.Open(s.pages, st.RootPageID)
	dst := ost.Open(s.pages, 0)

	var (
		count uint64
		ferr  error
	)
	err := src.Ascend(0, func(_ uint64, v []byte) bool {
		if v, ferr = vctx.UpgradeIfNeeded(v); ferr != nil {
			return false
		}
		if ferr = dst.Insert(count, v); ferr != nil {
			return false
		}
		count++
		return true
	})
	if err == nil {
		err = ferr
	}
	if err != nil {
		return 0, 0, err
	}
	return dst.Root(), count, nil
}
