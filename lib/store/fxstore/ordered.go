package fxstore

import (
	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// ordered is the byte-level core shared by Map and Set: one B+tree
// collection, optionally narrowed to a key range and optionally bound to a
// read transaction. Every mutating method runs as one critical section on
// the writer path, so read-and-remove operations are atomic.
type ordered struct {
	s   *Store
	id  uint64
	cmp btree.Compare
	rng btree.Range
	tx  *ReadTx
}

func (o ordered) tree(root uint64) *btree.Tree {
	return btree.Open(o.s.pages, o.cmp, root)
}

// open returns the tree and state of the collection in the snapshot the
// handle reads from.
func (o ordered) open() (*btree.Tree, catalog.CollectionState, error) {
	snap, err := o.s.readSnapshot(o.tx)
	if err != nil {
		return nil, catalog.CollectionState{}, err
	}
	st, ok := snap.State(o.id)
	if !ok {
		return nil, st, droppedError(o.id)
	}
	return o.tree(st.RootPageID), st, nil
}

func (o ordered) mutate(fn func(t *btree.Tree, st *catalog.CollectionState) (bool, error)) error {
	if o.tx != nil {
		return readOnlyError()
	}
	return o.s.mutateState(o.id, func(st *catalog.CollectionState) (bool, error) {
		t := o.tree(st.RootPageID)
		changed, err := fn(t, st)
		st.RootPageID = t.Root()
		return changed, err
	})
}

func (o ordered) bounded() bool {
	return o.rng.Lo != nil || o.rng.Hi != nil
}

func (o ordered) inRange(kb []byte) bool {
	return o.tree(0).Contains(o.rng, kb)
}

func (o ordered) checkRange(kb []byte) error {
	if !o.inRange(kb) {
		return store.NewError(store.RetCInvalidArgument, "key outside the range of this view")
	}
	return nil
}

// narrow returns a view restricted to the intersection with r.
func (o ordered) narrow(r btree.Range) ordered {
	o.rng = o.tree(0).Intersect(o.rng, r)
	return o
}

func (o ordered) in(tx *ReadTx) (ordered, error) {
	if tx == nil || tx.s != o.s {
		return o, store.NewError(store.RetCInvalidArgument, "read transaction belongs to a different store")
	}
	o.tx = tx
	return o, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (o ordered) get(kb []byte) ([]byte, bool, error) {
	if !o.inRange(kb) {
		return nil, false, nil
	}
	t, _, err := o.open()
	if err != nil {
		return nil, false, err
	}
	return t.Get(kb)
}

// end returns the first (or last) entry of the view.
func (o ordered) end(last bool) ([]byte, []byte, bool, error) {
	t, _, err := o.open()
	if err != nil {
		return nil, nil, false, err
	}
	if last {
		return t.LastIn(o.rng)
	}
	return t.FirstIn(o.rng)
}

type navigation int

const (
	navFloor navigation = iota
	navCeiling
	navLower
	navHigher
)

func (o ordered) nav(n navigation, kb []byte) ([]byte, []byte, bool, error) {
	t, _, err := o.open()
	if err != nil {
		return nil, nil, false, err
	}
	switch n {
	case navFloor:
		return t.LastIn(t.Intersect(o.rng, btree.Range{Hi: btree.Incl(kb)}))
	case navCeiling:
		return t.FirstIn(t.Intersect(o.rng, btree.Range{Lo: btree.Incl(kb)}))
	case navLower:
		return t.LastIn(t.Intersect(o.rng, btree.Range{Hi: btree.Excl(kb)}))
	default:
		return t.FirstIn(t.Intersect(o.rng, btree.Range{Lo: btree.Excl(kb)}))
	}
}

// size is O(1) for an unbounded view.
func (o ordered) size() (uint64, error) {
	t, st, err := o.open()
	if err != nil {
		return 0, err
	}
	if !o.bounded() {
		return st.Count, nil
	}
	return t.CountIn(o.rng)
}

func (o ordered) iterate(desc bool, fn btree.VisitFunc) error {
	t, _, err := o.open()
	if err != nil {
		return err
	}
	if desc {
		return t.Descend(o.rng, fn)
	}
	return t.Ascend(o.rng, fn)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (o ordered) put(kb, vb []byte) ([]byte, bool, error) {
	if err := o.checkRange(kb); err != nil {
		return nil, false, err
	}
	var (
		old      []byte
		replaced bool
	)
	err := o.mutate(func(t *btree.Tree, st *catalog.CollectionState) (bool, error) {
		var err error
		if old, replaced, err = t.Put(kb, vb); err != nil {
			return false, err
		}
		if !replaced {
			st.Count++
		}
		return true, nil
	})
	return old, replaced, err
}

func (o ordered) putIfAbsent(kb, vb []byte) ([]byte, bool, error) {
	if err := o.checkRange(kb); err != nil {
		return nil, false, err
	}
	var (
		existing []byte
		present  bool
	)
	err := o.mutate(func(t *btree.Tree, st *catalog.CollectionState) (bool, error) {
		var err error
		if existing, present, err = t.PutIfAbsent(kb, vb); err != nil || present {
			return false, err
		}
		st.Count++
		return true, nil
	})
	return existing, present, err
}

func (o ordered) remove(kb []byte) ([]byte, bool, error) {
	if !o.inRange(kb) {
		return nil, false, nil
	}
	var (
		old   []byte
		found bool
	)
	err := o.mutate(func(t *btree.Tree, st *catalog.CollectionState) (bool, error) {
		var err error
		if old, found, err = t.Delete(kb); err != nil || !found {
			return false, err
		}
		st.Count--
		return true, nil
	})
	return old, found, err
}

// poll removes and returns the first (or last) entry of the view in one
// critical section.
func (o ordered) poll(last bool) ([]byte, []byte, bool, error) {
	var (
		key, val []byte
		found    bool
	)
	err := o.mutate(func(t *btree.Tree, st *catalog.CollectionState) (bool, error) {
		var err error
		if last {
			key, val, found, err = t.LastIn(o.rng)
		} else {
			key, val, found, err = t.FirstIn(o.rng)
		}
		if err != nil || !found {
			return false, err
		}
		if _, _, err = t.Delete(key); err != nil {
			return false, err
		}
		st.Count--
		return true, nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return key, val, found, nil
}

// clear empties the view. For the unbounded view this is O(1): the root is
// reset without touching any page.
func (o ordered) clear() error {
	return o.mutate(func(t *btree.Tree, st *catalog.CollectionState) (bool, error) {
		if !o.bounded() {
			if st.Count == 0 && t.Empty() {
				return false, nil
			}
			t.Clear()
			st.Count = 0
			return true, nil
		}

		var keys [][]byte
		if err := t.Ascend(o.rng, func(k, _ []byte) bool {
			keys = append(keys, k)
			return true
		}); err != nil {
			return false, err
		}
		for _, k := range keys {
			if _, found, err := t.Delete(k); err != nil {
				return false, err
			} else if found {
				st.Count--
			}
		}
		return len(keys) > 0, nil
	})
}

// --------------------------------------------------------------------------
// Helpers shared by the typed handles
// --------------------------------------------------------------------------

func readOnlyError() error {
	return store.NewError(store.RetCIllegalState, "view bound to a read transaction is read-only")
}

func encode[T any](c codec.Codec[T], v T, what string) ([]byte, error) {
	b, err := c.Encode(v)
	if err != nil {
		return nil, store.Wrap(store.RetCInvalidArgument, err, "encoding "+what+" with "+c.ID())
	}
	if len(b) > store.MaxKVSize {
		return nil, store.Errorf(store.RetCInvalidArgument, "encoded %s is %d bytes, limit is %d", what, len(b), store.MaxKVSize)
	}
	return b, nil
}

func decode[T any](c codec.Codec[T], b []byte, what string) (T, error) {
	v, err := c.Decode(b)
	if err != nil {
		var zero T
		return zero, store.Wrap(store.RetCCorruption, err, "decoding stored "+what+" with "+c.ID())
	}
	return v, nil
}

// bound encodes an optional range end.
func bound[T any](c codec.Codec[T], v T, inclusive bool) (*btree.Bound, error) {
	b, err := encode(c, v, "bound")
	if err != nil {
		return nil, err
	}
	return &btree.Bound{Key: b, Inclusive: inclusive}, nil
}
