package fxstore

import (
	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// Set is a handle on an ordered set collection. Elements are the keys of a
// B+tree with empty values; the element codec is recorded as the value codec
// of the collection.
type Set[K any] struct {
	o ordered
	c codec.Codec[K]
}

func CreateSet[K any](s *Store, name string) (*Set[K], error) {
	return openSet[K](s, name, ModeCreate)
}

func OpenSet[K any](s *Store, name string) (*Set[K], error) {
	return openSet[K](s, name, ModeOpen)
}

func CreateOrOpenSet[K any](s *Store, name string) (*Set[K], error) {
	return openSet[K](s, name, ModeCreateOrOpen)
}

func openSet[K any](s *Store, name string, mode OpenMode) (*Set[K], error) {
	c, err := codec.Lookup[K](s.codecs)
	if err != nil {
		return nil, err
	}
	return SetOf(s, name, mode, c)
}

// SetOf resolves set name with an explicit element codec.
func SetOf[K any](s *Store, name string, mode OpenMode, c codec.Codec[K]) (*Set[K], error) {
	if c == nil {
		return nil, store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	id, err := s.resolve(name, store.KindSet, nil, c, mode)
	if err != nil {
		return nil, err
	}
	return cachedHandle(s, handleKey{id: id, val: refOf(c)}, func() *Set[K] {
		return &Set[K]{o: ordered{s: s, id: id, cmp: c.CompareBytes}, c: c}
	}), nil
}

func (st *Set[K]) ID() uint64 {
	return st.o.id
}

func (st *Set[K]) with(o ordered) *Set[K] {
	return &Set[K]{o: o, c: st.c}
}

// In returns a read-only view of the set as of tx.
func (st *Set[K]) In(tx *ReadTx) (*Set[K], error) {
	o, err := st.o.in(tx)
	if err != nil {
		return nil, err
	}
	return st.with(o), nil
}

// Add inserts k and reports whether it was absent.
func (st *Set[K]) Add(k K) (bool, error) {
	kb, err := encode(st.c, k, "element")
	if err != nil {
		return false, err
	}
	_, present, err := st.o.putIfAbsent(kb, nil)
	return !present && err == nil, err
}

// Remove deletes k and reports whether it was present.
func (st *Set[K]) Remove(k K) (bool, error) {
	kb, err := encode(st.c, k, "element")
	if err != nil {
		return false, err
	}
	_, found, err := st.o.remove(kb)
	return found, err
}

func (st *Set[K]) Contains(k K) (bool, error) {
	kb, err := encode(st.c, k, "element")
	if err != nil {
		return false, err
	}
	_, ok, err := st.o.get(kb)
	return ok, err
}

func (st *Set[K]) element(kb, _ []byte, ok bool, err error) (K, bool, error) {
	var zero K
	if err != nil || !ok {
		return zero, false, err
	}
	k, err := decode(st.c, kb, "element")
	return k, err == nil, err
}

func (st *Set[K]) First() (K, bool, error) {
	return st.element(st.o.end(false))
}

func (st *Set[K]) Last() (K, bool, error) {
	return st.element(st.o.end(true))
}

// PollFirst atomically removes and returns the smallest element.
func (st *Set[K]) PollFirst() (K, bool, error) {
	return st.element(st.o.poll(false))
}

// PollLast atomically removes and returns the largest element.
func (st *Set[K]) PollLast() (K, bool, error) {
	return st.element(st.o.poll(true))
}

func (st *Set[K]) navigate(n navigation, k K) (K, bool, error) {
	kb, err := encode(st.c, k, "element")
	if err != nil {
		var zero K
		return zero, false, err
	}
	return st.element(st.o.nav(n, kb))
}

func (st *Set[K]) Floor(k K) (K, bool, error) {
	return st.navigate(navFloor, k)
}

func (st *Set[K]) Ceiling(k K) (K, bool, error) {
	return st.navigate(navCeiling, k)
}

func (st *Set[K]) Lower(k K) (K, bool, error) {
	return st.navigate(navLower, k)
}

func (st *Set[K]) Higher(k K) (K, bool, error) {
	return st.navigate(navHigher, k)
}

// Size is O(1) unless the set is a range view.
func (st *Set[K]) Size() (uint64, error) {
	return st.o.size()
}

func (st *Set[K]) Clear() error {
	return st.o.clear()
}

func (st *Set[K]) iterate(desc bool, fn func(k K) bool) error {
	var derr error
	err := st.o.iterate(desc, func(kb, _ []byte) bool {
		k, err := decode(st.c, kb, "element")
		if err != nil {
			derr = err
			return false
		}
		return fn(k)
	})
	if err != nil {
		return err
	}
	return derr
}

func (st *Set[K]) Ascend(fn func(k K) bool) error {
	return st.iterate(false, fn)
}

func (st *Set[K]) Descend(fn func(k K) bool) error {
	return st.iterate(true, fn)
}

func (st *Set[K]) SubSet(lo K, loInclusive bool, hi K, hiInclusive bool) (*Set[K], error) {
	l, err := bound(st.c, lo, loInclusive)
	if err != nil {
		return nil, err
	}
	h, err := bound(st.c, hi, hiInclusive)
	if err != nil {
		return nil, err
	}
	return st.with(st.o.narrow(btree.Range{Lo: l, Hi: h})), nil
}

func (st *Set[K]) HeadSet(hi K, inclusive bool) (*Set[K], error) {
	h, err := bound(st.c, hi, inclusive)
	if err != nil {
		return nil, err
	}
	return st.with(st.o.narrow(btree.Range{Hi: h})), nil
}

func (st *Set[K]) TailSet(lo K, inclusive bool) (*Set[K], error) {
	l, err := bound(st.c, lo, inclusive)
	if err != nil {
		return nil, err
	}
	return st.with(st.o.narrow(btree.Range{Lo: l})), nil
}
