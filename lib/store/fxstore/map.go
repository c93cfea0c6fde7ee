package fxstore

import (
	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// Map is a handle on an ordered map collection. Keys are ordered by the key
// codec's CompareBytes. A handle re-reads the published snapshot on every
// call; views created by SubMap, HeadMap, TailMap and In share the
// collection and are restricted to a key range or a read transaction.
type Map[K, V any] struct {
	o  ordered
	kc codec.Codec[K]
	vc codec.Codec[V]
}

// CreateMap creates map name with the codecs registered for K and V.
func CreateMap[K, V any](s *Store, name string) (*Map[K, V], error) {
	return openMap[K, V](s, name, ModeCreate)
}

// OpenMap opens the existing map name.
func OpenMap[K, V any](s *Store, name string) (*Map[K, V], error) {
	return openMap[K, V](s, name, ModeOpen)
}

// CreateOrOpenMap opens map name, creating it if necessary. Concurrent
// callers all receive the same collection.
func CreateOrOpenMap[K, V any](s *Store, name string) (*Map[K, V], error) {
	return openMap[K, V](s, name, ModeCreateOrOpen)
}

func openMap[K, V any](s *Store, name string, mode OpenMode) (*Map[K, V], error) {
	kc, err := codec.Lookup[K](s.codecs)
	if err != nil {
		return nil, err
	}
	vc, err := codec.Lookup[V](s.codecs)
	if err != nil {
		return nil, err
	}
	return MapOf(s, name, mode, kc, vc)
}

// MapOf resolves map name with explicit codecs.
func MapOf[K, V any](s *Store, name string, mode OpenMode, kc codec.Codec[K], vc codec.Codec[V]) (*Map[K, V], error) {
	if kc == nil || vc == nil {
		return nil, store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	id, err := s.resolve(name, store.KindMap, kc, vc, mode)
	if err != nil {
		return nil, err
	}
	key := handleKey{id: id, key: refOf(kc), val: refOf(vc)}
	return cachedHandle(s, key, func() *Map[K, V] {
		return &Map[K, V]{o: ordered{s: s, id: id, cmp: kc.CompareBytes}, kc: kc, vc: vc}
	}), nil
}

// ID returns the collection id.
func (m *Map[K, V]) ID() uint64 {
	return m.o.id
}

func (m *Map[K, V]) with(o ordered) *Map[K, V] {
	return &Map[K, V]{o: o, kc: m.kc, vc: m.vc}
}

// In returns a read-only view of the map as of tx.
func (m *Map[K, V]) In(tx *ReadTx) (*Map[K, V], error) {
	o, err := m.o.in(tx)
	if err != nil {
		return nil, err
	}
	return m.with(o), nil
}

// --------------------------------------------------------------------------
// Point operations
// --------------------------------------------------------------------------

func (m *Map[K, V]) Get(k K) (V, bool, error) {
	var zero V
	kb, err := encode(m.kc, k, "key")
	if err != nil {
		return zero, false, err
	}
	vb, ok, err := m.o.get(kb)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := decode(m.vc, vb, "value")
	return v, err == nil, err
}

func (m *Map[K, V]) ContainsKey(k K) (bool, error) {
	_, ok, err := m.Get(k)
	return ok, err
}

// Put stores v under k and returns the previous value.
func (m *Map[K, V]) Put(k K, v V) (V, bool, error) {
	var zero V
	kb, err := encode(m.kc, k, "key")
	if err != nil {
		return zero, false, err
	}
	vb, err := encode(m.vc, v, "value")
	if err != nil {
		return zero, false, err
	}
	old, replaced, err := m.o.put(kb, vb)
	if err != nil || !replaced {
		return zero, false, err
	}
	prev, err := decode(m.vc, old, "value")
	return prev, err == nil, err
}

// PutIfAbsent stores v only if k is absent. It returns the existing value
// and true if k was present.
func (m *Map[K, V]) PutIfAbsent(k K, v V) (V, bool, error) {
	var zero V
	kb, err := encode(m.kc, k, "key")
	if err != nil {
		return zero, false, err
	}
	vb, err := encode(m.vc, v, "value")
	if err != nil {
		return zero, false, err
	}
	existing, present, err := m.o.putIfAbsent(kb, vb)
	if err != nil || !present {
		return zero, false, err
	}
	cur, err := decode(m.vc, existing, "value")
	return cur, err == nil, err
}

// Remove deletes k and returns the removed value.
func (m *Map[K, V]) Remove(k K) (V, bool, error) {
	var zero V
	kb, err := encode(m.kc, k, "key")
	if err != nil {
		return zero, false, err
	}
	old, found, err := m.o.remove(kb)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := decode(m.vc, old, "value")
	return v, err == nil, err
}

// --------------------------------------------------------------------------
// Navigation
// --------------------------------------------------------------------------

func (m *Map[K, V]) entry(kb, vb []byte, ok bool, err error) (K, V, bool, error) {
	var (
		zk K
		zv V
	)
	if err != nil || !ok {
		return zk, zv, false, err
	}
	k, err := decode(m.kc, kb, "key")
	if err != nil {
		return zk, zv, false, err
	}
	v, err := decode(m.vc, vb, "value")
	if err != nil {
		return zk, zv, false, err
	}
	return k, v, true, nil
}

func (m *Map[K, V]) FirstEntry() (K, V, bool, error) {
	return m.entry(m.o.end(false))
}

func (m *Map[K, V]) LastEntry() (K, V, bool, error) {
	return m.entry(m.o.end(true))
}

// PollFirstEntry atomically removes and returns the smallest entry.
func (m *Map[K, V]) PollFirstEntry() (K, V, bool, error) {
	return m.entry(m.o.poll(false))
}

// PollLastEntry atomically removes and returns the largest entry.
func (m *Map[K, V]) PollLastEntry() (K, V, bool, error) {
	return m.entry(m.o.poll(true))
}

func (m *Map[K, V]) navigate(n navigation, k K) (K, V, bool, error) {
	kb, err := encode(m.kc, k, "key")
	if err != nil {
		var (
			zk K
			zv V
		)
		return zk, zv, false, err
	}
	return m.entry(m.o.nav(n, kb))
}

// FloorEntry returns the greatest entry with a key <= k.
func (m *Map[K, V]) FloorEntry(k K) (K, V, bool, error) {
	return m.navigate(navFloor, k)
}

// CeilingEntry returns the least entry with a key >= k.
func (m *Map[K, V]) CeilingEntry(k K) (K, V, bool, error) {
	return m.navigate(navCeiling, k)
}

// LowerEntry returns the greatest entry with a key < k.
func (m *Map[K, V]) LowerEntry(k K) (K, V, bool, error) {
	return m.navigate(navLower, k)
}

// HigherEntry returns the least entry with a key > k.
func (m *Map[K, V]) HigherEntry(k K) (K, V, bool, error) {
	return m.navigate(navHigher, k)
}

// --------------------------------------------------------------------------
// Bulk operations
// --------------------------------------------------------------------------

// Size returns the number of entries. It is O(1) unless the map is a range
// view.
func (m *Map[K, V]) Size() (uint64, error) {
	return m.o.size()
}

func (m *Map[K, V]) IsEmpty() (bool, error) {
	_, _, ok, err := m.o.end(false)
	return !ok, err
}

// Clear removes all entries of the view.
func (m *Map[K, V]) Clear() error {
	return m.o.clear()
}

func (m *Map[K, V]) iterate(desc bool, fn func(k K, v V) bool) error {
	var derr error
	err := m.o.iterate(desc, func(kb, vb []byte) bool {
		k, err := decode(m.kc, kb, "key")
		if err != nil {
			derr = err
			return false
		}
		v, err := decode(m.vc, vb, "value")
		if err != nil {
			derr = err
			return false
		}
		return fn(k, v)
	})
	if err != nil {
		return err
	}
	return derr
}

// Ascend calls fn for every entry in ascending key order until fn returns
// false. The iteration reads one snapshot.
func (m *Map[K, V]) Ascend(fn func(k K, v V) bool) error {
	return m.iterate(false, fn)
}

// Descend is Ascend in descending key order.
func (m *Map[K, V]) Descend(fn func(k K, v V) bool) error {
	return m.iterate(true, fn)
}

// --------------------------------------------------------------------------
// Range views
// --------------------------------------------------------------------------

// SubMap returns the view of keys between lo and hi.
func (m *Map[K, V]) SubMap(lo K, loInclusive bool, hi K, hiInclusive bool) (*Map[K, V], error) {
	l, err := bound(m.kc, lo, loInclusive)
	if err != nil {
		return nil, err
	}
	h, err := bound(m.kc, hi, hiInclusive)
	if err != nil {
		return nil, err
	}
	return m.with(m.o.narrow(btree.Range{Lo: l, Hi: h})), nil
}

// HeadMap returns the view of keys below hi.
func (m *Map[K, V]) HeadMap(hi K, inclusive bool) (*Map[K, V], error) {
	h, err := bound(m.kc, hi, inclusive)
	if err != nil {
		return nil, err
	}
	return m.with(m.o.narrow(btree.Range{Hi: h})), nil
}

// TailMap returns the view of keys above lo.
func (m *Map[K, V]) TailMap(lo K, inclusive bool) (*Map[K, V], error) {
	l, err := bound(m.kc, lo, inclusive)
	if err != nil {
		return nil, err
	}
	return m.with(m.o.narrow(btree.Range{Lo: l})), nil
}
