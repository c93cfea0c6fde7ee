package fxstore

import (
	"math"

	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// List is a handle on an indexed list collection backed by an
// order-statistics tree. Positional operations are O(log n), Size is O(1).
type List[V any] struct {
	q  sequence
	vc codec.Codec[V]
}

func CreateList[V any](s *Store, name string) (*List[V], error) {
	return openList[V](s, name, ModeCreate)
}

func OpenList[V any](s *Store, name string) (*List[V], error) {
	return openList[V](s, name, ModeOpen)
}

func CreateOrOpenList[V any](s *Store, name string) (*List[V], error) {
	return openList[V](s, name, ModeCreateOrOpen)
}

func openList[V any](s *Store, name string, mode OpenMode) (*List[V], error) {
	vc, err := codec.Lookup[V](s.codecs)
	if err != nil {
		return nil, err
	}
	return ListOf(s, name, mode, vc)
}

// ListOf resolves list name with an explicit element codec.
func ListOf[V any](s *Store, name string, mode OpenMode, vc codec.Codec[V]) (*List[V], error) {
	if vc == nil {
		return nil, store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	id, err := s.resolve(name, store.KindList, nil, vc, mode)
	if err != nil {
		return nil, err
	}
	return cachedHandle(s, handleKey{id: id, val: refOf(vc)}, func() *List[V] {
		return &List[V]{q: sequence{s: s, id: id}, vc: vc}
	}), nil
}

func (l *List[V]) ID() uint64 {
	return l.q.id
}

// In returns a read-only view of the list as of tx.
func (l *List[V]) In(tx *ReadTx) (*List[V], error) {
	q, err := l.q.in(tx)
	if err != nil {
		return nil, err
	}
	return &List[V]{q: q, vc: l.vc}, nil
}

func (l *List[V]) Get(index uint64) (V, error) {
	b, err := l.q.get(index)
	if err != nil {
		var zero V
		return zero, err
	}
	return decode(l.vc, b, "element")
}

// Set replaces the element at index and returns the previous one.
func (l *List[V]) Set(index uint64, v V) (V, error) {
	var zero V
	b, err := encode(l.vc, v, "element")
	if err != nil {
		return zero, err
	}
	old, err := l.q.set(index, b)
	if err != nil {
		return zero, err
	}
	return decode(l.vc, old, "element")
}

// Add appends v.
func (l *List[V]) Add(v V) error {
	b, err := encode(l.vc, v, "element")
	if err != nil {
		return err
	}
	return l.q.insert(-1, b)
}

// Insert places v at index, shifting later elements. index may equal Size.
func (l *List[V]) Insert(index uint64, v V) error {
	if index > math.MaxInt64 {
		return indexError(index, 0)
	}
	b, err := encode(l.vc, v, "element")
	if err != nil {
		return err
	}
	return l.q.insert(int64(index), b)
}

// RemoveAt removes and returns the element at index.
func (l *List[V]) RemoveAt(index uint64) (V, error) {
	old, err := l.q.removeAt(index)
	if err != nil {
		var zero V
		return zero, err
	}
	return decode(l.vc, old, "element")
}

// IndexOf returns the position of the first element equal to v under the
// codec's EqualsBytes, or -1.
func (l *List[V]) IndexOf(v V) (int64, error) {
	return l.find(v, false)
}

// LastIndexOf returns the position of the last element equal to v, or -1.
func (l *List[V]) LastIndexOf(v V) (int64, error) {
	return l.find(v, true)
}

func (l *List[V]) find(v V, last bool) (int64, error) {
	b, err := encode(l.vc, v, "element")
	if err != nil {
		return -1, err
	}
	from, pos := uint64(0), int64(-1)
	if last {
		from = math.MaxUint64
	}
	err = l.q.iterate(last, from, func(i uint64, e []byte) bool {
		if l.vc.EqualsBytes(b, e) {
			pos = int64(i)
			return false
		}
		return true
	})
	return pos, err
}

func (l *List[V]) Size() (uint64, error) {
	return l.q.size()
}

// Clear removes all elements in O(1).
func (l *List[V]) Clear() error {
	return l.q.clear()
}

// Ascend calls fn for every element from position from on.
func (l *List[V]) Ascend(from uint64, fn func(i uint64, v V) bool) error {
	var derr error
	err := l.q.iterate(false, from, func(i uint64, b []byte) bool {
		v, err := decode(l.vc, b, "element")
		if err != nil {
			derr = err
			return false
		}
		return fn(i, v)
	})
	if err != nil {
		return err
	}
	return derr
}
