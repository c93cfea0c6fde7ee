package fxstore

import (
	"math"

	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// Deque is a handle on a double-ended queue. Both ends map to index 0 and
// index size-1 of an order-statistics tree, so every operation is O(log n)
// and the poll operations are atomic.
type Deque[V any] struct {
	q  sequence
	vc codec.Codec[V]
}

func CreateDeque[V any](s *Store, name string) (*Deque[V], error) {
	return openDeque[V](s, name, ModeCreate)
}

func OpenDeque[V any](s *Store, name string) (*Deque[V], error) {
	return openDeque[V](s, name, ModeOpen)
}

func CreateOrOpenDeque[V any](s *Store, name string) (*Deque[V], error) {
	return openDeque[V](s, name, ModeCreateOrOpen)
}

func openDeque[V any](s *Store, name string, mode OpenMode) (*Deque[V], error) {
	vc, err := codec.Lookup[V](s.codecs)
	if err != nil {
		return nil, err
	}
	return DequeOf(s, name, mode, vc)
}

// DequeOf resolves deque name with an explicit element codec.
func DequeOf[V any](s *Store, name string, mode OpenMode, vc codec.Codec[V]) (*Deque[V], error) {
	if vc == nil {
		return nil, store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	id, err := s.resolve(name, store.KindDeque, nil, vc, mode)
	if err != nil {
		return nil, err
	}
	return cachedHandle(s, handleKey{id: id, val: refOf(vc)}, func() *Deque[V] {
		return &Deque[V]{q: sequence{s: s, id: id}, vc: vc}
	}), nil
}

func (d *Deque[V]) ID() uint64 {
	return d.q.id
}

// In returns a read-only view of the deque as of tx.
func (d *Deque[V]) In(tx *ReadTx) (*Deque[V], error) {
	q, err := d.q.in(tx)
	if err != nil {
		return nil, err
	}
	return &Deque[V]{q: q, vc: d.vc}, nil
}

func (d *Deque[V]) AddFirst(v V) error {
	b, err := encode(d.vc, v, "element")
	if err != nil {
		return err
	}
	return d.q.insert(0, b)
}

func (d *Deque[V]) AddLast(v V) error {
	b, err := encode(d.vc, v, "element")
	if err != nil {
		return err
	}
	return d.q.insert(-1, b)
}

func (d *Deque[V]) element(b []byte, ok bool, err error) (V, bool, error) {
	var zero V
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := decode(d.vc, b, "element")
	return v, err == nil, err
}

func (d *Deque[V]) PollFirst() (V, bool, error) {
	return d.element(d.q.poll(false))
}

func (d *Deque[V]) PollLast() (V, bool, error) {
	return d.element(d.q.poll(true))
}

func (d *Deque[V]) PeekFirst() (V, bool, error) {
	return d.element(d.q.end(false))
}

func (d *Deque[V]) PeekLast() (V, bool, error) {
	return d.element(d.q.end(true))
}

func (d *Deque[V]) Size() (uint64, error) {
	return d.q.size()
}

func (d *Deque[V]) Clear() error {
	return d.q.clear()
}

func (d *Deque[V]) iterate(desc bool, fn func(v V) bool) error {
	from := uint64(0)
	if desc {
		from = math.MaxUint64
	}
	var derr error
	err := d.q.iterate(desc, from, func(_ uint64, b []byte) bool {
		v, err := decode(d.vc, b, "element")
		if err != nil {
			derr = err
			return false
		}
		return fn(v)
	})
	if err != nil {
		return err
	}
	return derr
}

// Ascend visits the elements from the first to the last.
func (d *Deque[V]) Ascend(fn func(v V) bool) error {
	return d.iterate(false, fn)
}

// Descend visits the elements from the last to the first.
func (d *Deque[V]) Descend(fn func(v V) bool) error {
	return d.iterate(true, fn)
}
