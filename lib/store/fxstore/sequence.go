package fxstore

import (
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/ost"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// sequence is the byte-level core shared by List and Deque: one
// order-statistics tree collection, optionally bound to a read transaction.
type sequence struct {
	s  *Store
	id uint64
	tx *ReadTx
}

func (q sequence) open() (*ost.Tree, catalog.CollectionState, error) {
	snap, err := q.s.readSnapshot(q.tx)
	if err != nil {
		return nil, catalog.CollectionState{}, err
	}
	st, ok := snap.State(q.id)
	if !ok {
		return nil, st, droppedError(q.id)
	}
	return ost.Open(q.s.pages, st.RootPageID), st, nil
}

func (q sequence) mutate(fn func(t *ost.Tree, st *catalog.CollectionState) (bool, error)) error {
	if q.tx != nil {
		return readOnlyError()
	}
	return q.s.mutateState(q.id, func(st *catalog.CollectionState) (bool, error) {
		t := ost.Open(q.s.pages, st.RootPageID)
		changed, err := fn(t, st)
		st.RootPageID = t.Root()
		return changed, err
	})
}

func (q sequence) in(tx *ReadTx) (sequence, error) {
	if tx == nil || tx.s != q.s {
		return q, store.NewError(store.RetCInvalidArgument, "read transaction belongs to a different store")
	}
	q.tx = tx
	return q, nil
}

func indexError(index, size uint64) error {
	return store.Errorf(store.RetCInvalidArgument, "index %d out of range for size %d", index, size)
}

func (q sequence) size() (uint64, error) {
	_, st, err := q.open()
	return st.Count, err
}

func (q sequence) get(index uint64) ([]byte, error) {
	t, st, err := q.open()
	if err != nil {
		return nil, err
	}
	if index >= st.Count {
		return nil, indexError(index, st.Count)
	}
	return t.Get(index)
}

// end returns the first (or last) element without removing it.
func (q sequence) end(last bool) ([]byte, bool, error) {
	t, st, err := q.open()
	if err != nil || st.Count == 0 {
		return nil, false, err
	}
	index := uint64(0)
	if last {
		index = st.Count - 1
	}
	b, err := t.Get(index)
	return b, err == nil, err
}

func (q sequence) set(index uint64, vb []byte) ([]byte, error) {
	var old []byte
	err := q.mutate(func(t *ost.Tree, st *catalog.CollectionState) (bool, error) {
		if index >= st.Count {
			return false, indexError(index, st.Count)
		}
		var err error
		old, err = t.Set(index, vb)
		return err == nil, err
	})
	return old, err
}

// insert places vb at index; a negative index appends.
func (q sequence) insert(index int64, vb []byte) error {
	return q.mutate(func(t *ost.Tree, st *catalog.CollectionState) (bool, error) {
		at := st.Count
		if index >= 0 {
			if uint64(index) > st.Count {
				return false, indexError(uint64(index), st.Count)
			}
			at = uint64(index)
		}
		if err := t.Insert(at, vb); err != nil {
			return false, err
		}
		st.Count++
		return true, nil
	})
}

func (q sequence) removeAt(index uint64) ([]byte, error) {
	var old []byte
	err := q.mutate(func(t *ost.Tree, st *catalog.CollectionState) (bool, error) {
		if index >= st.Count {
			return false, indexError(index, st.Count)
		}
		var err error
		if old, err = t.Remove(index); err != nil {
			return false, err
		}
		st.Count--
		return true, nil
	})
	return old, err
}

// poll removes and returns the first (or last) element in one critical
// section.
func (q sequence) poll(last bool) ([]byte, bool, error) {
	var (
		old   []byte
		found bool
	)
	err := q.mutate(func(t *ost.Tree, st *catalog.CollectionState) (bool, error) {
		if st.Count == 0 {
			return false, nil
		}
		index := uint64(0)
		if last {
			index = st.Count - 1
		}
		var err error
		if old, err = t.Remove(index); err != nil {
			return false, err
		}
		st.Count--
		found = true
		return true, nil
	})
	return old, found, err
}

// clear is O(1): the root is reset without touching any page.
func (q sequence) clear() error {
	return q.mutate(func(t *ost.Tree, st *catalog.CollectionState) (bool, error) {
		if st.Count == 0 && t.Empty() {
			return false, nil
		}
		t.Clear()
		st.Count = 0
		return true, nil
	})
}

func (q sequence) iterate(desc bool, from uint64, fn ost.VisitFunc) error {
	t, st, err := q.open()
	if err != nil || st.Count == 0 {
		return err
	}
	if desc {
		return t.Descend(from, fn)
	}
	return t.Ascend(from, fn)
}
