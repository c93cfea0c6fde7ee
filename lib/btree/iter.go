package btree

import (
	"sort"
)

// Bound is one end of a key range.
type Bound struct {
	Key       []byte
	Inclusive bool
}

// Incl returns an inclusive bound on key.
func Incl(key []byte) *Bound {
	return &Bound{Key: key, Inclusive: true}
}

// Excl returns an exclusive bound on key.
func Excl(key []byte) *Bound {
	return &Bound{Key: key}
}

// Range restricts iteration to keys between Lo and Hi. A nil bound is
// unbounded.
type Range struct {
	Lo *Bound
	Hi *Bound
}

// All is the unbounded range.
var All = Range{}

// VisitFunc receives one entry. Returning false stops the iteration. The
// slices must not be modified or retained.
type VisitFunc func(key, val []byte) bool

func (t *Tree) aboveLo(r Range, key []byte) bool {
	if r.Lo == nil {
		return true
	}
	c := t.cmp(key, r.Lo.Key)
	return c > 0 || (c == 0 && r.Lo.Inclusive)
}

func (t *Tree) belowHi(r Range, key []byte) bool {
	if r.Hi == nil {
		return true
	}
	c := t.cmp(key, r.Hi.Key)
	return c < 0 || (c == 0 && r.Hi.Inclusive)
}

// Contains reports whether key lies in r.
func (t *Tree) Contains(r Range, key []byte) bool {
	return t.aboveLo(r, key) && t.belowHi(r, key)
}

// Intersect returns the range covered by both a and b.
func (t *Tree) Intersect(a, b Range) Range {
	out := a
	if b.Lo != nil {
		if out.Lo == nil {
			out.Lo = b.Lo
		} else if c := t.cmp(b.Lo.Key, out.Lo.Key); c > 0 || (c == 0 && !b.Lo.Inclusive) {
			out.Lo = b.Lo
		}
	}
	if b.Hi != nil {
		if out.Hi == nil {
			out.Hi = b.Hi
		} else if c := t.cmp(b.Hi.Key, out.Hi.Key); c < 0 || (c == 0 && !b.Hi.Inclusive) {
			out.Hi = b.Hi
		}
	}
	return out
}

// Ascend calls fn for every entry in r in ascending key order.
func (t *Tree) Ascend(r Range, fn VisitFunc) error {
	if t.root == 0 {
		return nil
	}
	_, err := t.ascend(t.root, r, fn)
	return err
}

func (t *Tree) ascend(id uint64, r Range, fn VisitFunc) (bool, error) {
	n, err := t.readNode(id)
	if err != nil {
		return false, err
	}
	if n.leaf {
		start := 0
		if r.Lo != nil {
			start = sort.Search(len(n.entries), func(i int) bool {
				return t.aboveLo(r, n.entries[i].key)
			})
		}
		for i := start; i < len(n.entries); i++ {
			e := &n.entries[i]
			if !t.belowHi(r, e.key) {
				return false, nil
			}
			v, err := t.value(e)
			if err != nil {
				return false, err
			}
			if !fn(e.key, v) {
				return false, nil
			}
		}
		return true, nil
	}

	first, last := 0, len(n.children)-1
	if r.Lo != nil {
		first = t.childIndex(n, r.Lo.Key)
	}
	if r.Hi != nil {
		last = t.childIndex(n, r.Hi.Key)
	}
	for ci := first; ci <= last; ci++ {
		cont, err := t.ascend(n.children[ci], r, fn)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// Descend calls fn for every entry in r in descending key order.
func (t *Tree) Descend(r Range, fn VisitFunc) error {
	if t.root == 0 {
		return nil
	}
	_, err := t.descend(t.root, r, fn)
	return err
}

func (t *Tree) descend(id uint64, r Range, fn VisitFunc) (bool, error) {
	n, err := t.readNode(id)
	if err != nil {
		return false, err
	}
	if n.leaf {
		end := len(n.entries)
		if r.Hi != nil {
			end = sort.Search(len(n.entries), func(i int) bool {
				return !t.belowHi(r, n.entries[i].key)
			})
		}
		for i := end - 1; i >= 0; i-- {
			e := &n.entries[i]
			if !t.aboveLo(r, e.key) {
				return false, nil
			}
			v, err := t.value(e)
			if err != nil {
				return false, err
			}
			if !fn(e.key, v) {
				return false, nil
			}
		}
		return true, nil
	}

	first, last := 0, len(n.children)-1
	if r.Lo != nil {
		first = t.childIndex(n, r.Lo.Key)
	}
	if r.Hi != nil {
		last = t.childIndex(n, r.Hi.Key)
	}
	for ci := last; ci >= first; ci-- {
		cont, err := t.descend(n.children[ci], r, fn)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// FirstIn returns the smallest entry in r.
func (t *Tree) FirstIn(r Range) (key, val []byte, ok bool, err error) {
	err = t.Ascend(r, func(k, v []byte) bool {
		key, val, ok = k, v, true
		return false
	})
	return key, val, ok, err
}

// LastIn returns the largest entry in r.
func (t *Tree) LastIn(r Range) (key, val []byte, ok bool, err error) {
	err = t.Descend(r, func(k, v []byte) bool {
		key, val, ok = k, v, true
		return false
	})
	return key, val, ok, err
}

// CountIn counts the entries in r by walking them.
func (t *Tree) CountIn(r Range) (uint64, error) {
	var n uint64
	err := t.Ascend(r, func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

func (t *Tree) First() ([]byte, []byte, bool, error) {
	return t.FirstIn(All)
}

func (t *Tree) Last() ([]byte, []byte, bool, error) {
	return t.LastIn(All)
}

// Floor returns the greatest entry with a key <= key.
func (t *Tree) Floor(key []byte) ([]byte, []byte, bool, error) {
	return t.LastIn(Range{Hi: Incl(key)})
}

// Ceiling returns the least entry with a key >= key.
func (t *Tree) Ceiling(key []byte) ([]byte, []byte, bool, error) {
	return t.FirstIn(Range{Lo: Incl(key)})
}

// Lower returns the greatest entry with a key < key.
func (t *Tree) Lower(key []byte) ([]byte, []byte, bool, error) {
	return t.LastIn(Range{Hi: Excl(key)})
}

// Higher returns the least entry with a key > key.
func (t *Tree) Higher(key []byte) ([]byte, []byte, bool, error) {
	return t.FirstIn(Range{Lo: Excl(key)})
}
