// Package ost implements a copy-on-write order-statistics tree: a sequence
// of byte values addressed by position, persisted in the pages of a
// storage.Pager. Every internal node records the element count of each
// child, so positional access, insertion and removal are O(log n).
//
// Like the B+tree, a Tree value is a writer-local handle on one root page.
// Mutations write fresh pages along the changed path and never touch pages
// reachable from an older root.
package ost

import (
	"slices"

	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// Tree is an order-statistics tree rooted at a single page id (0 = empty).
type Tree struct {
	pager       storage.Pager
	root        uint64
	maxLeaf     int // 0 = bounded by page bytes only
	maxChildren int
	maxInline   int
}

// Open returns a handle on the tree rooted at root.
func Open(pager storage.Pager, root uint64) *Tree {
	ps := pager.PageSize()
	return &Tree{
		pager:       pager,
		root:        root,
		maxChildren: (ps - storage.PageHeaderSize) / childSize,
		maxInline:   ps / 8,
	}
}

// SetFanout limits the number of items per leaf and children per internal
// node below what a page could hold. Used to build deep trees from few
// elements.
func (t *Tree) SetFanout(maxLeaf, maxChildren int) {
	t.maxLeaf = max(maxLeaf, 2)
	t.maxChildren = min(max(maxChildren, 3), (t.pager.PageSize()-storage.PageHeaderSize)/childSize)
}

func (t *Tree) Root() uint64 {
	return t.root
}

func (t *Tree) Empty() bool {
	return t.root == 0
}

// Clear makes the tree empty without touching any page.
func (t *Tree) Clear() {
	t.root = 0
}

// Size returns the element count stored in the root page.
func (t *Tree) Size() (uint64, error) {
	if t.root == 0 {
		return 0, nil
	}
	page, err := t.pager.ReadPage(t.root)
	if err != nil {
		return 0, err
	}
	h, err := storage.ReadHeader(page)
	if err != nil {
		return 0, err
	}
	return h.Aux, nil
}

func (t *Tree) newItem(val []byte) (item, error) {
	if len(val) <= t.maxInline {
		return item{val: val}, nil
	}
	ref, err := t.pager.WriteRecord(val)
	if err != nil {
		return item{}, err
	}
	return item{ref: ref}, nil
}

func (t *Tree) value(it *item) ([]byte, error) {
	if it.ref != 0 {
		return t.pager.ReadRecord(it.ref)
	}
	return it.val, nil
}

func outOfRange(index, size uint64) error {
	return store.Errorf(store.RetCInvalidArgument, "index %d out of range [0, %d)", index, size)
}

// locate returns the child of n holding position index and the position
// relative to that child.
func locate(n *node, index uint64) (int, uint64, bool) {
	for ci, ch := range n.children {
		if index < ch.count {
			return ci, index, true
		}
		index -= ch.count
	}
	return 0, 0, false
}

// locateInsert is like locate but also accepts index == count of a child
// (append to that child).
func locateInsert(n *node, index uint64) (int, uint64, bool) {
	for ci, ch := range n.children {
		if index <= ch.count {
			return ci, index, true
		}
		index -= ch.count
	}
	return 0, 0, false
}

func splice(n *node, ci int, parts []child) {
	n.children = slices.Replace(n.children, ci, ci+1, parts...)
}

func (t *Tree) writeRoot(n *node) error {
	for {
		parts, err := t.writeNode(n)
		if err != nil {
			return err
		}
		if len(parts) == 1 {
			t.root = parts[0].id
			return nil
		}
		n = &node{level: n.level + 1, children: parts}
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Get returns the value at index. The slice must not be modified.
func (t *Tree) Get(index uint64) ([]byte, error) {
	id := t.root
	for id != 0 {
		n, err := t.readNode(id)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			if index >= uint64(len(n.items)) {
				return nil, store.Errorf(store.RetCCorruption, "page %d: index %d beyond leaf size %d", id, index, len(n.items))
			}
			return t.value(&n.items[index])
		}
		ci, local, ok := locate(n, index)
		if !ok {
			return nil, outOfRange(index, n.count())
		}
		id, index = n.children[ci].id, local
	}
	return nil, outOfRange(index, 0)
}

// Insert places val at index, shifting later elements up. index may equal
// the current size (append).
func (t *Tree) Insert(index uint64, val []byte) error {
	size, err := t.Size()
	if err != nil {
		return err
	}
	if index > size {
		return outOfRange(index, size+1)
	}
	it, err := t.newItem(val)
	if err != nil {
		return err
	}
	if t.root == 0 {
		return t.writeRoot(&node{leaf: true, items: []item{it}})
	}
	n, err := t.insert(t.root, index, it)
	if err != nil {
		return err
	}
	return t.writeRoot(n)
}

func (t *Tree) insert(id, index uint64, it item) (*node, error) {
	n, err := t.readNode(id)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		if index > uint64(len(n.items)) {
			return nil, store.Errorf(store.RetCCorruption, "page %d: insert position %d beyond leaf size %d", id, index, len(n.items))
		}
		n.items = slices.Insert(n.items, int(index), it)
		return n, nil
	}
	ci, local, ok := locateInsert(n, index)
	if !ok {
		return nil, store.Errorf(store.RetCCorruption, "page %d: child counts do not cover position %d", id, index)
	}
	c, err := t.insert(n.children[ci].id, local, it)
	if err != nil {
		return nil, err
	}
	parts, err := t.writeNode(c)
	if err != nil {
		return nil, err
	}
	splice(n, ci, parts)
	return n, nil
}

// Set replaces the value at index and returns the previous one.
func (t *Tree) Set(index uint64, val []byte) ([]byte, error) {
	size, err := t.Size()
	if err != nil {
		return nil, err
	}
	if index >= size {
		return nil, outOfRange(index, size)
	}
	it, err := t.newItem(val)
	if err != nil {
		return nil, err
	}
	n, prev, err := t.set(t.root, index, it)
	if err != nil {
		return nil, err
	}
	old, err := t.value(&prev)
	if err != nil {
		return nil, err
	}
	return old, t.writeRoot(n)
}

func (t *Tree) set(id, index uint64, it item) (*node, item, error) {
	n, err := t.readNode(id)
	if err != nil {
		return nil, item{}, err
	}
	if n.leaf {
		if index >= uint64(len(n.items)) {
			return nil, item{}, store.Errorf(store.RetCCorruption, "page %d: index %d beyond leaf size %d", id, index, len(n.items))
		}
		prev := n.items[index]
		n.items[index] = it
		return n, prev, nil
	}
	ci, local, ok := locate(n, index)
	if !ok {
		return nil, item{}, store.Errorf(store.RetCCorruption, "page %d: child counts do not cover position %d", id, index)
	}
	c, prev, err := t.set(n.children[ci].id, local, it)
	if err != nil {
		return nil, item{}, err
	}
	parts, err := t.writeNode(c)
	if err != nil {
		return nil, item{}, err
	}
	splice(n, ci, parts)
	return n, prev, nil
}

// Remove deletes the element at index and returns its value.
func (t *Tree) Remove(index uint64) ([]byte, error) {
	size, err := t.Size()
	if err != nil {
		return nil, err
	}
	if index >= size {
		return nil, outOfRange(index, size)
	}
	n, removed, err := t.remove(t.root, index)
	if err != nil {
		return nil, err
	}
	old, err := t.value(&removed)
	if err != nil {
		return nil, err
	}

	switch {
	case n == nil:
		t.root = 0
	case !n.leaf && len(n.children) == 1:
		root, err := t.collapse(n.children[0].id)
		if err != nil {
			return nil, err
		}
		t.root = root
	default:
		if err := t.writeRoot(n); err != nil {
			return nil, err
		}
	}
	return old, nil
}

func (t *Tree) collapse(id uint64) (uint64, error) {
	for {
		n, err := t.readNode(id)
		if err != nil {
			return 0, err
		}
		if n.leaf || len(n.children) > 1 {
			return id, nil
		}
		id = n.children[0].id
	}
}

func (t *Tree) remove(id, index uint64) (*node, item, error) {
	n, err := t.readNode(id)
	if err != nil {
		return nil, item{}, err
	}
	if n.leaf {
		if index >= uint64(len(n.items)) {
			return nil, item{}, store.Errorf(store.RetCCorruption, "page %d: index %d beyond leaf size %d", id, index, len(n.items))
		}
		removed := n.items[index]
		n.items = slices.Delete(n.items, int(index), int(index)+1)
		if len(n.items) == 0 {
			return nil, removed, nil
		}
		return n, removed, nil
	}

	ci, local, ok := locate(n, index)
	if !ok {
		return nil, item{}, store.Errorf(store.RetCCorruption, "page %d: child counts do not cover position %d", id, index)
	}
	c, removed, err := t.remove(n.children[ci].id, local)
	if err != nil {
		return nil, item{}, err
	}
	if c == nil {
		n.children = slices.Delete(n.children, ci, ci+1)
		if len(n.children) == 0 {
			return nil, removed, nil
		}
		return n, removed, nil
	}
	if err := t.rebalance(n, ci, c); err != nil {
		return nil, item{}, err
	}
	return n, removed, nil
}

func (t *Tree) underfull(n *node) bool {
	if n.leaf {
		return nodeSize(n) < t.pager.PageSize()/4 || (t.maxLeaf > 0 && len(n.items) < t.maxLeaf/2)
	}
	return len(n.children) < t.maxChildren/2
}

// rebalance writes the modified child ci of n, merging an underfull child
// with a neighbour when the result fits into one page.
func (t *Tree) rebalance(n *node, ci int, c *node) error {
	if t.underfull(c) && len(n.children) > 1 {
		li := ci - 1
		if ci == 0 {
			li = 0
		}
		var left, right *node
		var err error
		if li == ci {
			left = c
			right, err = t.readNode(n.children[ci+1].id)
		} else {
			left, err = t.readNode(n.children[li].id)
			right = c
		}
		if err != nil {
			return err
		}
		if merged := merge(left, right); t.fits(merged) {
			parts, err := t.writeNode(merged)
			if err != nil {
				return err
			}
			n.children = slices.Replace(n.children, li, li+2, parts...)
			return nil
		}
	}
	parts, err := t.writeNode(c)
	if err != nil {
		return err
	}
	splice(n, ci, parts)
	return nil
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// VisitFunc receives one element and its position. Returning false stops
// the iteration.
type VisitFunc func(index uint64, val []byte) bool

// Ascend visits the elements from position from to the end.
func (t *Tree) Ascend(from uint64, fn VisitFunc) error {
	if t.root == 0 {
		return nil
	}
	_, err := t.ascend(t.root, from, 0, fn)
	return err
}

func (t *Tree) ascend(id, from, base uint64, fn VisitFunc) (bool, error) {
	n, err := t.readNode(id)
	if err != nil {
		return false, err
	}
	if n.leaf {
		for i := from; i < uint64(len(n.items)); i++ {
			v, err := t.value(&n.items[i])
			if err != nil {
				return false, err
			}
			if !fn(base+i, v) {
				return false, nil
			}
		}
		return true, nil
	}
	for _, ch := range n.children {
		if from >= ch.count {
			from -= ch.count
			base += ch.count
			continue
		}
		cont, err := t.ascend(ch.id, from, base, fn)
		if err != nil || !cont {
			return cont, err
		}
		from = 0
		base += ch.count
	}
	return true, nil
}

// Descend visits the elements from position from down to 0.
func (t *Tree) Descend(from uint64, fn VisitFunc) error {
	size, err := t.Size()
	if err != nil || size == 0 {
		return err
	}
	if from >= size {
		from = size - 1
	}
	_, err = t.descend(t.root, from, 0, fn)
	return err
}

func (t *Tree) descend(id, from, base uint64, fn VisitFunc) (bool, error) {
	n, err := t.readNode(id)
	if err != nil {
		return false, err
	}
	if n.leaf {
		if from >= uint64(len(n.items)) {
			return false, store.Errorf(store.RetCCorruption, "page %d: index %d beyond leaf size %d", id, from, len(n.items))
		}
		for i := int(from); i >= 0; i-- {
			v, err := t.value(&n.items[i])
			if err != nil {
				return false, err
			}
			if !fn(base+uint64(i), v) {
				return false, nil
			}
		}
		return true, nil
	}

	ci, local, ok := locate(n, from)
	if !ok {
		return false, store.Errorf(store.RetCCorruption, "page %d: child counts do not cover position %d", id, from)
	}
	childBase := base + from - local
	for ; ci >= 0; ci-- {
		cont, err := t.descend(n.children[ci].id, local, childBase, fn)
		if err != nil || !cont {
			return cont, err
		}
		if ci > 0 {
			local = n.children[ci-1].count - 1
			childBase -= n.children[ci-1].count
		}
	}
	return true, nil
}
