// Package btree implements a copy-on-write B+tree over encoded key bytes,
// persisted in the pages of a storage.Pager.
//
// A Tree value is a writer-local handle on one root page id. Mutations never
// modify a page that already exists: every node on the path from the
// changed leaf to the root is written to a fresh page, and the handle's root
// moves to the new root page. Older roots stay readable, so any number of
// readers can traverse a previously published root while a writer works on
// its own handle.
package btree

import (
	"slices"
	"sort"

	"github.com/ValentinKolb/fxstore/lib/storage"
)

// Compare orders two encoded keys.
type Compare func(a, b []byte) int

// Tree is a B+tree rooted at a single page id. The zero root is the empty
// tree.
//
// Thread-safety: read methods may be called concurrently; mutating methods
// require exclusive access to the handle.
type Tree struct {
	pager        storage.Pager
	cmp          Compare
	root         uint64
	maxInlineKey int
	maxInlineVal int
}

// Open returns a handle on the tree rooted at root (0 = empty).
func Open(pager storage.Pager, cmp Compare, root uint64) *Tree {
	ps := pager.PageSize()
	return &Tree{
		pager:        pager,
		cmp:          cmp,
		root:         root,
		maxInlineKey: ps / 4,
		maxInlineVal: ps / 8,
	}
}

// Root returns the current root page id.
func (t *Tree) Root() uint64 {
	return t.root
}

func (t *Tree) Empty() bool {
	return t.root == 0
}

// Clear makes the tree empty. No page is touched.
func (t *Tree) Clear() {
	t.root = 0
}

// search returns the position of key in leaf n and whether it is present.
func (t *Tree) search(n *node, key []byte) (int, bool) {
	i := sort.Search(len(n.entries), func(i int) bool {
		return t.cmp(n.entries[i].key, key) >= 0
	})
	return i, i < len(n.entries) && t.cmp(n.entries[i].key, key) == 0
}

// childIndex returns the child of internal node n that covers key.
func (t *Tree) childIndex(n *node, key []byte) int {
	return sort.Search(len(n.entries), func(i int) bool {
		return t.cmp(n.entries[i].key, key) > 0
	})
}

func (t *Tree) value(e *entry) ([]byte, error) {
	if e.valRef != 0 && e.val == nil {
		return t.pager.ReadRecord(e.valRef)
	}
	return e.val, nil
}

// newEntry moves oversized keys and values out of line.
func (t *Tree) newEntry(key, val []byte) (entry, error) {
	e := entry{key: key, val: val}
	if len(key) > t.maxInlineKey {
		ref, err := t.pager.WriteRecord(key)
		if err != nil {
			return entry{}, err
		}
		e.keyRef = ref
	}
	if len(val) > t.maxInlineVal {
		ref, err := t.pager.WriteRecord(val)
		if err != nil {
			return entry{}, err
		}
		e.valRef = ref
	}
	return e, nil
}

// --------------------------------------------------------------------------
// Point Operations
// --------------------------------------------------------------------------

// Get returns the value stored under key. The returned slice must not be
// modified.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	id := t.root
	for id != 0 {
		n, err := t.readNode(id)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			i, found := t.search(n, key)
			if !found {
				return nil, false, nil
			}
			v, err := t.value(&n.entries[i])
			return v, err == nil, err
		}
		id = n.children[t.childIndex(n, key)]
	}
	return nil, false, nil
}

// Put stores val under key and returns the previous value, if any.
func (t *Tree) Put(key, val []byte) ([]byte, bool, error) {
	e, err := t.newEntry(key, val)
	if err != nil {
		return nil, false, err
	}
	if t.root == 0 {
		return nil, false, t.writeRoot(&node{leaf: true, entries: []entry{e}})
	}

	n, prev, err := t.insert(t.root, e)
	if err != nil {
		return nil, false, err
	}
	var old []byte
	if prev != nil {
		if old, err = t.value(prev); err != nil {
			return nil, false, err
		}
	}
	if err := t.writeRoot(n); err != nil {
		return nil, false, err
	}
	return old, prev != nil, nil
}

// PutIfAbsent stores val only if key is not present. It returns the
// existing value and true if the key was present.
func (t *Tree) PutIfAbsent(key, val []byte) ([]byte, bool, error) {
	existing, ok, err := t.Get(key)
	if err != nil || ok {
		return existing, ok, err
	}
	_, _, err = t.Put(key, val)
	return nil, false, err
}

func (t *Tree) insert(id uint64, e entry) (*node, *entry, error) {
	n, err := t.readNode(id)
	if err != nil {
		return nil, nil, err
	}
	if n.leaf {
		i, found := t.search(n, e.key)
		if found {
			prev := n.entries[i]
			n.entries[i] = e
			return n, &prev, nil
		}
		n.entries = slices.Insert(n.entries, i, e)
		return n, nil, nil
	}

	ci := t.childIndex(n, e.key)
	child, prev, err := t.insert(n.children[ci], e)
	if err != nil {
		return nil, nil, err
	}
	ids, seps, err := t.writeNode(child)
	if err != nil {
		return nil, nil, err
	}
	splice(n, ci, ids, seps)
	return n, prev, nil
}

// splice replaces child ci of n with ids and the separators between them.
func splice(n *node, ci int, ids []uint64, seps []entry) {
	n.children[ci] = ids[0]
	if len(ids) == 1 {
		return
	}
	n.children = slices.Insert(n.children, ci+1, ids[1:]...)
	n.entries = slices.Insert(n.entries, ci, seps...)
}

// writeRoot persists n as the new root, growing the tree while the root
// splits.
func (t *Tree) writeRoot(n *node) error {
	for {
		ids, seps, err := t.writeNode(n)
		if err != nil {
			return err
		}
		if len(ids) == 1 {
			t.root = ids[0]
			return nil
		}
		n = &node{level: n.level + 1, entries: seps, children: ids}
	}
}

// Delete removes key and returns its value.
func (t *Tree) Delete(key []byte) ([]byte, bool, error) {
	if t.root == 0 {
		return nil, false, nil
	}
	n, removed, err := t.remove(t.root, key)
	if err != nil || removed == nil {
		return nil, false, err
	}
	old, err := t.value(removed)
	if err != nil {
		return nil, false, err
	}

	switch {
	case n == nil:
		t.root = 0
	case !n.leaf && len(n.entries) == 0:
		// the only child was already written; drop the root level
		root, err := t.collapse(n.children[0])
		if err != nil {
			return nil, false, err
		}
		t.root = root
	default:
		if err := t.writeRoot(n); err != nil {
			return nil, false, err
		}
	}
	return old, true, nil
}

// collapse descends through internal nodes without separators.
func (t *Tree) collapse(id uint64) (uint64, error) {
	for {
		n, err := t.readNode(id)
		if err != nil {
			return 0, err
		}
		if n.leaf || len(n.entries) > 0 {
			return id, nil
		}
		id = n.children[0]
	}
}

// remove deletes key below page id. It returns the modified (unwritten)
// node, or nil if the node became empty, and the removed entry (nil if the
// key was not found).
func (t *Tree) remove(id uint64, key []byte) (*node, *entry, error) {
	n, err := t.readNode(id)
	if err != nil {
		return nil, nil, err
	}
	if n.leaf {
		i, found := t.search(n, key)
		if !found {
			return nil, nil, nil
		}
		removed := n.entries[i]
		n.entries = slices.Delete(n.entries, i, i+1)
		if len(n.entries) == 0 {
			return nil, &removed, nil
		}
		return n, &removed, nil
	}

	ci := t.childIndex(n, key)
	child, removed, err := t.remove(n.children[ci], key)
	if err != nil || removed == nil {
		return nil, removed, err
	}
	if child == nil {
		dropChild(n, ci)
		if len(n.children) == 0 {
			return nil, removed, nil
		}
		return n, removed, nil
	}
	if err := t.rebalance(n, ci, child); err != nil {
		return nil, nil, err
	}
	return n, removed, nil
}

func dropChild(n *node, ci int) {
	n.children = slices.Delete(n.children, ci, ci+1)
	if len(n.entries) > 0 {
		si := ci - 1
		if ci == 0 {
			si = 0
		}
		n.entries = slices.Delete(n.entries, si, si+1)
	}
}

// rebalance writes the modified child ci of n. An underfull child is merged
// with a neighbour when both fit into one page.
func (t *Tree) rebalance(n *node, ci int, child *node) error {
	if nodeSize(child) < t.pager.PageSize()/4 && len(n.children) > 1 {
		li := ci - 1
		if ci == 0 {
			li = 0
		}
		var left, right *node
		var err error
		if li == ci {
			left = child
			right, err = t.readNode(n.children[ci+1])
		} else {
			left, err = t.readNode(n.children[li])
			right = child
		}
		if err != nil {
			return err
		}
		if merged := merge(left, n.entries[li], right); t.fits(merged) {
			ids, _, err := t.writeNode(merged)
			if err != nil {
				return err
			}
			n.children[li] = ids[0]
			n.children = slices.Delete(n.children, li+1, li+2)
			n.entries = slices.Delete(n.entries, li, li+1)
			return nil
		}
	}

	ids, seps, err := t.writeNode(child)
	if err != nil {
		return err
	}
	splice(n, ci, ids, seps)
	return nil
}
