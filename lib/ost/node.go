package ost

import (
	"encoding/binary"

	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// Node layout after the page header (aux = subtree count):
//
//	leaf:     { flags u8, len u32, val|ref }*
//	internal: { child u64, count u64 }*
const (
	flagRef byte = 1 << 0

	itemOverhead = 1 + 4
	childSize    = 16
	refSize      = 8
)

type item struct {
	val []byte
	ref uint64 // record offset, 0 if inline
}

func (it *item) size() int {
	if it.ref != 0 {
		return itemOverhead + refSize
	}
	return itemOverhead + len(it.val)
}

type child struct {
	id    uint64
	count uint64
}

type node struct {
	leaf     bool
	level    uint16
	items    []item  // leaf only
	children []child // internal only
}

func (n *node) count() uint64 {
	if n.leaf {
		return uint64(len(n.items))
	}
	var c uint64
	for _, ch := range n.children {
		c += ch.count
	}
	return c
}

func (n *node) width() int {
	if n.leaf {
		return len(n.items)
	}
	return len(n.children)
}

func nodeSize(n *node) int {
	s := storage.PageHeaderSize
	if !n.leaf {
		return s + childSize*len(n.children)
	}
	for i := range n.items {
		s += n.items[i].size()
	}
	return s
}

func (t *Tree) fits(n *node) bool {
	if nodeSize(n) > t.pager.PageSize() {
		return false
	}
	if n.leaf {
		return t.maxLeaf == 0 || len(n.items) <= t.maxLeaf
	}
	return len(n.children) <= t.maxChildren
}

func (t *Tree) encode(n *node, id uint64) []byte {
	typ := storage.PageOSTLeaf
	if !n.leaf {
		typ = storage.PageOSTInternal
	}
	page := storage.NewPage(t.pager.PageSize(), storage.PageHeader{
		Type:  typ,
		Level: n.level,
		Count: uint16(n.width()),
		ID:    id,
		Aux:   n.count(),
	})
	buf := page[storage.PageHeaderSize:]
	off := 0
	if !n.leaf {
		for _, ch := range n.children {
			binary.LittleEndian.PutUint64(buf[off:], ch.id)
			binary.LittleEndian.PutUint64(buf[off+8:], ch.count)
			off += childSize
		}
		return page
	}
	for i := range n.items {
		it := &n.items[i]
		if it.ref != 0 {
			buf[off] = flagRef
			binary.LittleEndian.PutUint32(buf[off+1:], 0)
			binary.LittleEndian.PutUint64(buf[off+itemOverhead:], it.ref)
			off += itemOverhead + refSize
			continue
		}
		buf[off] = 0
		binary.LittleEndian.PutUint32(buf[off+1:], uint32(len(it.val)))
		off += itemOverhead
		off += copy(buf[off:], it.val)
	}
	return page
}

// decode parses a page. The returned node also carries the stored subtree
// count for verification.
func decode(page []byte, id uint64) (*node, uint64, error) {
	h, err := storage.ReadHeader(page)
	if err != nil {
		return nil, 0, err
	}
	n := &node{level: h.Level}
	switch h.Type {
	case storage.PageOSTLeaf:
		n.leaf = true
		if h.Level != 0 {
			return nil, 0, store.Errorf(store.RetCCorruption, "page %d: leaf at level %d", id, h.Level)
		}
	case storage.PageOSTInternal:
		if h.Level == 0 {
			return nil, 0, store.Errorf(store.RetCCorruption, "page %d: internal node at level 0", id)
		}
	default:
		return nil, 0, store.Errorf(store.RetCCorruption, "page %d: expected ost page, found %s", id, h.Type)
	}

	buf := page[storage.PageHeaderSize:]
	off := 0
	if !n.leaf {
		if int(h.Count)*childSize > len(buf) {
			return nil, 0, store.Errorf(store.RetCCorruption, "page %d: %d children exceed page bounds", id, h.Count)
		}
		n.children = make([]child, h.Count)
		for i := range n.children {
			n.children[i] = child{
				id:    binary.LittleEndian.Uint64(buf[off:]),
				count: binary.LittleEndian.Uint64(buf[off+8:]),
			}
			off += childSize
		}
		return n, h.Aux, nil
	}

	n.items = make([]item, h.Count)
	for i := range n.items {
		if off+itemOverhead > len(buf) {
			return nil, 0, store.Errorf(store.RetCCorruption, "page %d: items exceed page bounds", id)
		}
		flags := buf[off]
		l := int(binary.LittleEndian.Uint32(buf[off+1:]))
		off += itemOverhead
		if flags&flagRef != 0 {
			l = refSize
		}
		if off+l > len(buf) {
			return nil, 0, store.Errorf(store.RetCCorruption, "page %d: items exceed page bounds", id)
		}
		if flags&flagRef != 0 {
			n.items[i].ref = binary.LittleEndian.Uint64(buf[off:])
		} else {
			n.items[i].val = buf[off : off+l]
		}
		off += l
	}
	return n, h.Aux, nil
}

func (t *Tree) readNode(id uint64) (*node, error) {
	page, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	n, _, err := decode(page, id)
	return n, err
}

// writeNode persists n, splitting it as needed, and returns the resulting
// children in order.
func (t *Tree) writeNode(n *node) ([]child, error) {
	if t.fits(n) {
		id, err := t.pager.AllocPage()
		if err != nil {
			return nil, err
		}
		if err := t.pager.WritePage(id, t.encode(n, id)); err != nil {
			return nil, err
		}
		return []child{{id: id, count: n.count()}}, nil
	}
	if n.width() < 2 {
		return nil, store.NewError(store.RetCInternal, "single ost item exceeds page size")
	}

	m := splitPoint(n)
	var left, right *node
	if n.leaf {
		left = &node{leaf: true, items: n.items[:m:m]}
		right = &node{leaf: true, items: n.items[m:]}
	} else {
		left = &node{level: n.level, children: n.children[:m:m]}
		right = &node{level: n.level, children: n.children[m:]}
	}
	l, err := t.writeNode(left)
	if err != nil {
		return nil, err
	}
	r, err := t.writeNode(right)
	if err != nil {
		return nil, err
	}
	return append(l, r...), nil
}

// splitPoint balances leaf halves by bytes and internal halves by width.
func splitPoint(n *node) int {
	if !n.leaf {
		return len(n.children) / 2
	}
	total := 0
	for i := range n.items {
		total += n.items[i].size()
	}
	best, bestDiff := 1, -1
	prefix := n.items[0].size()
	for i := 1; i < len(n.items); i++ {
		diff := total - 2*prefix
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
		prefix += n.items[i].size()
	}
	return best
}

func merge(left, right *node) *node {
	out := &node{leaf: left.leaf, level: left.level}
	if left.leaf {
		out.items = make([]item, 0, len(left.items)+len(right.items))
		out.items = append(append(out.items, left.items...), right.items...)
		return out
	}
	out.children = make([]child, 0, len(left.children)+len(right.children))
	out.children = append(append(out.children, left.children...), right.children...)
	return out
}
