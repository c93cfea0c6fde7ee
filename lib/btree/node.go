package btree

import (
	"encoding/binary"

	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// Node layout after the page header:
//
//	leaf:     { flags u8, klen u32, vlen u32, key|keyRef, val|valRef }*
//	internal: child0 u64, { flags u8, klen u32, key|keyRef, child u64 }*
//
// Out-of-line keys and values are stored as records; the node then holds the
// 8-byte record offset and a zero length.
const (
	flagKeyRef byte = 1 << 0
	flagValRef byte = 1 << 1

	leafEntryOverhead     = 1 + 4 + 4
	internalEntryOverhead = 1 + 4 + 8
	refSize               = 8
)

type entry struct {
	key    []byte
	keyRef uint64 // record offset, 0 if inline
	val    []byte
	valRef uint64 // record offset, 0 if inline
}

// sepOf returns a separator entry carrying only the key of e.
func sepOf(e *entry) entry {
	return entry{key: e.key, keyRef: e.keyRef}
}

type node struct {
	leaf     bool
	level    uint16
	entries  []entry
	children []uint64 // internal only, len(entries)+1
}

func keySize(e *entry) int {
	if e.keyRef != 0 {
		return refSize
	}
	return len(e.key)
}

func valSize(e *entry) int {
	if e.valRef != 0 {
		return refSize
	}
	return len(e.val)
}

func entrySize(leaf bool, e *entry) int {
	if leaf {
		return leafEntryOverhead + keySize(e) + valSize(e)
	}
	return internalEntryOverhead + keySize(e)
}

// nodeSize returns the encoded size of n including the page header.
func nodeSize(n *node) int {
	s := storage.PageHeaderSize
	if !n.leaf {
		s += 8
	}
	for i := range n.entries {
		s += entrySize(n.leaf, &n.entries[i])
	}
	return s
}

func (t *Tree) fits(n *node) bool {
	return nodeSize(n) <= t.pager.PageSize()
}

func (t *Tree) encode(n *node, id uint64) []byte {
	typ := storage.PageBTreeLeaf
	if !n.leaf {
		typ = storage.PageBTreeInternal
	}
	page := storage.NewPage(t.pager.PageSize(), storage.PageHeader{
		Type:  typ,
		Level: n.level,
		Count: uint16(len(n.entries)),
		ID:    id,
	})
	buf := page[storage.PageHeaderSize:]
	off := 0
	if !n.leaf {
		binary.LittleEndian.PutUint64(buf[off:], n.children[0])
		off += 8
	}
	for i := range n.entries {
		e := &n.entries[i]
		var flags byte
		if e.keyRef != 0 {
			flags |= flagKeyRef
		}
		if n.leaf && e.valRef != 0 {
			flags |= flagValRef
		}
		buf[off] = flags
		off++

		klen := len(e.key)
		if e.keyRef != 0 {
			klen = 0
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(klen))
		off += 4
		if n.leaf {
			vlen := len(e.val)
			if e.valRef != 0 {
				vlen = 0
			}
			binary.LittleEndian.PutUint32(buf[off:], uint32(vlen))
			off += 4
		}

		if e.keyRef != 0 {
			binary.LittleEndian.PutUint64(buf[off:], e.keyRef)
			off += refSize
		} else {
			off += copy(buf[off:], e.key)
		}

		if n.leaf {
			if e.valRef != 0 {
				binary.LittleEndian.PutUint64(buf[off:], e.valRef)
				off += refSize
			} else {
				off += copy(buf[off:], e.val)
			}
		} else {
			binary.LittleEndian.PutUint64(buf[off:], n.children[i+1])
			off += 8
		}
	}
	return page
}

type pageReader struct {
	buf   []byte
	off   int
	short bool
}

func (r *pageReader) next(n int) []byte {
	if r.short || n < 0 || r.off+n > len(r.buf) {
		r.short = true
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *pageReader) u8() byte {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *pageReader) u32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *pageReader) u64() uint64 {
	if b := r.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// decode parses a page without resolving out-of-line keys.
func decode(page []byte, id uint64) (*node, error) {
	h, err := storage.ReadHeader(page)
	if err != nil {
		return nil, err
	}
	n := &node{level: h.Level}
	switch h.Type {
	case storage.PageBTreeLeaf:
		n.leaf = true
		if h.Level != 0 {
			return nil, store.Errorf(store.RetCCorruption, "page %d: leaf at level %d", id, h.Level)
		}
	case storage.PageBTreeInternal:
		if h.Level == 0 {
			return nil, store.Errorf(store.RetCCorruption, "page %d: internal node at level 0", id)
		}
		n.children = make([]uint64, 0, int(h.Count)+1)
	default:
		return nil, store.Errorf(store.RetCCorruption, "page %d: expected b-tree page, found %s", id, h.Type)
	}

	n.entries = make([]entry, h.Count)
	r := &pageReader{buf: page[storage.PageHeaderSize:]}
	if !n.leaf {
		n.children = append(n.children, r.u64())
	}
	for i := range n.entries {
		e := &n.entries[i]
		flags := r.u8()
		klen := int(r.u32())
		vlen := 0
		if n.leaf {
			vlen = int(r.u32())
		}
		if flags&flagKeyRef != 0 {
			e.keyRef = r.u64()
		} else {
			e.key = r.next(klen)
		}
		if n.leaf {
			if flags&flagValRef != 0 {
				e.valRef = r.u64()
			} else {
				e.val = r.next(vlen)
			}
		} else {
			n.children = append(n.children, r.u64())
		}
	}
	if r.short {
		return nil, store.Errorf(store.RetCCorruption, "page %d: entries exceed page bounds", id)
	}
	return n, nil
}

// readNode reads and fully decodes the node stored in page id.
func (t *Tree) readNode(id uint64) (*node, error) {
	page, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	n, err := decode(page, id)
	if err != nil {
		return nil, err
	}
	for i := range n.entries {
		e := &n.entries[i]
		if e.keyRef != 0 {
			if e.key, err = t.pager.ReadRecord(e.keyRef); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

// writeNode persists n into fresh pages, splitting it when it does not fit
// into one. It returns the new page ids in key order and the separators
// between them.
func (t *Tree) writeNode(n *node) ([]uint64, []entry, error) {
	if t.fits(n) {
		id, err := t.pager.AllocPage()
		if err != nil {
			return nil, nil, err
		}
		if err := t.pager.WritePage(id, t.encode(n, id)); err != nil {
			return nil, nil, err
		}
		return []uint64{id}, nil, nil
	}

	left, sep, right, err := split(n)
	if err != nil {
		return nil, nil, err
	}
	lids, lseps, err := t.writeNode(left)
	if err != nil {
		return nil, nil, err
	}
	rids, rseps, err := t.writeNode(right)
	if err != nil {
		return nil, nil, err
	}
	seps := append(append(lseps, sep), rseps...)
	return append(lids, rids...), seps, nil
}

// split divides n at the point that balances the encoded halves best.
func split(n *node) (*node, entry, *node, error) {
	if n.leaf {
		if len(n.entries) < 2 {
			return nil, entry{}, nil, store.NewError(store.RetCInternal, "leaf entry exceeds page size")
		}
		m := balancePoint(n, 1, len(n.entries)-1)
		left := &node{leaf: true, entries: n.entries[:m:m]}
		right := &node{leaf: true, entries: n.entries[m:]}
		return left, sepOf(&right.entries[0]), right, nil
	}

	if len(n.entries) < 1 {
		return nil, entry{}, nil, store.NewError(store.RetCInternal, "separator exceeds page size")
	}
	m := balancePoint(n, 0, len(n.entries)-1)
	left := &node{level: n.level, entries: n.entries[:m:m], children: n.children[: m+1 : m+1]}
	right := &node{level: n.level, entries: n.entries[m+1:], children: n.children[m+1:]}
	return left, n.entries[m], right, nil
}

// balancePoint returns the index in [lo, hi] that splits the entry bytes of
// n most evenly.
func balancePoint(n *node, lo, hi int) int {
	total := 0
	for i := range n.entries {
		total += entrySize(n.leaf, &n.entries[i])
	}
	best, bestDiff := lo, -1
	prefix := 0
	for i := 0; i <= hi; i++ {
		if i >= lo {
			diff := total - 2*prefix
			if diff < 0 {
				diff = -diff
			}
			if bestDiff < 0 || diff < bestDiff {
				best, bestDiff = i, diff
			}
		}
		prefix += entrySize(n.leaf, &n.entries[i])
	}
	return best
}

// merge concatenates two adjacent siblings; sep is only used for internal
// nodes.
func merge(left *node, sep entry, right *node) *node {
	out := &node{leaf: left.leaf, level: left.level}
	out.entries = make([]entry, 0, len(left.entries)+len(right.entries)+1)
	out.entries = append(out.entries, left.entries...)
	if !left.leaf {
		out.entries = append(out.entries, sep)
		out.children = make([]uint64, 0, len(left.children)+len(right.children))
		out.children = append(append(out.children, left.children...), right.children...)
	}
	out.entries = append(out.entries, right.entries...)
	return out
}
