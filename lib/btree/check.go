package btree

import (
	"fmt"
)

// IssueKind classifies a problem found by Check.
type IssueKind int

const (
	IssuePage   IssueKind = iota // unreadable or malformed page
	IssueRecord                  // unreadable out-of-line key or value
	IssueOrder                   // key ordering or tree shape violated
)

// Issue is one problem found by Check.
type Issue struct {
	Kind   IssueKind
	PageID uint64
	Ref    uint64 // record offset for IssueRecord
	Msg    string
}

// PageInfo describes one reachable page.
type PageInfo struct {
	ID      uint64
	Leaf    bool
	Level   uint16
	Entries int
	Used    int // encoded bytes including the header
}

// Walker receives what Check finds. Nil callbacks are skipped.
type Walker struct {
	Page   func(PageInfo)
	Record func(ref uint64, size int)
	Issue  func(Issue)
}

type bounds struct {
	lo, hi []byte // lo inclusive, hi exclusive, nil = open
}

// Check walks every reachable page and record, reporting malformed pages,
// unreadable records and ordering violations to w. It never stops at the
// first problem and returns the number of readable leaf entries.
func (t *Tree) Check(w Walker) uint64 {
	if t.root == 0 {
		return 0
	}
	c := &checker{t: t, w: w, seen: make(map[uint64]bool)}
	c.walk(t.root, -1, bounds{})
	return c.entries
}

type checker struct {
	t       *Tree
	w       Walker
	seen    map[uint64]bool
	entries uint64
}

func (c *checker) issue(kind IssueKind, page, ref uint64, format string, args ...any) {
	if c.w.Issue != nil {
		c.w.Issue(Issue{Kind: kind, PageID: page, Ref: ref, Msg: fmt.Sprintf(format, args...)})
	}
}

func (c *checker) record(page, ref uint64) ([]byte, bool) {
	data, err := c.t.pager.ReadRecord(ref)
	if err != nil {
		c.issue(IssueRecord, page, ref, "%v", err)
		return nil, false
	}
	if c.w.Record != nil {
		c.w.Record(ref, len(data))
	}
	return data, true
}

// walk checks page id; wantLevel is -1 for the root.
func (c *checker) walk(id uint64, wantLevel int, b bounds) {
	if c.seen[id] {
		c.issue(IssuePage, id, 0, "page %d is reachable more than once", id)
		return
	}
	c.seen[id] = true

	page, err := c.t.pager.ReadPage(id)
	if err != nil {
		c.issue(IssuePage, id, 0, "%v", err)
		return
	}
	n, err := decode(page, id)
	if err != nil {
		c.issue(IssuePage, id, 0, "%v", err)
		return
	}
	if wantLevel >= 0 && int(n.level) != wantLevel {
		c.issue(IssueOrder, id, 0, "page %d has level %d, expected %d", id, n.level, wantLevel)
	}
	if c.w.Page != nil {
		c.w.Page(PageInfo{ID: id, Leaf: n.leaf, Level: n.level, Entries: len(n.entries), Used: nodeSize(n)})
	}

	// resolve keys and values; unreadable keys are skipped for ordering
	keys := make([][]byte, len(n.entries))
	for i := range n.entries {
		e := &n.entries[i]
		keys[i] = e.key
		if e.keyRef != 0 {
			keys[i], _ = c.record(id, e.keyRef)
		}
		if n.leaf && e.valRef != 0 {
			c.record(id, e.valRef)
		}
	}

	var prev []byte
	for i, k := range keys {
		if k == nil && n.entries[i].keyRef != 0 {
			continue
		}
		if prev != nil && c.t.cmp(prev, k) >= 0 {
			c.issue(IssueOrder, id, 0, "page %d: key %d is not greater than its predecessor", id, i)
		}
		if b.lo != nil && c.t.cmp(k, b.lo) < 0 {
			c.issue(IssueOrder, id, 0, "page %d: key %d below the parent separator", id, i)
		}
		if b.hi != nil && c.t.cmp(k, b.hi) >= 0 {
			c.issue(IssueOrder, id, 0, "page %d: key %d not below the parent separator", id, i)
		}
		prev = k
	}

	if n.leaf {
		c.entries += uint64(len(n.entries))
		return
	}
	for ci, child := range n.children {
		cb := b
		if ci > 0 && keys[ci-1] != nil {
			cb.lo = keys[ci-1]
		}
		if ci < len(keys) && keys[ci] != nil {
			cb.hi = keys[ci]
		}
		c.walk(child, int(n.level)-1, cb)
	}
}
