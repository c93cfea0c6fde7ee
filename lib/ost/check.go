package ost

import (
	"fmt"
)

type IssueKind int

const (
	IssuePage   IssueKind = iota // unreadable or malformed page
	IssueRecord                  // unreadable out-of-line value
	IssueCount                   // subtree counts or levels disagree
)

type Issue struct {
	Kind   IssueKind
	PageID uint64
	Ref    uint64
	Msg    string
}

type PageInfo struct {
	ID    uint64
	Leaf  bool
	Level uint16
	Count uint64
	Used  int
}

// Walker receives what Check finds. Nil callbacks are skipped.
type Walker struct {
	Page   func(PageInfo)
	Record func(ref uint64, size int)
	Issue  func(Issue)
}

// Check walks every reachable page, verifying page integrity, levels and
// that each stored subtree count matches the elements below it. It returns
// the number of elements actually found.
func (t *Tree) Check(w Walker) uint64 {
	if t.root == 0 {
		return 0
	}
	c := &checker{t: t, w: w, seen: make(map[uint64]bool)}
	n, _ := c.walk(t.root, -1)
	return n
}

type checker struct {
	t    *Tree
	w    Walker
	seen map[uint64]bool
}

func (c *checker) issue(kind IssueKind, page, ref uint64, format string, args ...any) {
	if c.w.Issue != nil {
		c.w.Issue(Issue{Kind: kind, PageID: page, Ref: ref, Msg: fmt.Sprintf(format, args...)})
	}
}

// walk returns the elements found below id and whether the page was
// readable.
func (c *checker) walk(id uint64, wantLevel int) (uint64, bool) {
	if c.seen[id] {
		c.issue(IssuePage, id, 0, "page %d is reachable more than once", id)
		return 0, false
	}
	c.seen[id] = true

	page, err := c.t.pager.ReadPage(id)
	if err != nil {
		c.issue(IssuePage, id, 0, "%v", err)
		return 0, false
	}
	n, stored, err := decode(page, id)
	if err != nil {
		c.issue(IssuePage, id, 0, "%v", err)
		return 0, false
	}
	if wantLevel >= 0 && int(n.level) != wantLevel {
		c.issue(IssueCount, id, 0, "page %d has level %d, expected %d", id, n.level, wantLevel)
	}
	if c.w.Page != nil {
		c.w.Page(PageInfo{ID: id, Leaf: n.leaf, Level: n.level, Count: stored, Used: nodeSize(n)})
	}

	if n.leaf {
		for i := range n.items {
			if ref := n.items[i].ref; ref != 0 {
				data, err := c.t.pager.ReadRecord(ref)
				if err != nil {
					c.issue(IssueRecord, id, ref, "%v", err)
				} else if c.w.Record != nil {
					c.w.Record(ref, len(data))
				}
			}
		}
		if stored != uint64(len(n.items)) {
			c.issue(IssueCount, id, 0, "page %d stores count %d but holds %d items", id, stored, len(n.items))
		}
		return uint64(len(n.items)), true
	}

	var total uint64
	for _, ch := range n.children {
		got, ok := c.walk(ch.id, int(n.level)-1)
		if ok && got != ch.count {
			c.issue(IssueCount, id, 0, "page %d records %d elements for child %d, found %d", id, ch.count, ch.id, got)
		}
		total += got
	}
	if stored != n.count() {
		c.issue(IssueCount, id, 0, "page %d stores count %d but its children sum to %d", id, stored, n.count())
	}
	return total, true
}
