package storage

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/fxstore/lib/util"
)

// PageCache is a size-bounded LRU cache of immutable page images. The heap
// priority of a page is the logical time of its last access, so the minimum
// is always the least recently used entry.
//
// Cached slices are shared with callers and must not be modified.
type PageCache struct {
	mu       sync.Mutex
	maxBytes int64
	bytes    int64
	clock    uint64
	pages    map[uint64][]byte
	lru      *util.MapHeap

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPageCache creates a cache holding at most maxBytes of page data. A
// non-positive maxBytes disables caching.
func NewPageCache(maxBytes int64) *PageCache {
	return &PageCache{
		maxBytes: maxBytes,
		pages:    make(map[uint64][]byte),
		lru:      util.NewMapHeap(),
	}
}

// Get returns the cached page and marks it as recently used.
func (c *PageCache) Get(id uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[id]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.clock++
	c.lru.AddItem(id, c.clock)
	c.hits.Add(1)
	return page, true
}

// Put inserts a page, evicting least recently used pages as needed.
func (c *PageCache) Put(id uint64, page []byte) {
	if c.maxBytes <= 0 || int64(len(page)) > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.pages[id]; ok {
		c.bytes -= int64(len(old))
	}
	c.pages[id] = page
	c.bytes += int64(len(page))
	c.clock++
	c.lru.AddItem(id, c.clock)

	for c.bytes > c.maxBytes {
		victim, _, ok := c.lru.PopMin()
		if !ok {
			break
		}
		c.bytes -= int64(len(c.pages[victim]))
		delete(c.pages, victim)
	}
}

// Clear drops all pages.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = make(map[uint64][]byte)
	c.lru.Reset()
	c.bytes = 0
}

func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

func (c *PageCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Lookups returns the number of page reads served through the cache, hits
// and misses together.
func (c *PageCache) Lookups() uint64 {
	return c.hits.Load() + c.misses.Load()
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (c *PageCache) HitRatio() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
