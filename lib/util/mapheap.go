// Package util
//
// This file provides a keyed min-heap. It combines a binary heap with a hash
// map so that items can be reprioritized or removed by key in O(log n) while
// the lowest priority item stays available in O(1).
//
// The page cache uses it as its eviction order: the key is the page id and
// the priority is a monotonically increasing access tick, so the minimum is
// always the least recently used page.
//
//	h := NewMapHeap()
//	h.AddItem(7, tick)   // insert or touch
//	key, _, ok := h.PopMin()
//
// Not thread-safe: callers synchronize externally.
package util

import (
	"container/heap"
	"strconv"
)

// item is a heap entry with a uint64 key and priority
type item struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Ordering value, lowest first
	index    int    // Index in the heap, maintained by heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of keys ordered by priority with key-based access.
type MapHeap struct {
	items    []*item          // heap order
	itemsMap map[uint64]*item // key index
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[uint64]*item),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (h *MapHeap) Len() int { return len(h.items) }

func (h *MapHeap) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *MapHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

func (h *MapHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items[n-1] = nil
	it.index = -1
	h.items = h.items[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Keyed Operations
// --------------------------------------------------------------------------

// AddItem inserts key with the given priority or updates the priority of an existing key.
func (h *MapHeap) AddItem(key, priority uint64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &item{Key: key, Priority: priority})
}

// RemoveByKey removes key and returns its priority.
func (h *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the key and priority of the minimum item without removing it.
func (h *MapHeap) Peek() (key, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// PopMin removes and returns the minimum item.
func (h *MapHeap) PopMin() (key, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	it := heap.Pop(h).(*item)
	return it.Key, it.Priority, true
}

// Contains checks if a key exists in the heap
func (h *MapHeap) Contains(key uint64) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// Priority returns the priority of key.
func (h *MapHeap) Priority(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.Priority, true
}

// Reset removes all items.
func (h *MapHeap) Reset() {
	h.items = h.items[:0]
	h.itemsMap = make(map[uint64]*item)
}
