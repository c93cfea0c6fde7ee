package storage

import (
	"math"
	"sync/atomic"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/util"
)

// Allocator hands out append-only file space. Pages are aligned to the page
// size, records to RecordAlign. Space is never reused; the tail only moves
// forward; a reopened store starts a new allocator at the committed tail.
type Allocator struct {
	pageSize uint64
	tail     atomic.Uint64
}

// NewAllocator creates an allocator whose next allocation starts at tail.
func NewAllocator(pageSize int, tail uint64) *Allocator {
	a := &Allocator{pageSize: uint64(pageSize)}
	a.tail.Store(tail)
	return a
}

// Tail returns the first unallocated byte offset.
func (a *Allocator) Tail() uint64 {
	return a.tail.Load()
}

// AllocPage reserves one page and returns its id (offset / page size).
func (a *Allocator) AllocPage() (uint64, error) {
	off, err := a.alloc(a.pageSize, a.pageSize)
	if err != nil {
		return 0, err
	}
	return off / a.pageSize, nil
}

// AllocRecord reserves n bytes (header included) and returns the offset.
func (a *Allocator) AllocRecord(n uint64) (uint64, error) {
	return a.alloc(n, RecordAlign)
}

func (a *Allocator) alloc(n, align uint64) (uint64, error) {
	for {
		cur := a.tail.Load()
		start := util.AlignUp(cur, align)
		if start < cur || start > math.MaxInt64-n {
			return 0, store.Errorf(store.RetCOutOfMemory, "allocation of %d bytes at %d overflows the address space", n, cur)
		}
		if a.tail.CompareAndSwap(cur, start+n) {
			return start, nil
		}
	}
}
