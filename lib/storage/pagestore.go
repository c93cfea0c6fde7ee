package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

var (
	pagesAllocated = metrics.GetOrCreateCounter(`fxstore_pages_allocated_total`)
	recordsWritten = metrics.GetOrCreateCounter(`fxstore_records_written_total`)
	bytesWritten   = metrics.GetOrCreateCounter(`fxstore_bytes_written_total`)
	pageReadMisses = metrics.GetOrCreateCounter(`fxstore_page_cache_misses_total`)
)

// Pager is the page and record I/O surface the tree implementations need.
type Pager interface {
	// PageSize returns the fixed page size in bytes.
	PageSize() int
	// ReadPage returns the verified image of page id. The slice is shared
	// and must not be modified.
	ReadPage(id uint64) ([]byte, error)
	// AllocPage reserves a fresh page id.
	AllocPage() (uint64, error)
	// WritePage seals and writes page to slot id. Ownership of page passes
	// to the pager.
	WritePage(id uint64, page []byte) error
	// ReadRecord returns the payload of the record at file offset ref.
	ReadRecord(ref uint64) ([]byte, error)
	// WriteRecord appends a record and returns its file offset.
	WriteRecord(data []byte) (uint64, error)
}

// PageStore implements Pager on top of a Storage, an Allocator and an LRU
// PageCache.
type PageStore struct {
	storage  Storage
	pageSize int
	alloc    *Allocator
	cache    *PageCache
}

// NewPageStore creates a page store appending at tail.
func NewPageStore(s Storage, pageSize int, cacheBytes int64, tail uint64) *PageStore {
	return &PageStore{
		storage:  s,
		pageSize: pageSize,
		alloc:    NewAllocator(pageSize, tail),
		cache:    NewPageCache(cacheBytes),
	}
}

func (p *PageStore) PageSize() int {
	return p.pageSize
}

func (p *PageStore) Storage() Storage {
	return p.storage
}

func (p *PageStore) Cache() *PageCache {
	return p.cache
}

// Tail returns the allocation tail.
func (p *PageStore) Tail() uint64 {
	return p.alloc.Tail()
}

func (p *PageStore) AllocPage() (uint64, error) {
	id, err := p.alloc.AllocPage()
	if err != nil {
		return 0, err
	}
	pagesAllocated.Inc()
	return id, nil
}

func (p *PageStore) WritePage(id uint64, page []byte) error {
	if len(page) != p.pageSize {
		return store.Errorf(store.RetCInternal, "page %d has size %d, want %d", id, len(page), p.pageSize)
	}
	if id == 0 {
		return store.NewError(store.RetCInternal, "page id 0 is reserved")
	}
	SealPage(page)
	if err := p.storage.WriteAt(page, int64(id)*int64(p.pageSize)); err != nil {
		return err
	}
	bytesWritten.Add(len(page))
	p.cache.Put(id, page)
	return nil
}

func (p *PageStore) ReadPage(id uint64) ([]byte, error) {
	if page, ok := p.cache.Get(id); ok {
		return page, nil
	}
	pageReadMisses.Inc()
	page, err := p.ReadPageRaw(id)
	if err != nil {
		return nil, err
	}
	if err := CheckPage(page, id); err != nil {
		return nil, err
	}
	p.cache.Put(id, page)
	return page, nil
}

// ReadPageRaw reads page id without verification or caching.
func (p *PageStore) ReadPageRaw(id uint64) ([]byte, error) {
	if id == 0 {
		return nil, store.NewError(store.RetCCorruption, "reference to reserved page 0")
	}
	off := int64(id) * int64(p.pageSize)
	if off+int64(p.pageSize) > p.storage.Size() {
		return nil, store.Errorf(store.RetCCorruption, "page %d lies beyond end of file", id)
	}
	page := make([]byte, p.pageSize)
	if err := p.storage.ReadAt(page, off); err != nil {
		return nil, err
	}
	return page, nil
}

func (p *PageStore) WriteRecord(data []byte) (uint64, error) {
	rec := EncodeRecord(data)
	off, err := p.alloc.AllocRecord(uint64(len(rec)))
	if err != nil {
		return 0, err
	}
	if err := p.storage.WriteAt(rec, int64(off)); err != nil {
		return 0, err
	}
	recordsWritten.Inc()
	bytesWritten.Add(len(rec))
	return off, nil
}

func (p *PageStore) ReadRecord(ref uint64) ([]byte, error) {
	size := p.storage.Size()
	if ref%RecordAlign != 0 || int64(ref)+RecordHeaderSize > size {
		return nil, store.Errorf(store.RetCCorruption, "record reference %d out of range", ref)
	}
	var hdr [RecordHeaderSize]byte
	if err := p.storage.ReadAt(hdr[:], int64(ref)); err != nil {
		return nil, err
	}
	n := int64(binary.LittleEndian.Uint32(hdr[0:]))
	want := binary.LittleEndian.Uint32(hdr[4:])
	if int64(ref)+RecordHeaderSize+n > size {
		return nil, store.Errorf(store.RetCCorruption, "record at %d claims %d bytes beyond end of file", ref, n)
	}
	data := make([]byte, n)
	if err := p.storage.ReadAt(data, int64(ref)+RecordHeaderSize); err != nil {
		return nil, err
	}
	if got := crc32.ChecksumIEEE(data); got != want {
		return nil, store.Errorf(store.RetCCorruption, "record at %d: checksum mismatch", ref)
	}
	return data, nil
}
