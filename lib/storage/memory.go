package storage

import (
	"sync"

	"github.com/ValentinKolb/fxstore/lib/store"
)

const minMemoryCapacity = 64 << 10

// MemoryStorage is a Storage backed by a growable byte slice. The buffer
// doubles when it runs out of capacity, bounded by an optional limit.
type MemoryStorage struct {
	mu     sync.RWMutex
	buf    []byte // len(buf) is the capacity in use, size <= len(buf)
	size   int64
	limit  int64 // 0 = unlimited
	closed bool
}

// NewMemoryStorage creates an empty memory storage. limit caps the size in
// bytes (0 = unlimited); growing beyond it fails with RetCOutOfMemory.
func NewMemoryStorage(limit int64) *MemoryStorage {
	return &MemoryStorage{limit: limit}
}

func (m *MemoryStorage) ReadAt(p []byte, off int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return store.NewError(store.RetCClosed, "memory storage is closed")
	}
	if off < 0 || off+int64(len(p)) > m.size {
		return store.Errorf(store.RetCIO, "read [%d,%d) beyond end of storage (%d bytes)", off, off+int64(len(p)), m.size)
	}
	copy(p, m.buf[off:off+int64(len(p))])
	return nil
}

func (m *MemoryStorage) WriteAt(p []byte, off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.NewError(store.RetCClosed, "memory storage is closed")
	}
	if off < 0 {
		return store.Errorf(store.RetCInvalidArgument, "negative offset %d", off)
	}
	end := off + int64(len(p))
	if err := m.ensureCapacity(end); err != nil {
		return err
	}
	copy(m.buf[off:end], p)
	if end > m.size {
		m.size = end
	}
	return nil
}

// ensureCapacity grows buf to hold at least n bytes. Caller holds mu.
func (m *MemoryStorage) ensureCapacity(n int64) error {
	if n <= int64(len(m.buf)) {
		return nil
	}
	if m.limit > 0 && n > m.limit {
		return store.Errorf(store.RetCOutOfMemory, "memory storage limit of %d bytes exceeded (need %d)", m.limit, n)
	}
	newCap := int64(len(m.buf))
	if newCap < minMemoryCapacity {
		newCap = minMemoryCapacity
	}
	for newCap < n {
		newCap *= 2
	}
	if m.limit > 0 && newCap > m.limit {
		newCap = m.limit
	}
	grown := make([]byte, newCap)
	copy(grown, m.buf[:m.size])
	m.buf = grown
	return nil
}

func (m *MemoryStorage) Force() error {
	return nil
}

func (m *MemoryStorage) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryStorage) Extend(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= m.size {
		return nil
	}
	if err := m.ensureCapacity(size); err != nil {
		return err
	}
	m.size = size
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.buf = nil
	return nil
}
