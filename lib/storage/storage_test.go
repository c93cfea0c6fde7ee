package storage

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func() Storage {
	return map[string]func() Storage{
		"Memory": func() Storage {
			return NewMemoryStorage(0)
		},
		"File": func() Storage {
			fs, err := OpenFile(filepath.Join(t.TempDir(), "data.fx"), true)
			require.NoError(t, err)
			return fs
		},
	}
}

func TestStorageReadWrite(t *testing.T) {
	for name, newStorage := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStorage()
			defer s.Close()

			require.Equal(t, int64(0), s.Size())
			require.NoError(t, s.WriteAt([]byte("hello"), 100))
			require.Equal(t, int64(105), s.Size())

			buf := make([]byte, 5)
			require.NoError(t, s.ReadAt(buf, 100))
			require.Equal(t, "hello", string(buf))

			// the gap reads as zeros
			gap := make([]byte, 4)
			require.NoError(t, s.ReadAt(gap, 0))
			require.Equal(t, []byte{0, 0, 0, 0}, gap)

			err := s.ReadAt(make([]byte, 10), 100)
			require.True(t, errors.Is(err, store.ErrIO))

			require.NoError(t, s.Extend(4096))
			require.Equal(t, int64(4096), s.Size())
			require.NoError(t, s.Extend(10))
			require.Equal(t, int64(4096), s.Size())
			require.NoError(t, s.ReadAt(buf, 100))
			require.Equal(t, "hello", string(buf))

			require.NoError(t, s.Force())
			require.NoError(t, s.Close())
			require.True(t, errors.Is(s.ReadAt(buf, 0), store.ErrClosed))
		})
	}
}

func TestMemoryStorageLimit(t *testing.T) {
	s := NewMemoryStorage(1 << 20)
	require.NoError(t, s.WriteAt(make([]byte, 1<<19), 0))
	require.NoError(t, s.WriteAt(make([]byte, 1<<19), 1<<19))

	err := s.WriteAt([]byte{1}, 1<<20)
	require.True(t, errors.Is(err, store.ErrOutOfMemory))
	require.Equal(t, int64(1<<20), s.Size())

	require.True(t, errors.Is(s.Extend(2<<20), store.ErrOutOfMemory))
}

func TestFileStorageLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.fx")
	first, err := OpenFile(path, true)
	require.NoError(t, err)

	_, err = OpenFile(path, true)
	require.Equal(t, store.RetCLockFailed, store.CodeOf(err))

	// without locking the file can be opened
	unlocked, err := OpenFile(path, false)
	require.NoError(t, err)
	require.NoError(t, unlocked.Close())

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := OpenFile(path, true)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestFileStoragePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.fx")
	s, err := OpenFile(path, true)
	require.NoError(t, err)
	require.NoError(t, s.WriteAt([]byte("durable"), 8192))
	require.NoError(t, s.Force())
	require.NoError(t, s.Close())

	s, err = OpenFile(path, true)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, int64(8199), s.Size())
	buf := make([]byte, 7)
	require.NoError(t, s.ReadAt(buf, 8192))
	require.Equal(t, "durable", string(buf))
}

// --------------------------------------------------------------------------
// Allocator
// --------------------------------------------------------------------------

func TestAllocator(t *testing.T) {
	a := NewAllocator(4096, 12288)

	id, err := a.AllocPage()
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)

	off, err := a.AllocRecord(13)
	require.NoError(t, err)
	require.Equal(t, uint64(16384), off)
	require.Equal(t, uint64(16384+13), a.Tail())

	off, err = a.AllocRecord(8)
	require.NoError(t, err)
	require.Equal(t, uint64(16384+16), off)

	// the next page skips to the next page boundary
	id, err = a.AllocPage()
	require.NoError(t, err)
	require.Equal(t, uint64(5), id)

	a = NewAllocator(4096, 1<<62)
	_, err = a.AllocRecord(1 << 62)
	require.True(t, errors.Is(err, store.ErrOutOfMemory))
}

func TestAllocatorConcurrent(t *testing.T) {
	a := NewAllocator(4096, 12288)
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := a.AllocPage()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("page %d allocated twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}

// --------------------------------------------------------------------------
// Page Cache
// --------------------------------------------------------------------------

func TestPageCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPageCache(3 * 100)
	c.Put(1, make([]byte, 100))
	c.Put(2, make([]byte, 100))
	c.Put(3, make([]byte, 100))

	// touch 1 so that 2 becomes the oldest
	_, ok := c.Get(1)
	require.True(t, ok)

	c.Put(4, make([]byte, 100))
	require.Equal(t, 3, c.Len())
	require.Equal(t, int64(300), c.Bytes())

	_, ok = c.Get(2)
	require.False(t, ok)
	for _, id := range []uint64{1, 3, 4} {
		_, ok := c.Get(id)
		require.True(t, ok, "page %d evicted", id)
	}

	// only the five gets count
	require.Equal(t, uint64(5), c.Lookups())

	c.Clear()
	require.Zero(t, c.Len())
	require.Greater(t, c.HitRatio(), 0.0)
}

func TestPageCacheDisabled(t *testing.T) {
	c := NewPageCache(0)
	c.Put(1, make([]byte, 10))
	_, ok := c.Get(1)
	require.False(t, ok)
}

// --------------------------------------------------------------------------
// Page Store
// --------------------------------------------------------------------------

func TestPageStorePages(t *testing.T) {
	ps := NewPageStore(NewMemoryStorage(0), 4096, 1<<20, 12288)

	id, err := ps.AllocPage()
	require.NoError(t, err)
	page := NewPage(4096, PageHeader{Type: PageBTreeLeaf, Count: 2, ID: id, Aux: 42})
	copy(page[PageHeaderSize:], "payload")
	require.NoError(t, ps.WritePage(id, page))

	got, err := ps.ReadPage(id)
	require.NoError(t, err)
	h, err := ReadHeader(got)
	require.NoError(t, err)
	require.Equal(t, PageHeader{Type: PageBTreeLeaf, Count: 2, ID: id, Aux: 42}, h)

	// a cold read verifies the checksum
	ps.Cache().Clear()
	got, err = ps.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got[PageHeaderSize:PageHeaderSize+7]))

	_, err = ps.ReadPage(0)
	require.True(t, errors.Is(err, store.ErrCorruption))
	_, err = ps.ReadPage(1000)
	require.True(t, errors.Is(err, store.ErrCorruption))
}

func TestPageStoreDetectsPageCorruption(t *testing.T) {
	mem := NewMemoryStorage(0)
	ps := NewPageStore(mem, 4096, 0, 12288)

	id, err := ps.AllocPage()
	require.NoError(t, err)
	require.NoError(t, ps.WritePage(id, NewPage(4096, PageHeader{Type: PageOSTLeaf, ID: id})))

	// flip a payload byte behind the store's back
	require.NoError(t, mem.WriteAt([]byte{0xff}, int64(id)*4096+100))
	_, err = ps.ReadPage(id)
	require.True(t, errors.Is(err, store.ErrCorruption))

	// a valid page stored in the wrong slot is rejected too
	other, err := ps.AllocPage()
	require.NoError(t, err)
	misplaced := NewPage(4096, PageHeader{Type: PageOSTLeaf, ID: id})
	SealPage(misplaced)
	require.NoError(t, mem.WriteAt(misplaced, int64(other)*4096))
	_, err = ps.ReadPage(other)
	require.True(t, errors.Is(err, store.ErrCorruption))
}

func TestPageStoreRecords(t *testing.T) {
	mem := NewMemoryStorage(0)
	ps := NewPageStore(mem, 4096, 1<<20, 12288)

	a, err := ps.WriteRecord([]byte("first record"))
	require.NoError(t, err)
	b, err := ps.WriteRecord(nil)
	require.NoError(t, err)
	require.Zero(t, a%RecordAlign)
	require.Zero(t, b%RecordAlign)
	require.Greater(t, b, a)

	data, err := ps.ReadRecord(a)
	require.NoError(t, err)
	require.Equal(t, "first record", string(data))

	data, err = ps.ReadRecord(b)
	require.NoError(t, err)
	require.Empty(t, data)

	_, err = ps.ReadRecord(a + 1)
	require.True(t, errors.Is(err, store.ErrCorruption))
	_, err = ps.ReadRecord(1 << 40)
	require.True(t, errors.Is(err, store.ErrCorruption))

	require.NoError(t, mem.WriteAt([]byte{'F'}, int64(a)+RecordHeaderSize))
	_, err = ps.ReadRecord(a)
	require.True(t, errors.Is(err, store.ErrCorruption))
}
