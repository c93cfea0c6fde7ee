package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/fxstore/lib/store"
	"golang.org/x/sys/unix"
)

// FileStorage is a Storage backed by a regular file.
type FileStorage struct {
	path   string
	file   *os.File
	size   atomic.Int64
	locked bool

	closeOnce sync.Once
	closed    atomic.Bool
}

// OpenFile opens (or creates) the file at path. With lock set an exclusive,
// non-blocking advisory lock is taken on the file; a second process (or a
// second store in this process) opening the same file fails with
// RetCLockFailed.
func OpenFile(path string, lock bool) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, store.Wrap(store.RetCIO, err, fmt.Sprintf("open %s", path))
	}

	if lock {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, store.Errorf(store.RetCLockFailed, "file %s is locked by another store", path)
			}
			return nil, store.Wrap(store.RetCLockFailed, err, fmt.Sprintf("lock %s", path))
		}
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, store.Wrap(store.RetCIO, err, fmt.Sprintf("stat %s", path))
	}

	fs := &FileStorage{path: path, file: f, locked: lock}
	fs.size.Store(info.Size())
	log.Debugf("opened %s (%d bytes, locked=%v)", path, info.Size(), lock)
	return fs, nil
}

// Path returns the file path.
func (fs *FileStorage) Path() string {
	return fs.path
}

func (fs *FileStorage) checkOpen() error {
	if fs.closed.Load() {
		return store.NewError(store.RetCClosed, "file storage is closed")
	}
	return nil
}

func (fs *FileStorage) ReadAt(p []byte, off int64) error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if off < 0 || off+int64(len(p)) > fs.size.Load() {
		return store.Errorf(store.RetCIO, "read [%d,%d) beyond end of file (%d bytes)", off, off+int64(len(p)), fs.size.Load())
	}
	n, err := fs.file.ReadAt(p, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		return store.Wrap(store.RetCIO, err, fmt.Sprintf("read at %d", off))
	}
	return nil
}

func (fs *FileStorage) WriteAt(p []byte, off int64) error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if off < 0 {
		return store.Errorf(store.RetCInvalidArgument, "negative offset %d", off)
	}
	if _, err := fs.file.WriteAt(p, off); err != nil {
		return store.Wrap(store.RetCIO, err, fmt.Sprintf("write at %d", off))
	}
	fs.growTo(off + int64(len(p)))
	return nil
}

// growTo raises the tracked size monotonically.
func (fs *FileStorage) growTo(end int64) {
	for {
		cur := fs.size.Load()
		if end <= cur || fs.size.CompareAndSwap(cur, end) {
			return
		}
	}
}

func (fs *FileStorage) Force() error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if err := unix.Fdatasync(int(fs.file.Fd())); err != nil {
		// not every file system supports fdatasync
		if err := fs.file.Sync(); err != nil {
			return store.Wrap(store.RetCIO, err, "sync")
		}
	}
	return nil
}

func (fs *FileStorage) Size() int64 {
	return fs.size.Load()
}

func (fs *FileStorage) Extend(size int64) error {
	if size <= fs.size.Load() {
		return nil
	}
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if err := fs.file.Truncate(size); err != nil {
		return store.Wrap(store.RetCIO, err, fmt.Sprintf("extend to %d", size))
	}
	fs.size.Store(size)
	return nil
}

// Close unlocks and closes the file. Calling Close more than once is safe.
func (fs *FileStorage) Close() error {
	var err error
	fs.closeOnce.Do(func() {
		fs.closed.Store(true)
		if fs.locked {
			_ = unix.Flock(int(fs.file.Fd()), unix.LOCK_UN)
		}
		if cerr := fs.file.Close(); cerr != nil {
			err = store.Wrap(store.RetCIO, cerr, "close")
		}
	})
	return err
}
