package storage

import (
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("storage")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Storage is a byte-addressable backing store for a single store file.
//
// Thread-safety: implementations must allow concurrent ReadAt calls with
// one concurrent writer. Readers only access ranges that were completely
// written before they were published, so no byte-level locking is needed.
type Storage interface {
	// ReadAt fills p from offset off. Reading past the end is an error.
	ReadAt(p []byte, off int64) error
	// WriteAt writes p at offset off, growing the storage if needed.
	WriteAt(p []byte, off int64) error
	// Force flushes written data to durable media. It is a no-op for
	// memory storage.
	Force() error
	// Size returns the current size in bytes.
	Size() int64
	// Extend grows the storage to at least size bytes.
	Extend(size int64) error
	// Close releases all resources (and the file lock, if any).
	Close() error
}
