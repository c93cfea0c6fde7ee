package store

import (
	"fmt"
	"unicode/utf16"
)

// --------------------------------------------------------------------------
// Option Enums
// --------------------------------------------------------------------------

// CommitMode controls when mutations become durable.
type CommitMode int

const (
	CommitAuto  CommitMode = iota // every operation is committed immediately
	CommitBatch                   // mutations stay pending until Commit
)

func (m CommitMode) String() string {
	switch m {
	case CommitAuto:
		return "AUTO"
	case CommitBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// Durability controls whether commits are fsynced.
type Durability int

const (
	DurabilityAsync Durability = iota // rely on the OS to flush
	DurabilitySync                    // fsync data and header on every commit
)

func (d Durability) String() string {
	switch d {
	case DurabilityAsync:
		return "ASYNC"
	case DurabilitySync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// OnClosePolicy decides what Close does with pending BATCH changes.
type OnClosePolicy int

const (
	OnCloseError    OnClosePolicy = iota // refuse to close while changes are pending
	OnCloseCommit                        // commit pending changes
	OnCloseRollback                      // discard pending changes
)

func (p OnClosePolicy) String() string {
	switch p {
	case OnCloseError:
		return "ERROR"
	case OnCloseCommit:
		return "COMMIT"
	case OnCloseRollback:
		return "ROLLBACK"
	default:
		return "UNKNOWN"
	}
}

// FileLockMode selects inter-process locking of the store file.
type FileLockMode int

const (
	FileLockProcess FileLockMode = iota // exclusive advisory lock on the file
	FileLockNone                        // no locking
)

func (m FileLockMode) String() string {
	switch m {
	case FileLockProcess:
		return "PROCESS"
	case FileLockNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// PageSize is the size of a tree page. It is fixed when a store is created.
type PageSize int

const (
	PageSize4K  PageSize = 4096
	PageSize8K  PageSize = 8192
	PageSize16K PageSize = 16384
)

// Valid reports whether p is one of the supported page sizes.
func (p PageSize) Valid() bool {
	return p == PageSize4K || p == PageSize8K || p == PageSize16K
}

// --------------------------------------------------------------------------
// Limits
// --------------------------------------------------------------------------

const (
	MaxNameLength = 255     // maximum collection name length in UTF-16 code units
	MaxKVSize     = 1 << 20 // maximum encoded key or value size
)

// NameLength returns the length of name in UTF-16 code units, the unit
// MaxNameLength is measured in. Characters outside the basic multilingual
// plane count twice.
func NameLength(name string) int {
	n := 0
	for _, r := range name {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// ValidateName checks a collection name.
func ValidateName(name string) error {
	if name == "" {
		return NewError(RetCInvalidArgument, "collection name must not be empty")
	}
	if n := NameLength(name); n > MaxNameLength {
		return Errorf(RetCInvalidArgument, "collection name too long: %d > %d", n, MaxNameLength)
	}
	return nil
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a store.
type Options struct {
	CommitMode        CommitMode
	Durability        Durability
	OnClosePolicy     OnClosePolicy
	FileLock          FileLockMode
	PageSize          PageSize    // only used when creating a store
	CacheBytes        int64       // page cache budget, must be > 0
	MemoryLimitBytes  int64       // memory backend cap (0 = unlimited)
	AllowCodecUpgrade bool        // permit migrating collections to newer codec versions
	CodecUpgradeHook  UpgradeHook // requires AllowCodecUpgrade
}

// DefaultOptions returns the default store options
func DefaultOptions() Options {
	return Options{
		CommitMode:    CommitAuto,
		Durability:    DurabilityAsync,
		OnClosePolicy: OnCloseError,
		FileLock:      FileLockProcess,
		PageSize:      PageSize4K,
		CacheBytes:    64 << 20,
	}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if !o.PageSize.Valid() {
		return Errorf(RetCInvalidArgument, "invalid page size %d: must be 4096, 8192 or 16384", o.PageSize)
	}
	if o.CacheBytes <= 0 {
		return Errorf(RetCInvalidArgument, "cache bytes must be positive, got %d", o.CacheBytes)
	}
	if o.MemoryLimitBytes < 0 {
		return Errorf(RetCInvalidArgument, "memory limit must not be negative, got %d", o.MemoryLimitBytes)
	}
	if o.CodecUpgradeHook != nil && !o.AllowCodecUpgrade {
		return NewError(RetCInvalidArgument, "codec upgrade hook requires AllowCodecUpgrade")
	}
	switch {
	case o.CommitMode != CommitAuto && o.CommitMode != CommitBatch:
		return Errorf(RetCInvalidArgument, "invalid commit mode %d", o.CommitMode)
	case o.Durability != DurabilityAsync && o.Durability != DurabilitySync:
		return Errorf(RetCInvalidArgument, "invalid durability %d", o.Durability)
	case o.OnClosePolicy < OnCloseError || o.OnClosePolicy > OnCloseRollback:
		return Errorf(RetCInvalidArgument, "invalid on-close policy %d", o.OnClosePolicy)
	case o.FileLock != FileLockProcess && o.FileLock != FileLockNone:
		return Errorf(RetCInvalidArgument, "invalid file lock mode %d", o.FileLock)
	}
	return nil
}

func (o Options) String() string {
	return fmt.Sprintf("Options{commit=%s, durability=%s, onClose=%s, lock=%s, pageSize=%d, cache=%d}",
		o.CommitMode, o.Durability, o.OnClosePolicy, o.FileLock, o.PageSize, o.CacheBytes)
}
