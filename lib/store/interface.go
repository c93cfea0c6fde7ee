package store

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the non-generic administrative surface of a store.
// Typed collection access (maps, sets, lists, deques) is provided by the
// implementation package through generic functions, since Go methods cannot
// carry type parameters.
//
// All operations return a *Error (wrapped as error) on failure.
type IStore interface {
	// Exists reports whether a collection with the given name is live.
	Exists(name string) (ok bool, err error)
	// Drop removes a collection. Dropping an absent name is not an error and returns false.
	Drop(name string) (dropped bool, err error)
	// Rename changes the name of a collection, its id stays stable.
	Rename(oldName, newName string) (err error)
	// List returns information about all live collections ordered by name.
	List() (infos []CollectionInfo, err error)
	// Commit durably publishes all pending changes (no-op when nothing is pending).
	Commit() (err error)
	// Rollback discards all pending changes (no-op when nothing is pending).
	Rollback() (err error)
	// Stats returns usage statistics in the given mode.
	Stats(mode StatsMode) (stats Stats, err error)
	// Verify checks the structural integrity of the store. Routine findings are
	// reported in the result, only a closed store yields an error.
	Verify() (result VerifyResult, err error)
	// CompactTo writes all live data into a fresh store file at path.
	CompactTo(path string) (err error)
	// Close closes the store according to the configured OnClosePolicy.
	Close() (err error)
}

// UpgradeHook transforms bytes stored under codec version from into the
// encoding of codec version to. One hook covers the entire span.
type UpgradeHook func(codecID string, from, to int, old []byte) ([]byte, error)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and an optional cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The underlying cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("FxStoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("FxStoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with a matching code.
// RetCClosed also matches RetCIllegalState.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return e.Code == RetCClosed && t.Code == RetCIllegalState
}

// NewError creates a new error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new error with the given code and a formatted message.
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given code and message wrapping err.
// If err is already a *Error it is returned unchanged.
func Wrap(code RetCode, err error, msg string) error {
	if err == nil {
		return nil
	}
	var fxErr *Error
	if errors.As(err, &fxErr) {
		return err
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the code of err, RetCSuccess for nil and RetCInternal
// for errors that are not a *Error.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var fxErr *Error
	if errors.As(err, &fxErr) {
		return fxErr.Code
	}
	return RetCInternal
}

// Sentinel values for errors.Is comparisons.
var (
	ErrIO              = NewError(RetCIO, "i/o error")
	ErrCorruption      = NewError(RetCCorruption, "corruption")
	ErrOutOfMemory     = NewError(RetCOutOfMemory, "out of memory")
	ErrLockFailed      = NewError(RetCLockFailed, "lock failed")
	ErrClosed          = NewError(RetCClosed, "closed")
	ErrIllegalState    = NewError(RetCIllegalState, "illegal state")
	ErrNotFound        = NewError(RetCNotFound, "not found")
	ErrAlreadyExists   = NewError(RetCAlreadyExists, "already exists")
	ErrTypeMismatch    = NewError(RetCTypeMismatch, "type mismatch")
	ErrVersionMismatch = NewError(RetCVersionMismatch, "version mismatch")
	ErrCodecNotFound   = NewError(RetCCodecNotFound, "codec not found")
	ErrUpgradeFailed   = NewError(RetCUpgradeFailed, "upgrade failed")
	ErrInvalidArgument = NewError(RetCInvalidArgument, "invalid argument")
	ErrUnsupported     = NewError(RetCUnsupported, "unsupported")
	ErrInternal        = NewError(RetCInternal, "internal error")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess         RetCode = iota // 0: Operation executed successfully.
	RetCIO                             // 1: Underlying storage failed.
	RetCCorruption                     // 2: On-disk structure is damaged.
	RetCOutOfMemory                    // 3: Memory backend limit exceeded.
	RetCLockFailed                     // 4: File lock could not be acquired.
	RetCClosed                         // 5: Store or transaction is closed.
	RetCIllegalState                   // 6: Operation not allowed in the current state.
	RetCNotFound                       // 7: Collection does not exist.
	RetCAlreadyExists                  // 8: Collection name is taken.
	RetCTypeMismatch                   // 9: Kind or codec id differs from the stored one.
	RetCVersionMismatch                // 10: Unsupported format or codec version.
	RetCCodecNotFound                  // 11: No codec registered for a type.
	RetCUpgradeFailed                  // 12: Codec upgrade hook failed.
	RetCInvalidArgument                // 13: Caller passed an invalid argument.
	RetCUnsupported                    // 14: Operation is not supported.
	RetCInternal                       // 15: Unexpected internal failure.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "SUCCESS"
	case RetCIO:
		return "IO"
	case RetCCorruption:
		return "CORRUPTION"
	case RetCOutOfMemory:
		return "OUT_OF_MEMORY"
	case RetCLockFailed:
		return "LOCK_FAILED"
	case RetCClosed:
		return "CLOSED"
	case RetCIllegalState:
		return "ILLEGAL_STATE"
	case RetCNotFound:
		return "NOT_FOUND"
	case RetCAlreadyExists:
		return "ALREADY_EXISTS"
	case RetCTypeMismatch:
		return "TYPE_MISMATCH"
	case RetCVersionMismatch:
		return "VERSION_MISMATCH"
	case RetCCodecNotFound:
		return "CODEC_NOT_FOUND"
	case RetCUpgradeFailed:
		return "UPGRADE_FAILED"
	case RetCInvalidArgument:
		return "INVALID_ARGUMENT"
	case RetCUnsupported:
		return "UNSUPPORTED"
	case RetCInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}
