// Package store defines the shared vocabulary of the fxstore engine: the
// IStore administrative interface, the Error type with its return codes,
// the Options a store is opened with and the result types of Stats, Verify
// and List.
//
// The package has no dependencies on the engine itself so that the lower
// layers (codec, storage, btree, ost, catalog) can report failures with the
// same error codes the engine surfaces to callers.
//
// Error handling:
//
//	m, err := fxstore.OpenMap[string, int64](s, "users")
//	if errors.Is(err, store.ErrNotFound) {
//	    // create it
//	}
//
// Every *Error carries a RetCode; errors.Is matches on the code, so the
// exported sentinels (ErrNotFound, ErrTypeMismatch, ...) can be used as
// targets. CodeOf extracts the code from any error.
//
// The implementation lives in the fxstore subpackage.
package store
