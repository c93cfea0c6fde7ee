package util

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// HashBytes generates a hash value for a byte slice with a seed.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution.
// The result only depends on the content of b, so equal encodings hash equally.
func HashBytes(b []byte, seed uint64) uint64 {
	hash := uint64(fnvOffset64) ^ seed
	for _, c := range b {
		hash ^= uint64(c)
		hash *= fnvPrime64
	}
	return hash
}

// --------------------------------------------------------------------------
// Alignment
// --------------------------------------------------------------------------

// AlignUp rounds v up to the next multiple of align. align must be a power of two.
func AlignUp(v uint64, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
