package codec

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Descriptor is the type-erased part of a codec. The engine only needs this
// part: it compares, hashes and identifies encoded bytes without decoding.
type Descriptor interface {
	// ID is the stable identifier of the byte encoding (e.g. "fx:i64").
	// Two codecs are compatible only if their ids are equal.
	ID() string
	// Version of the byte encoding. A higher version registered for a
	// type triggers the upgrade path for collections written earlier.
	Version() int
	// CompareBytes orders two encodings. It must agree with the logical
	// ordering of the decoded values.
	CompareBytes(a, b []byte) int
	// EqualsBytes reports whether two encodings denote the same value.
	EqualsBytes(a, b []byte) bool
	// HashBytes hashes an encoding consistently with EqualsBytes.
	HashBytes(b []byte) uint64
}

// Codec is a reversible encoder for values of type T.
type Codec[T any] interface {
	Descriptor
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}
