package store

import "fmt"

// --------------------------------------------------------------------------
// Collection Kinds
// --------------------------------------------------------------------------

// Kind identifies the structure of a collection.
type Kind uint8

const (
	KindMap Kind = iota + 1
	KindSet
	KindList
	KindDeque
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "MAP"
	case KindSet:
		return "SET"
	case KindList:
		return "LIST"
	case KindDeque:
		return "DEQUE"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) Valid() bool {
	return k >= KindMap && k <= KindDeque
}

// Ordered reports whether the collection is backed by the ordered key tree
// (maps and sets) rather than the order-statistics tree.
func (k Kind) Ordered() bool {
	return k == KindMap || k == KindSet
}

// CollectionInfo describes a live collection.
type CollectionInfo struct {
	Name         string `json:"name"`
	ID           uint64 `json:"id"`
	Kind         Kind   `json:"kind"`
	KeyCodec     string `json:"key_codec,omitempty"` // codec id, empty for lists/deques
	ValueCodec   string `json:"value_codec"`
	KeyVersion   int    `json:"key_version,omitempty"`
	ValueVersion int    `json:"value_version"`
	Count        uint64 `json:"count"`
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// StatsMode selects how statistics are computed.
type StatsMode int

const (
	StatsFast StatsMode = iota // metadata only
	StatsDeep                  // walk every reachable page
)

func (m StatsMode) String() string {
	if m == StatsDeep {
		return "DEEP"
	}
	return "FAST"
}

// Stats describes the space usage of a store.
// All byte values except FileBytes are estimates in FAST mode.
type Stats struct {
	Mode              StatsMode `json:"mode"`
	FileBytes         int64     `json:"file_bytes"`
	LiveBytesEstimate int64     `json:"live_bytes_estimate"`
	DeadBytesEstimate int64     `json:"dead_bytes_estimate"`
	DeadRatio         float64   `json:"dead_ratio"`
	CollectionCount   int       `json:"collection_count"`

	// DEEP only
	PageCount        int64   `json:"page_count,omitempty"`
	RecordCount      int64   `json:"record_count,omitempty"`
	MedianRecordSize int     `json:"median_record_size,omitempty"`
	PageFillP50      float64 `json:"page_fill_p50,omitempty"`
	PageFillP90      float64 `json:"page_fill_p90,omitempty"`
}

// --------------------------------------------------------------------------
// Verification
// --------------------------------------------------------------------------

// VerifyErrorKind classifies a verification finding.
type VerifyErrorKind int

const (
	VerifySuperblock VerifyErrorKind = iota
	VerifyHeader
	VerifyPage
	VerifyRecord
	VerifyBTree
	VerifyOST
	VerifyCatalog
)

func (k VerifyErrorKind) String() string {
	switch k {
	case VerifySuperblock:
		return "SUPERBLOCK"
	case VerifyHeader:
		return "HEADER"
	case VerifyPage:
		return "PAGE"
	case VerifyRecord:
		return "RECORD"
	case VerifyBTree:
		return "BTREE"
	case VerifyOST:
		return "OST"
	case VerifyCatalog:
		return "CATALOG"
	default:
		return "UNKNOWN"
	}
}

// VerifyError is a single verification finding.
type VerifyError struct {
	Kind       VerifyErrorKind `json:"kind"`
	FileOffset int64           `json:"file_offset"` // -1 if not applicable
	ObjectID   uint64          `json:"object_id"`   // page id, collection id or 0
	Message    string          `json:"message"`
}

func (e VerifyError) String() string {
	return fmt.Sprintf("[%s] offset=%d object=%d: %s", e.Kind, e.FileOffset, e.ObjectID, e.Message)
}

// VerifyResult is the outcome of a verification run.
type VerifyResult struct {
	Errors []VerifyError `json:"errors"`
}

// OK reports whether verification found no problems.
func (r VerifyResult) OK() bool {
	return len(r.Errors) == 0
}
