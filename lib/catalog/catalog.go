// Package catalog holds the metadata model of a store: the name catalog,
// the per-collection state, the codec references recorded for each
// collection, and the immutable Snapshot that ties them together.
package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/fxstore/lib/store"
)

// CodecRef identifies the byte encoding used on disk for keys or values.
type CodecRef struct {
	ID            string
	Version       int
	UpgradeHookID string // optional
}

// IsZero reports whether no codec is referenced (sets and lists have no
// key codec).
func (r CodecRef) IsZero() bool {
	return r.ID == ""
}

func (r CodecRef) String() string {
	if r.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s@v%d", r.ID, r.Version)
}

// CatalogEntry binds a collection name to its stable id.
type CatalogEntry struct {
	Name         string
	CollectionID uint64
}

// CollectionState is the per-collection metadata persisted at commit.
type CollectionState struct {
	CollectionID uint64
	Kind         store.Kind
	KeyCodec     CodecRef // zero for kinds without keys
	ValueCodec   CodecRef
	RootPageID   uint64 // 0 = empty
	Count        uint64
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

const stateEncodingVersion = 1

// CollectionKey encodes a collection id as a big-endian tree key.
func CollectionKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

// EncodeEntry encodes the value stored under the entry's name in the
// catalog tree.
func EncodeEntry(e CatalogEntry) []byte {
	return binary.BigEndian.AppendUint64(nil, e.CollectionID)
}

// DecodeEntry is the inverse of EncodeEntry.
func DecodeEntry(name string, b []byte) (CatalogEntry, error) {
	if len(b) != 8 {
		return CatalogEntry{}, store.Errorf(store.RetCCorruption, "catalog entry %q: expected 8 bytes, got %d", name, len(b))
	}
	return CatalogEntry{Name: name, CollectionID: binary.BigEndian.Uint64(b)}, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func appendCodecRef(b []byte, r CodecRef) []byte {
	b = appendString(b, r.ID)
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Version))
	return appendString(b, r.UpgradeHookID)
}

// EncodeState encodes a collection state.
func EncodeState(s CollectionState) []byte {
	b := make([]byte, 0, 64)
	b = append(b, stateEncodingVersion)
	b = binary.LittleEndian.AppendUint64(b, s.CollectionID)
	b = append(b, byte(s.Kind))
	b = binary.LittleEndian.AppendUint64(b, s.RootPageID)
	b = binary.LittleEndian.AppendUint64(b, s.Count)
	b = appendCodecRef(b, s.KeyCodec)
	return appendCodecRef(b, s.ValueCodec)
}

type decoder struct {
	b   []byte
	bad bool
}

func (d *decoder) take(n int) []byte {
	if d.bad || len(d.b) < n {
		d.bad = true
		return nil
	}
	out := d.b[:n]
	d.b = d.b[n:]
	return out
}

func (d *decoder) u8() byte {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) str() string {
	return string(d.take(int(d.u16())))
}

func (d *decoder) codecRef() CodecRef {
	return CodecRef{ID: d.str(), Version: int(d.u32()), UpgradeHookID: d.str()}
}

// DecodeState is the inverse of EncodeState.
func DecodeState(b []byte) (CollectionState, error) {
	d := &decoder{b: b}
	if v := d.u8(); v != stateEncodingVersion {
		return CollectionState{}, store.Errorf(store.RetCVersionMismatch, "collection state encoding v%d is not supported", v)
	}
	s := CollectionState{
		CollectionID: d.u64(),
		Kind:         store.Kind(d.u8()),
		RootPageID:   d.u64(),
		Count:        d.u64(),
	}
	s.KeyCodec = d.codecRef()
	s.ValueCodec = d.codecRef()
	if d.bad || len(d.b) != 0 {
		return CollectionState{}, store.NewError(store.RetCCorruption, "malformed collection state")
	}
	if !s.Kind.Valid() {
		return CollectionState{}, store.Errorf(store.RetCCorruption, "collection %d has unknown kind %d", s.CollectionID, s.Kind)
	}
	return s, nil
}
