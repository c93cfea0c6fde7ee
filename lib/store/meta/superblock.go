// Package meta encodes the fixed-position metadata of a store file: the
// superblock at offset 0 and the two alternating commit header slots that
// follow it.
package meta

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/google/uuid"
)

const (
	// BlockSize is the size of the superblock and of each header slot.
	BlockSize = 4096

	SuperblockOffset = 0
	SlotAOffset      = BlockSize
	SlotBOffset      = 2 * BlockSize
	// DataOffset is the first byte available to the allocator.
	DataOffset = 3 * BlockSize

	FormatVersion = 1

	crcOffset = BlockSize - 4
)

var superblockMagic = [8]byte{'F', 'X', 'S', 'T', 'O', 'R', 'E', 0}

// Superblock identifies a store file. It is written once at creation.
type Superblock struct {
	FormatVersion uint32
	PageSize      uint32
	FeatureFlags  uint64
	CreatedAtMs   uint64
	StoreID       uuid.UUID
	CodecEpoch    uint64
}

// NewSuperblock creates the superblock of a new store with a fresh id.
func NewSuperblock(pageSize store.PageSize) Superblock {
	return Superblock{
		FormatVersion: FormatVersion,
		PageSize:      uint32(pageSize),
		CreatedAtMs:   uint64(time.Now().UnixMilli()),
		StoreID:       uuid.New(),
	}
}

// Encode returns the 4096-byte image of the superblock.
func (s Superblock) Encode() []byte {
	b := make([]byte, BlockSize)
	copy(b[0:8], superblockMagic[:])
	binary.LittleEndian.PutUint32(b[8:], s.FormatVersion)
	binary.LittleEndian.PutUint32(b[12:], s.PageSize)
	binary.LittleEndian.PutUint64(b[16:], s.FeatureFlags)
	binary.LittleEndian.PutUint64(b[24:], s.CreatedAtMs)
	copy(b[32:48], s.StoreID[:])
	binary.LittleEndian.PutUint64(b[48:], s.CodecEpoch)
	binary.LittleEndian.PutUint32(b[crcOffset:], crc32.ChecksumIEEE(b[:crcOffset]))
	return b
}

// DecodeSuperblock parses and validates a superblock image.
func DecodeSuperblock(b []byte) (Superblock, error) {
	if len(b) < BlockSize {
		return Superblock{}, store.Errorf(store.RetCCorruption, "superblock truncated to %d bytes", len(b))
	}
	if [8]byte(b[0:8]) != superblockMagic {
		return Superblock{}, store.NewError(store.RetCCorruption, "not a store file (bad superblock magic)")
	}
	if want, got := binary.LittleEndian.Uint32(b[crcOffset:]), crc32.ChecksumIEEE(b[:crcOffset]); want != got {
		return Superblock{}, store.Errorf(store.RetCCorruption, "superblock checksum mismatch (stored %08x, computed %08x)", want, got)
	}
	s := Superblock{
		FormatVersion: binary.LittleEndian.Uint32(b[8:]),
		PageSize:      binary.LittleEndian.Uint32(b[12:]),
		FeatureFlags:  binary.LittleEndian.Uint64(b[16:]),
		CreatedAtMs:   binary.LittleEndian.Uint64(b[24:]),
		StoreID:       uuid.UUID(b[32:48]),
		CodecEpoch:    binary.LittleEndian.Uint64(b[48:]),
	}
	if s.FormatVersion != FormatVersion {
		return Superblock{}, store.Errorf(store.RetCVersionMismatch, "unsupported format version %d (supported: %d)", s.FormatVersion, FormatVersion)
	}
	if !store.PageSize(s.PageSize).Valid() {
		return Superblock{}, store.Errorf(store.RetCCorruption, "invalid page size %d", s.PageSize)
	}
	return s, nil
}
