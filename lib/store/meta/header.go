package meta

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ValentinKolb/fxstore/lib/store"
)

const HeaderVersion = 1

// FlagSync marks a commit written with synchronous durability.
const FlagSync uint64 = 1 << 0

var headerMagic = [8]byte{'F', 'X', 'H', 'D', 'R', 0, 0, 0}

// Slot names one of the two commit header locations.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	if s == SlotB {
		return "B"
	}
	return "A"
}

// Offset returns the file offset of the slot.
func (s Slot) Offset() int64 {
	if s == SlotB {
		return SlotBOffset
	}
	return SlotAOffset
}

// SlotFor returns the slot a commit with sequence number seq is written to.
// Consecutive commits alternate, so the previous commit stays intact.
func SlotFor(seq uint64) Slot {
	if seq%2 == 0 {
		return SlotA
	}
	return SlotB
}

// CommitHeader publishes the roots of one committed snapshot.
type CommitHeader struct {
	SeqNo             uint64
	CommittedFlags    uint64
	AllocTail         uint64
	CatalogRootPageID uint64
	StateRootPageID   uint64
	NextCollectionID  uint64
	CommitEpochMs     uint64
}

// Encode returns the 4096-byte image of the header including its checksum.
func (h CommitHeader) Encode() []byte {
	b := make([]byte, BlockSize)
	copy(b[0:8], headerMagic[:])
	binary.LittleEndian.PutUint32(b[8:], HeaderVersion)
	binary.LittleEndian.PutUint64(b[16:], h.SeqNo)
	binary.LittleEndian.PutUint64(b[24:], h.CommittedFlags)
	binary.LittleEndian.PutUint64(b[32:], h.AllocTail)
	binary.LittleEndian.PutUint64(b[40:], h.CatalogRootPageID)
	binary.LittleEndian.PutUint64(b[48:], h.StateRootPageID)
	binary.LittleEndian.PutUint64(b[56:], h.NextCollectionID)
	binary.LittleEndian.PutUint64(b[64:], h.CommitEpochMs)
	binary.LittleEndian.PutUint32(b[crcOffset:], crc32.ChecksumIEEE(b[:crcOffset]))
	return b
}

// IsBlank reports whether b is an all-zero (never written) slot.
func IsBlank(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// VerifyHeader checks magic, checksum and version of a slot image.
func VerifyHeader(b []byte) error {
	if len(b) < BlockSize {
		return store.Errorf(store.RetCCorruption, "commit header truncated to %d bytes", len(b))
	}
	if [8]byte(b[0:8]) != headerMagic {
		return store.NewError(store.RetCCorruption, "bad commit header magic")
	}
	if want, got := binary.LittleEndian.Uint32(b[crcOffset:]), crc32.ChecksumIEEE(b[:crcOffset]); want != got {
		return store.Errorf(store.RetCCorruption, "commit header checksum mismatch (stored %08x, computed %08x)", want, got)
	}
	if v := binary.LittleEndian.Uint32(b[8:]); v != HeaderVersion {
		return store.Errorf(store.RetCVersionMismatch, "unsupported commit header version %d", v)
	}
	return nil
}

// DecodeHeader verifies and parses a slot image.
func DecodeHeader(b []byte) (CommitHeader, error) {
	if err := VerifyHeader(b); err != nil {
		return CommitHeader{}, err
	}
	return CommitHeader{
		SeqNo:             binary.LittleEndian.Uint64(b[16:]),
		CommittedFlags:    binary.LittleEndian.Uint64(b[24:]),
		AllocTail:         binary.LittleEndian.Uint64(b[32:]),
		CatalogRootPageID: binary.LittleEndian.Uint64(b[40:]),
		StateRootPageID:   binary.LittleEndian.Uint64(b[48:]),
		NextCollectionID:  binary.LittleEndian.Uint64(b[56:]),
		CommitEpochMs:     binary.LittleEndian.Uint64(b[64:]),
	}, nil
}

// Selection is the outcome of SelectHeader.
type Selection struct {
	Header CommitHeader
	Slot   Slot
	// Fallback is set when the other slot was written but failed
	// verification.
	Fallback bool
	// OtherErr is the verification error of the slot not selected, if any.
	OtherErr error
}

// SelectHeader picks the valid slot with the higher sequence number,
// preferring slot A on a tie. It fails with RetCCorruption only if neither
// slot verifies.
func SelectHeader(slotA, slotB []byte) (Selection, error) {
	a, errA := DecodeHeader(slotA)
	b, errB := DecodeHeader(slotB)

	switch {
	case errA == nil && errB == nil:
		if b.SeqNo > a.SeqNo {
			return Selection{Header: b, Slot: SlotB}, nil
		}
		return Selection{Header: a, Slot: SlotA}, nil
	case errA == nil:
		return Selection{Header: a, Slot: SlotA, Fallback: !IsBlank(slotB), OtherErr: errB}, nil
	case errB == nil:
		return Selection{Header: b, Slot: SlotB, Fallback: !IsBlank(slotA), OtherErr: errA}, nil
	default:
		return Selection{}, &store.Error{
			Code: store.RetCCorruption,
			Msg:  "both commit header slots are invalid (slot A: " + errA.Error() + ")",
			Err:  errB,
		}
	}
}
