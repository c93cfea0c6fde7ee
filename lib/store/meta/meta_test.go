package meta

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/stretchr/testify/require"
)

func TestSuperblock(t *testing.T) {
	sb := NewSuperblock(store.PageSize8K)
	sb.CodecEpoch = 3

	got, err := DecodeSuperblock(sb.Encode())
	require.NoError(t, err)
	require.Equal(t, sb, got)
	require.NotEqual(t, NewSuperblock(store.PageSize8K).StoreID, sb.StoreID)

	t.Run("BadMagic", func(t *testing.T) {
		b := sb.Encode()
		b[0] = 'X'
		_, err := DecodeSuperblock(b)
		require.True(t, errors.Is(err, store.ErrCorruption))
	})

	t.Run("BadChecksum", func(t *testing.T) {
		b := sb.Encode()
		b[100] ^= 0xff
		_, err := DecodeSuperblock(b)
		require.True(t, errors.Is(err, store.ErrCorruption))
	})

	t.Run("FutureVersion", func(t *testing.T) {
		future := sb
		future.FormatVersion = 2
		_, err := DecodeSuperblock(future.Encode())
		require.True(t, errors.Is(err, store.ErrVersionMismatch))
	})

	t.Run("InvalidPageSize", func(t *testing.T) {
		odd := sb
		odd.PageSize = 1000
		_, err := DecodeSuperblock(odd.Encode())
		require.True(t, errors.Is(err, store.ErrCorruption))
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := DecodeSuperblock(sb.Encode()[:100])
		require.True(t, errors.Is(err, store.ErrCorruption))
	})
}

func TestHeaderEncoding(t *testing.T) {
	for _, h := range []CommitHeader{
		{},
		{
			SeqNo:             math.MaxUint64,
			CommittedFlags:    FlagSync,
			AllocTail:         math.MaxUint64,
			CatalogRootPageID: math.MaxUint64,
			StateRootPageID:   math.MaxUint64,
			NextCollectionID:  math.MaxUint64,
			CommitEpochMs:     math.MaxUint64,
		},
	} {
		b := h.Encode()
		require.Len(t, b, BlockSize)
		got, err := DecodeHeader(b)
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
}

func TestHeaderVerify(t *testing.T) {
	h := CommitHeader{SeqNo: 5, AllocTail: DataOffset}

	// only the version is wrong, the checksum matches
	b := h.Encode()
	binary.LittleEndian.PutUint32(b[8:], 2)
	binary.LittleEndian.PutUint32(b[crcOffset:], crc32.ChecksumIEEE(b[:crcOffset]))
	require.True(t, errors.Is(VerifyHeader(b), store.ErrVersionMismatch))

	b = h.Encode()
	b[0] = 'Y'
	require.True(t, errors.Is(VerifyHeader(b), store.ErrCorruption))

	// every single bit flip in the covered range is detected
	for _, off := range []int{16, 40, 64, 1000, crcOffset - 1, crcOffset} {
		b = h.Encode()
		b[off] ^= 0x01
		require.True(t, errors.Is(VerifyHeader(b), store.ErrCorruption), "flip at %d", off)
	}
}

func TestSlotFor(t *testing.T) {
	require.Equal(t, SlotA, SlotFor(0))
	require.Equal(t, SlotB, SlotFor(1))
	require.Equal(t, SlotA, SlotFor(2))
	require.Equal(t, int64(SlotAOffset), SlotA.Offset())
	require.Equal(t, int64(SlotBOffset), SlotB.Offset())
}

func TestSelectHeader(t *testing.T) {
	valid := func(seq uint64) []byte { return CommitHeader{SeqNo: seq}.Encode() }
	corrupt := func(seq uint64) []byte {
		b := valid(seq)
		b[20] ^= 0xff
		return b
	}
	blank := make([]byte, BlockSize)

	t.Run("HigherSeqWins", func(t *testing.T) {
		sel, err := SelectHeader(valid(4), valid(5))
		require.NoError(t, err)
		require.Equal(t, SlotB, sel.Slot)
		require.Equal(t, uint64(5), sel.Header.SeqNo)

		sel, err = SelectHeader(valid(6), valid(5))
		require.NoError(t, err)
		require.Equal(t, SlotA, sel.Slot)
		require.False(t, sel.Fallback)
	})

	t.Run("TiePrefersA", func(t *testing.T) {
		sel, err := SelectHeader(valid(3), valid(3))
		require.NoError(t, err)
		require.Equal(t, SlotA, sel.Slot)
	})

	t.Run("CorruptNewerFallsBack", func(t *testing.T) {
		sel, err := SelectHeader(valid(4), corrupt(5))
		require.NoError(t, err)
		require.Equal(t, SlotA, sel.Slot)
		require.Equal(t, uint64(4), sel.Header.SeqNo)
		require.True(t, sel.Fallback)
		require.Error(t, sel.OtherErr)

		sel, err = SelectHeader(corrupt(6), valid(5))
		require.NoError(t, err)
		require.Equal(t, SlotB, sel.Slot)
		require.True(t, sel.Fallback)
	})

	t.Run("BlankSlotIsNotAFallback", func(t *testing.T) {
		sel, err := SelectHeader(valid(0), blank)
		require.NoError(t, err)
		require.Equal(t, SlotA, sel.Slot)
		require.False(t, sel.Fallback)
	})

	t.Run("BothInvalid", func(t *testing.T) {
		_, err := SelectHeader(corrupt(1), corrupt(2))
		require.True(t, errors.Is(err, store.ErrCorruption))

		_, err = SelectHeader(blank, blank)
		require.True(t, errors.Is(err, store.ErrCorruption))
	})
}
