package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ValentinKolb/fxstore/lib/store"
)

// Page layout (little endian):
//
//	0   magic "FXPG"
//	4   type      u16
//	6   level     u16
//	8   count     u16
//	10  reserved  u16
//	12  crc32     u32 over bytes 16..pageSize
//	16  pageId    u64
//	24  aux       u64 (subtree count for OST pages)
//	32  payload
const (
	PageHeaderSize = 32

	offPageType  = 4
	offPageLevel = 6
	offPageCount = 8
	offPageCRC   = 12
	offPageID    = 16
	offPageAux   = 24

	// RecordHeaderSize is the size of the [len u32][crc u32] record prefix.
	RecordHeaderSize = 8
	// RecordAlign is the alignment of record offsets.
	RecordAlign = 8
)

var pageMagic = [4]byte{'F', 'X', 'P', 'G'}

// PageType identifies the node kind stored in a page.
type PageType uint16

const (
	PageBTreeInternal PageType = 1
	PageBTreeLeaf     PageType = 2
	PageOSTInternal   PageType = 3
	PageOSTLeaf       PageType = 4
)

func (t PageType) String() string {
	switch t {
	case PageBTreeInternal:
		return "btree-internal"
	case PageBTreeLeaf:
		return "btree-leaf"
	case PageOSTInternal:
		return "ost-internal"
	case PageOSTLeaf:
		return "ost-leaf"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known page type.
func (t PageType) Valid() bool {
	return t >= PageBTreeInternal && t <= PageOSTLeaf
}

// PageHeader is the decoded fixed prefix of every page.
type PageHeader struct {
	Type  PageType
	Level uint16
	Count uint16
	ID    uint64
	Aux   uint64
}

// NewPage returns a zeroed page buffer with h written to its header.
func NewPage(pageSize int, h PageHeader) []byte {
	page := make([]byte, pageSize)
	PutHeader(page, h)
	return page
}

// PutHeader writes h into page (the checksum is left untouched).
func PutHeader(page []byte, h PageHeader) {
	copy(page[0:4], pageMagic[:])
	binary.LittleEndian.PutUint16(page[offPageType:], uint16(h.Type))
	binary.LittleEndian.PutUint16(page[offPageLevel:], h.Level)
	binary.LittleEndian.PutUint16(page[offPageCount:], h.Count)
	binary.LittleEndian.PutUint64(page[offPageID:], h.ID)
	binary.LittleEndian.PutUint64(page[offPageAux:], h.Aux)
}

// ReadHeader decodes the header of page. It only checks the magic.
func ReadHeader(page []byte) (PageHeader, error) {
	if len(page) < PageHeaderSize || [4]byte(page[0:4]) != pageMagic {
		return PageHeader{}, store.NewError(store.RetCCorruption, "bad page magic")
	}
	return PageHeader{
		Type:  PageType(binary.LittleEndian.Uint16(page[offPageType:])),
		Level: binary.LittleEndian.Uint16(page[offPageLevel:]),
		Count: binary.LittleEndian.Uint16(page[offPageCount:]),
		ID:    binary.LittleEndian.Uint64(page[offPageID:]),
		Aux:   binary.LittleEndian.Uint64(page[offPageAux:]),
	}, nil
}

// SealPage computes and stores the page checksum.
func SealPage(page []byte) {
	binary.LittleEndian.PutUint32(page[offPageCRC:], crc32.ChecksumIEEE(page[offPageID:]))
}

// CheckPage validates magic, checksum, type and the self-referencing id of a
// page read from slot id.
func CheckPage(page []byte, id uint64) error {
	h, err := ReadHeader(page)
	if err != nil {
		return store.Errorf(store.RetCCorruption, "page %d: bad magic", id)
	}
	want := binary.LittleEndian.Uint32(page[offPageCRC:])
	if got := crc32.ChecksumIEEE(page[offPageID:]); got != want {
		return store.Errorf(store.RetCCorruption, "page %d: checksum mismatch (stored %08x, computed %08x)", id, want, got)
	}
	if !h.Type.Valid() {
		return store.Errorf(store.RetCCorruption, "page %d: unknown page type %d", id, h.Type)
	}
	if h.ID != id {
		return store.Errorf(store.RetCCorruption, "page %d: header claims id %d", id, h.ID)
	}
	return nil
}

// PayloadSize returns the bytes available after the page header.
func PayloadSize(pageSize int) int {
	return pageSize - PageHeaderSize
}

// EncodeRecord frames data as [len u32][crc u32][data].
func EncodeRecord(data []byte) []byte {
	buf := make([]byte, RecordHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[4:], crc32.ChecksumIEEE(data))
	copy(buf[RecordHeaderSize:], data)
	return buf
}
