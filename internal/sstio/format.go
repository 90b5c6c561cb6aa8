// Package sstio implements the SSTable Builder and Reader from spec
// sections 4.4 and 4.5: an immutable, sorted, checksummed on-disk table
// with an in-memory index for point lookup by key.
//
// This adopts the 14-byte-header-plus-index-block variant the spec
// calls out in its "Open question (from source)" note, grounded on the
// teacher's own (unused) internal/sstable/block.go, which already
// defined a BlockIndex/Footer pair with this shape but was never wired
// into the teacher's Writer/Reader.
package sstio

import (
	"encoding/binary"

	"github.com/atlaskv/atlaskv/internal/errs"
)

const (
	magic        = "ATKV"
	formatVersion uint16 = 1

	headerSize = 14 // MAGIC(4) + VERSION(2) + COUNT(8)
	footerSize = 16 // index_offset(8) + data_crc32(4) + padding(4)

	// tombstoneValLen is the val_len sentinel marking a deleted key in
	// the data block (spec section 4.4).
	tombstoneValLen uint32 = 0xFFFFFFFF
)

// header is the bit-exact 14-byte file prefix from spec section 4.4.
type header struct {
	Version uint16
	Count   uint64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint64(buf[6:14], h.Count)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize || string(buf[0:4]) != magic {
		return header{}, errs.Wrap("sstio.decodeHeader", errs.KindCorruption, errs.ErrCorruption)
	}
	v := binary.LittleEndian.Uint16(buf[4:6])
	if v != formatVersion {
		return header{}, errs.Wrap("sstio.decodeHeader", errs.KindCorruption, errs.ErrCorruption)
	}
	return header{
		Version: v,
		Count:   binary.LittleEndian.Uint64(buf[6:14]),
	}, nil
}

// footer is the bit-exact 16-byte file suffix from spec section 4.4.
type footer struct {
	IndexOffset uint64
	DataCRC32   uint32
}

func encodeFooter(f footer) []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.IndexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], f.DataCRC32)
	// buf[12:16] stays zero padding.
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) < footerSize {
		return footer{}, errs.Wrap("sstio.decodeFooter", errs.KindCorruption, errs.ErrCorruption)
	}
	return footer{
		IndexOffset: binary.LittleEndian.Uint64(buf[0:8]),
		DataCRC32:   binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// indexEntry maps a key to the absolute file offset of its data-block
// record (spec section 4.4's index block).
type indexEntry struct {
	key    []byte
	offset uint64
}
