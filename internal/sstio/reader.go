package sstio

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"sort"
	"sync"

	"github.com/atlaskv/atlaskv/internal/errs"
)

// Reader is an open, validated SSTable. Lookups use an in-memory sorted
// index plus os.File.ReadAt, so concurrent Get calls on the same Reader
// never block each other (no Seek+Read cursor to serialize around),
// grounded on the teacher's sstable.Iterator, which already used ReadAt
// for its record-at-a-time scans instead of Seek.
type Reader struct {
	path  string
	file  *os.File
	count uint64
	index []indexEntry // sorted ascending by key

	closeOnce sync.Once
}

// Open validates an SSTable's header and footer, eagerly recomputes the
// data block's CRC32 against the value recorded in the footer (spec
// section 4.5), and loads the index block into memory.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap("sstio.Open", errs.KindIO, err)
	}

	r, err := openFile(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openFile(path string, f *os.File) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap("sstio.Open", errs.KindIO, err)
	}
	size := info.Size()
	if size < int64(headerSize+footerSize) {
		return nil, errs.Wrap("sstio.Open", errs.KindCorruption, errs.ErrCorruption)
	}

	hbuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hbuf, 0); err != nil {
		return nil, errs.Wrap("sstio.Open", errs.KindIO, err)
	}
	hdr, err := decodeHeader(hbuf)
	if err != nil {
		return nil, err
	}

	fbuf := make([]byte, footerSize)
	if _, err := f.ReadAt(fbuf, size-int64(footerSize)); err != nil {
		return nil, errs.Wrap("sstio.Open", errs.KindIO, err)
	}
	ftr, err := decodeFooter(fbuf)
	if err != nil {
		return nil, err
	}

	if ftr.IndexOffset < uint64(headerSize) || ftr.IndexOffset > uint64(size-int64(footerSize)) {
		return nil, errs.Wrap("sstio.Open", errs.KindCorruption, errs.ErrCorruption)
	}

	dataLen := int64(ftr.IndexOffset) - int64(headerSize)
	dataBuf := make([]byte, dataLen)
	if _, err := f.ReadAt(dataBuf, int64(headerSize)); err != nil {
		return nil, errs.Wrap("sstio.Open", errs.KindIO, err)
	}
	if crc32.ChecksumIEEE(dataBuf) != ftr.DataCRC32 {
		return nil, errs.Wrap("sstio.Open", errs.KindCorruption, errs.ErrCorruption)
	}

	indexLen := size - int64(footerSize) - int64(ftr.IndexOffset)
	indexBuf := make([]byte, indexLen)
	if _, err := f.ReadAt(indexBuf, int64(ftr.IndexOffset)); err != nil {
		return nil, errs.Wrap("sstio.Open", errs.KindIO, err)
	}

	index, err := decodeIndex(indexBuf, hdr.Count)
	if err != nil {
		return nil, err
	}

	return &Reader{path: path, file: f, count: hdr.Count, index: index}, nil
}

func decodeIndex(buf []byte, count uint64) ([]indexEntry, error) {
	entries := make([]indexEntry, 0, count)
	pos := 0
	for pos < len(buf) {
		if pos+12 > len(buf) {
			return nil, errs.Wrap("sstio.decodeIndex", errs.KindCorruption, errs.ErrCorruption)
		}
		klen := binary.LittleEndian.Uint32(buf[pos : pos+4])
		offset := binary.LittleEndian.Uint64(buf[pos+4 : pos+12])
		pos += 12
		if pos+int(klen) > len(buf) {
			return nil, errs.Wrap("sstio.decodeIndex", errs.KindCorruption, errs.ErrCorruption)
		}
		key := make([]byte, klen)
		copy(key, buf[pos:pos+int(klen)])
		pos += int(klen)
		entries = append(entries, indexEntry{key: key, offset: offset})
	}
	if uint64(len(entries)) != count {
		return nil, errs.Wrap("sstio.decodeIndex", errs.KindCorruption, errs.ErrCorruption)
	}
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].key, entries[i].key) >= 0 {
			return nil, errs.Wrap("sstio.decodeIndex", errs.KindCorruption, errs.ErrCorruption)
		}
	}
	return entries, nil
}

// MinKey returns the smallest key in the table, or nil if the table is
// empty.
func (r *Reader) MinKey() []byte {
	if len(r.index) == 0 {
		return nil
	}
	return r.index[0].key
}

// MaxKey returns the largest key in the table, or nil if the table is
// empty.
func (r *Reader) MaxKey() []byte {
	if len(r.index) == 0 {
		return nil
	}
	return r.index[len(r.index)-1].key
}

// InRange reports whether key could possibly be present, using the
// table's min/max bounds as a cheap prefilter before the binary search
// and disk read (spec section 4.5).
func (r *Reader) InRange(key []byte) bool {
	if len(r.index) == 0 {
		return false
	}
	return bytes.Compare(key, r.index[0].key) >= 0 && bytes.Compare(key, r.index[len(r.index)-1].key) <= 0
}

// Get looks up key via binary search over the in-memory index followed
// by a single positioned read of the data record. ok is false if the
// key is absent from this table; tombstone is true if the key is
// present but marked deleted.
func (r *Reader) Get(key []byte) (value []byte, tombstone bool, ok bool, err error) {
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].key, key) >= 0
	})
	if i >= len(r.index) || !bytes.Equal(r.index[i].key, key) {
		return nil, false, false, nil
	}

	head := make([]byte, 8)
	if _, err := r.file.ReadAt(head, int64(r.index[i].offset)); err != nil {
		return nil, false, false, errs.Wrap("sstio.Get", errs.KindIO, err)
	}
	klen := binary.LittleEndian.Uint32(head[0:4])
	vlen := binary.LittleEndian.Uint32(head[4:8])

	if vlen == tombstoneValLen {
		return nil, true, true, nil
	}

	rest := make([]byte, int64(klen)+int64(vlen))
	if _, err := r.file.ReadAt(rest, int64(r.index[i].offset)+8); err != nil {
		return nil, false, false, errs.Wrap("sstio.Get", errs.KindIO, err)
	}
	value = make([]byte, vlen)
	copy(value, rest[klen:])
	return value, false, true, nil
}

// Count returns the number of entries (including tombstones) in the
// table.
func (r *Reader) Count() uint64 { return r.count }

// Path returns the filesystem path this Reader was opened from.
func (r *Reader) Path() string { return r.path }

// Close releases the underlying file descriptor. Safe to call more
// than once.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.file.Close()
	})
	if err != nil {
		return errs.Wrap("sstio.Close", errs.KindIO, err)
	}
	return nil
}

// Iterator performs a full ascending scan of the table, used by tests
// and by any future range-scan support (explicitly out of scope today).
type Iterator struct {
	r   *Reader
	pos int
}

// NewIterator returns a full-scan iterator positioned before the first
// entry.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, pos: -1}
}

func (it *Iterator) Next() bool {
	it.pos++
	return it.pos < len(it.r.index)
}

func (it *Iterator) Key() []byte { return it.r.index[it.pos].key }

func (it *Iterator) Value() (value []byte, tombstone bool, err error) {
	value, tombstone, _, err = it.r.Get(it.r.index[it.pos].key)
	return value, tombstone, err
}
