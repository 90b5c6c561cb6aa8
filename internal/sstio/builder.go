package sstio

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/atlaskv/atlaskv/internal/errs"
	"github.com/atlaskv/atlaskv/internal/utils"
)

// Source is a sorted, ascending-key sequence of entries to build an
// SSTable from. memtable.Iterator satisfies this interface.
type Source interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Tombstone() bool
	Next()
}

// Build writes src (known to contain count entries, in strictly
// ascending key order) to a new SSTable at finalPath, per the atomicity
// discipline in spec section 4.4: build to a temporary path, fsync,
// rename into place, then fsync the parent directory. Any failure
// aborts the build and removes the temporary file.
func Build(finalPath string, src Source, count uint64) (err error) {
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errs.Wrap("sstio.Build", errs.KindIO, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(encodeHeader(header{Version: formatVersion, Count: count})); err != nil {
		return errs.Wrap("sstio.Build", errs.KindIO, err)
	}

	dataCRC := crc32.NewIEEE()
	pos := int64(headerSize)
	entries := make([]indexEntry, 0, count)

	for src.Valid() {
		key := src.Key()
		tomb := src.Tombstone()

		var vlen uint32
		var value []byte
		if tomb {
			vlen = tombstoneValLen
		} else {
			value = src.Value()
			vlen = uint32(len(value))
		}

		rec := make([]byte, 8+len(key)+len(value))
		binary.LittleEndian.PutUint32(rec[0:4], uint32(len(key)))
		binary.LittleEndian.PutUint32(rec[4:8], vlen)
		copy(rec[8:8+len(key)], key)
		if !tomb {
			copy(rec[8+len(key):], value)
		}

		if _, err = f.Write(rec); err != nil {
			return errs.Wrap("sstio.Build", errs.KindIO, err)
		}
		dataCRC.Write(rec)

		entries = append(entries, indexEntry{key: utils.CopyBytes(key), offset: uint64(pos)})
		pos += int64(len(rec))

		src.Next()
	}

	indexOffset := pos
	for _, e := range entries {
		head := make([]byte, 12)
		binary.LittleEndian.PutUint32(head[0:4], uint32(len(e.key)))
		binary.LittleEndian.PutUint64(head[4:12], e.offset)
		if _, err = f.Write(head); err != nil {
			return errs.Wrap("sstio.Build", errs.KindIO, err)
		}
		if _, err = f.Write(e.key); err != nil {
			return errs.Wrap("sstio.Build", errs.KindIO, err)
		}
		pos += int64(12 + len(e.key))
	}

	foot := encodeFooter(footer{IndexOffset: uint64(indexOffset), DataCRC32: dataCRC.Sum32()})
	if _, err = f.Write(foot); err != nil {
		return errs.Wrap("sstio.Build", errs.KindIO, err)
	}

	if err = f.Sync(); err != nil {
		return errs.Wrap("sstio.Build", errs.KindIO, err)
	}
	if err = f.Close(); err != nil {
		return errs.Wrap("sstio.Build", errs.KindIO, err)
	}
	if err = os.Rename(tmpPath, finalPath); err != nil {
		return errs.Wrap("sstio.Build", errs.KindIO, err)
	}

	if dir, derr := os.Open(filepath.Dir(finalPath)); derr == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}
