// Package storage implements the Storage Manager from spec section 4.6:
// the ordered collection of immutable SSTables on disk, newest first,
// consulted by the Engine only after the MemTable has missed.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/atlaskv/atlaskv/internal/errs"
	"github.com/atlaskv/atlaskv/internal/sstio"
)

const (
	filePrefix = "sstable_"
	fileSuffix = ".dat"
	lsnSuffix  = ".lsn"
)

// FileName returns the on-disk file name for generation id, per spec
// section 4.6's sstable_<generation_id>.dat convention.
func FileName(generationID uint64) string {
	return fmt.Sprintf("%s%d%s", filePrefix, generationID, fileSuffix)
}

// Manager holds every SSTable currently on disk, ordered newest-generation
// first, and serves point lookups across them. Discovery is a pure
// directory scan: there is no manifest file, so the Storage Manager is
// always consistent with whatever *.dat files actually exist (spec
// section 4.6; this deliberately drops the teacher's MANIFEST file, see
// DESIGN.md).
type Manager struct {
	dir string
	log *logrus.Logger

	mu      sync.RWMutex
	tables  []*table // index 0 is the newest generation
	nextGen uint64
	maxLSN  uint64 // highest LSN known to be durably reflected in some table
}

type table struct {
	generationID uint64
	reader       *sstio.Reader
	maxLSN       uint64
}

// lsnSidecarPath returns the path of the high-water-LSN sidecar that
// travels next to an SSTable's .dat file. The sidecar records the
// highest WAL LSN whose write is reflected in that table, so that
// Engine.Open can seed next_lsn above it even after the WAL that
// originally carried those entries has been rotated away (spec section
// 3 invariant 1: LSN issuance must stay above "the highest LSN in
// recovered WAL or any SSTable ancestry", not just the WAL).
func lsnSidecarPath(dataPath string) string {
	return dataPath + lsnSuffix
}

// WriteLSNSidecar durably records maxLSN as the high-water LSN for the
// SSTable at dataPath, using the same temp-file-then-rename discipline
// as the rest of this codebase's atomic writes. Callers must invoke
// this only after dataPath itself is durable.
func WriteLSNSidecar(dataPath string, maxLSN uint64) error {
	sidecar := lsnSidecarPath(dataPath)
	tmp := sidecar + ".tmp"

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, maxLSN)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errs.Wrap("storage.WriteLSNSidecar", errs.KindIO, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap("storage.WriteLSNSidecar", errs.KindIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap("storage.WriteLSNSidecar", errs.KindIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap("storage.WriteLSNSidecar", errs.KindIO, err)
	}
	if err := os.Rename(tmp, sidecar); err != nil {
		return errs.Wrap("storage.WriteLSNSidecar", errs.KindIO, err)
	}
	if dir, derr := os.Open(filepath.Dir(dataPath)); derr == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// readLSNSidecar reads back a sidecar written by WriteLSNSidecar. A
// missing or short sidecar (an SSTable built before this mechanism
// existed, or one orphaned by a crash between the .dat rename and the
// sidecar rename) reports ok=false; callers treat that as 0, so the
// table adds nothing to MaxPersistedLSN. A table orphaned by such a
// crash is still covered by the WAL's own high-water mark, because the
// WAL is rotated only after the sidecar is written; a table that has no
// sidecar and whose WAL has since been rotated leaves its LSNs recorded
// nowhere.
func readLSNSidecar(dataPath string) (uint64, bool) {
	buf, err := os.ReadFile(lsnSidecarPath(dataPath))
	if err != nil || len(buf) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf), true
}

// Open scans dir for sstable_<n>.dat files, opens and validates each one,
// and orders them by generation id descending (newest first).
func Open(dir string, log *logrus.Logger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap("storage.Open", errs.KindIO, err)
	}

	var tables []*table
	var maxGen, maxLSN uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		gen, ok := parseGeneration(e.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, e.Name())
		r, err := sstio.Open(path)
		if err != nil {
			for _, t := range tables {
				t.reader.Close()
			}
			return nil, errs.Wrap("storage.Open", errs.KindCorruption, err)
		}
		lsn, _ := readLSNSidecar(path)
		tables = append(tables, &table{generationID: gen, reader: r, maxLSN: lsn})
		if gen > maxGen {
			maxGen = gen
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}

	sort.Slice(tables, func(i, j int) bool {
		return tables[i].generationID > tables[j].generationID
	})

	next := maxGen + 1
	if len(tables) == 0 {
		next = 1
	}

	log.WithFields(logrus.Fields{"dir": dir, "sstables": len(tables)}).Debug("storage manager opened")

	return &Manager{dir: dir, log: log, tables: tables, nextGen: next, maxLSN: maxLSN}, nil
}

func parseGeneration(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	gen, err := strconv.ParseUint(middle, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// NextGenerationID allocates the next generation id to use for a new
// SSTable build.
func (m *Manager) NextGenerationID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextGen
	m.nextGen++
	return id
}

// Get searches every SSTable from newest to oldest generation, stopping
// at the first table that has an entry for key (spec section 4.6's
// newest-wins precedence, invariant 4 from spec section 3).
func (m *Manager) Get(key []byte) (value []byte, tombstone bool, ok bool, err error) {
	m.mu.RLock()
	tables := m.tables
	m.mu.RUnlock()

	for _, t := range tables {
		if !t.reader.InRange(key) {
			continue
		}
		value, tombstone, ok, err = t.reader.Get(key)
		if err != nil {
			return nil, false, false, err
		}
		if ok {
			return value, tombstone, true, nil
		}
	}
	return nil, false, false, nil
}

// AddNewest registers a freshly built SSTable as the newest generation.
// maxLSN is the high-water WAL LSN already durably reflected in r, from
// its sidecar file (0 if the caller has none to report). The caller
// must have already fsynced the table, its LSN sidecar, and the parent
// directory; AddNewest only updates in-memory bookkeeping.
func (m *Manager) AddNewest(generationID uint64, r *sstio.Reader, maxLSN uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables = append([]*table{{generationID: generationID, reader: r, maxLSN: maxLSN}}, m.tables...)
	if generationID >= m.nextGen {
		m.nextGen = generationID + 1
	}
	if maxLSN > m.maxLSN {
		m.maxLSN = maxLSN
	}
}

// MaxPersistedLSN returns the highest WAL LSN known to be durably
// reflected in some SSTable, or 0 if no table has reported one. Engine
// startup combines this with the WAL's own recovered high-water mark so
// that next_lsn never regresses across a flush that has already rotated
// the WAL that originally carried those entries.
func (m *Manager) MaxPersistedLSN() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxLSN
}

// Count returns the number of SSTables currently tracked.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

// Dir returns the data directory this Manager was opened against.
func (m *Manager) Dir() string { return m.dir }

// Close closes every open SSTable reader.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, t := range m.tables {
		if err := t.reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
