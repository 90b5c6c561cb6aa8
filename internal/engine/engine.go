// Package engine implements the Engine coordinator from spec section 4.7:
// the single entry point that owns the WAL, the MemTable, and the
// Storage Manager, and sequences writes, reads, flushes, and startup
// recovery.
package engine

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/atlaskv/atlaskv/internal/errs"
	"github.com/atlaskv/atlaskv/internal/memtable"
	"github.com/atlaskv/atlaskv/internal/sstio"
	"github.com/atlaskv/atlaskv/internal/storage"
	"github.com/atlaskv/atlaskv/internal/walio"
)

const walFileName = "wal.log"

// Engine is the coordinator described in spec section 4.7. All exported
// methods are safe for concurrent use.
type Engine struct {
	cfg Config
	log *logrus.Logger

	writeMu sync.Mutex // the single-writer token (spec section 9)
	nextLSN uint64     // read and advanced only under writeMu

	wal *walio.Writer
	mt  *memtable.Memtable
	sm  *storage.Manager

	closed atomic.Bool
}

// Open performs the startup sequence in spec section 4.7.1: create the
// data directory if absent, open the Storage Manager, recover the WAL
// into a fresh MemTable, then reopen the WAL for append.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errs.Wrap("engine.Open", errs.KindIO, err)
	}

	sm, err := storage.Open(cfg.DataDir, cfg.Logger)
	if err != nil {
		return nil, errs.Wrap("engine.Open", errs.KindIO, err)
	}

	walPath := filepath.Join(cfg.DataDir, walFileName)
	result, err := walio.Recover(walPath, walio.Limits{
		MaxKeySize:   cfg.MaxKeySize,
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		sm.Close()
		return nil, errs.Wrap("engine.Open", errs.KindIO, err)
	}
	if result.Truncated {
		cfg.Logger.WithFields(logrus.Fields{
			"path":         walPath,
			"original_size": result.OriginalSize,
			"truncated_to": result.TruncatedTo,
		}).Warn("discarded corrupt or incomplete WAL tail during recovery")
	}

	mt := memtable.New()
	for _, e := range result.Entries {
		switch e.Op {
		case walio.OpPut:
			mt.Put(e.Key, e.Value)
		case walio.OpDelete:
			mt.Delete(e.Key)
		}
	}

	wal, err := walio.NewWriter(walPath, cfg.WALSyncStrategy)
	if err != nil {
		sm.Close()
		return nil, errs.Wrap("engine.Open", errs.KindIO, err)
	}

	// next_lsn must stay above both the WAL's own recovered high-water
	// mark (spec section 4.7.1's literal formula) and the high-water
	// mark persisted alongside any SSTable (spec section 3 invariant 1's
	// broader "recovered WAL or any SSTable ancestry"). A flush rotates
	// the WAL to empty, so relying on the WAL alone would reissue LSNs
	// already retired into an SSTable on the very next open; see
	// DESIGN.md's "Open Questions resolved" for the full reconciliation.
	highWater := result.MaxLSN
	if persisted := sm.MaxPersistedLSN(); persisted > highWater {
		highWater = persisted
	}
	nextLSN := highWater + 1
	if nextLSN < 1 {
		nextLSN = 1
	}

	cfg.Logger.WithFields(logrus.Fields{
		"data_dir":        cfg.DataDir,
		"recovered_entries": len(result.Entries),
		"next_lsn":        nextLSN,
		"sstables":        sm.Count(),
	}).Info("engine opened")

	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		nextLSN: nextLSN,
		wal:     wal,
		mt:      mt,
		sm:      sm,
	}, nil
}

func (e *Engine) validate(key, value []byte, checkValue bool) error {
	if len(key) == 0 {
		return errs.Wrap("engine.validate", errs.KindInvalidArgument, errs.ErrEmptyKey)
	}
	if uint32(len(key)) > e.cfg.MaxKeySize {
		return errs.Wrap("engine.validate", errs.KindInvalidArgument, errs.ErrKeyTooLarge)
	}
	if checkValue && uint32(len(value)) > e.cfg.MaxValueSize {
		return errs.Wrap("engine.validate", errs.KindInvalidArgument, errs.ErrValueTooLarge)
	}
	return nil
}

// Put writes key=value, per spec section 4.7.2.
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return errs.Wrap("engine.Put", errs.KindPoisoned, errs.ErrClosed)
	}
	if err := e.validate(key, value, true); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	lsn := e.nextLSN
	e.nextLSN++

	if err := e.wal.Append(lsn, walio.OpPut, key, value); err != nil {
		return errs.Wrap("engine.Put", errs.KindIO, err)
	}

	e.mt.Put(key, value)

	if e.mt.ApproxSize() >= e.cfg.MemtableSizeLimit {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Delete writes a tombstone for key, per spec section 4.7.2.
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return errs.Wrap("engine.Delete", errs.KindPoisoned, errs.ErrClosed)
	}
	if err := e.validate(key, nil, false); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	lsn := e.nextLSN
	e.nextLSN++

	if err := e.wal.Append(lsn, walio.OpDelete, key, nil); err != nil {
		return errs.Wrap("engine.Delete", errs.KindIO, err)
	}

	e.mt.Delete(key)

	if e.mt.ApproxSize() >= e.cfg.MemtableSizeLimit {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up key, per spec section 4.7.3: MemTable first, falling
// back to the Storage Manager. It never takes write_mutex.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, errs.Wrap("engine.Get", errs.KindPoisoned, errs.ErrClosed)
	}
	if len(key) == 0 {
		return nil, false, errs.Wrap("engine.Get", errs.KindInvalidArgument, errs.ErrEmptyKey)
	}

	if val, res := e.mt.Get(key); res != memtable.NotPresent {
		if res == memtable.Deleted {
			return nil, false, nil
		}
		return val, true, nil
	}

	val, tombstone, ok, err := e.sm.Get(key)
	if err != nil {
		return nil, false, errs.Wrap("engine.Get", errs.KindIO, err)
	}
	if !ok || tombstone {
		return nil, false, nil
	}
	return val, true, nil
}

// Has reports whether key currently resolves to a live value.
func (e *Engine) Has(key []byte) (bool, error) {
	_, ok, err := e.Get(key)
	return ok, err
}

// Flush forces a flush of the current MemTable, following the same
// path as an automatic flush triggered from Put/Delete (spec section
// 4.7.4). It is exposed publicly as a supplemented operation useful for
// tests and operational tooling; the spec itself only requires the
// automatic trigger.
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return errs.Wrap("engine.Flush", errs.KindPoisoned, errs.ErrClosed)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.flushLocked()
}

// flushLocked implements spec section 4.7.4. Caller must hold writeMu.
func (e *Engine) flushLocked() error {
	if e.mt.ApproxSize() == 0 {
		return nil
	}

	if !e.mt.NewIterator().Valid() {
		return nil
	}

	count := uint64(0)
	for c := e.mt.NewIterator(); c.Valid(); c.Next() {
		count++
	}

	// Every LSN up to and including nextLSN-1 has already been issued,
	// and each successful write among them is reflected either in e.mt
	// or in an earlier SSTable, so that's the high-water mark this flush
	// retires into the SSTable. It must be persisted before the WAL
	// rotate below empties the WAL's own record of it.
	highWaterLSN := e.nextLSN - 1

	gen := e.sm.NextGenerationID()
	path := filepath.Join(e.cfg.DataDir, storage.FileName(gen))

	if err := sstio.Build(path, e.mt.NewIterator(), count); err != nil {
		return errs.Wrap("engine.flush", errs.KindIO, err)
	}

	if err := storage.WriteLSNSidecar(path, highWaterLSN); err != nil {
		return errs.Wrap("engine.flush", errs.KindIO, err)
	}

	reader, err := sstio.Open(path)
	if err != nil {
		return errs.Wrap("engine.flush", errs.KindIO, err)
	}
	e.sm.AddNewest(gen, reader, highWaterLSN)

	walPath := filepath.Join(e.cfg.DataDir, walFileName)
	if err := e.wal.Rotate(walPath); err != nil {
		// The new SSTable is already durable and visible; a WAL rotate
		// failure is tolerated per spec section 9's open question on
		// flush-failure idempotence. A future recovery may re-apply
		// entries already present in the SSTable, which is harmless
		// because writes are key-set idempotent.
		e.log.WithError(err).Error("WAL rotate failed after flush committed; WAL will be replayed on next recovery")
		return errs.Wrap("engine.flush", errs.KindIO, err)
	}

	e.mt = memtable.New()

	e.log.WithFields(logrus.Fields{
		"generation": gen,
		"entries":    count,
		"path":       path,
	}).Info("flushed memtable to sstable")

	return nil
}

// Stats is a supplemented, read-only snapshot of engine state, useful
// for operational visibility; not part of the core write/read/flush
// path.
type Stats struct {
	MemtableApproxSize int64
	SSTableCount        int
	NextLSN             uint64
}

// Stats returns a point-in-time snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return Stats{
		MemtableApproxSize: e.mt.ApproxSize(),
		SSTableCount:       e.sm.Count(),
		NextLSN:            e.nextLSN,
	}
}

// Close syncs the WAL and releases file handles, per spec section
// 4.7.5. It does not force a flush.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var first error
	if err := e.wal.Sync(); err != nil {
		first = err
	}
	if err := e.wal.Close(); err != nil && first == nil {
		first = err
	}
	if err := e.sm.Close(); err != nil && first == nil {
		first = err
	}

	if first != nil {
		return errs.Wrap("engine.Close", errs.KindIO, first)
	}
	return nil
}
