// Package atlaskv is the public facade over the AtlasKV storage engine
// core, exposing the Engine API from spec section 6: open, put, get,
// delete, close. It generalizes the teacher's pkg/kv.DB, fixing its
// reliance on comparing err.Error() strings to detect a closed database
// by using the typed error vocabulary in internal/errs instead.
package atlaskv

import (
	"github.com/atlaskv/atlaskv/internal/engine"
	"github.com/atlaskv/atlaskv/internal/errs"
	"github.com/atlaskv/atlaskv/internal/walio"
)

// Re-exported so callers never need to import internal packages.
type (
	// Config configures a DB. See spec section 6's option table for
	// defaults.
	Config = engine.Config
	// SyncStrategy selects how aggressively the WAL fsyncs.
	SyncStrategy = walio.SyncStrategy
	// Stats is a point-in-time snapshot of engine state.
	Stats = engine.Stats
)

const (
	// EveryWrite fsyncs the WAL after every write.
	EveryWrite = walio.EveryWrite
	// EveryNEntries fsyncs the WAL once every N writes.
	EveryNEntries = walio.EveryNEntries
)

// Sentinel errors, re-exported for errors.Is comparisons by callers.
var (
	ErrClosed          = errs.ErrClosed
	ErrNotFound        = errs.ErrNotFound
	ErrInvalidArgument = errs.ErrInvalidArgument
	ErrCorruption      = errs.ErrCorruption
	ErrPoisoned        = errs.ErrPoisoned
)

// DefaultConfig returns the documented defaults from spec section 6,
// rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return engine.DefaultConfig(dataDir)
}

// IsInvalidArgument reports whether err resulted from an oversized or
// empty key/value, as opposed to an I/O or corruption failure.
func IsInvalidArgument(err error) bool {
	return errs.IsKind(err, errs.KindInvalidArgument)
}

// DB is an open AtlasKV store.
type DB struct {
	e *engine.Engine
}

// Open creates data_dir if absent, recovers any existing WAL and
// SSTables, and returns a ready-to-use DB.
func Open(cfg Config) (*DB, error) {
	e, err := engine.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// Put writes key=value. Returns ErrInvalidArgument if key is empty or
// either key or value exceeds its configured size limit.
func (db *DB) Put(key, value []byte) error {
	return db.e.Put(key, value)
}

// Get returns the value for key and true, or nil and false if the key
// is absent (either never written or deleted). A non-nil error means
// the lookup itself failed, not that the key was absent.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	return db.e.Get(key)
}

// Has reports whether key currently resolves to a live value.
func (db *DB) Has(key []byte) (bool, error) {
	return db.e.Has(key)
}

// Delete writes a tombstone for key.
func (db *DB) Delete(key []byte) error {
	return db.e.Delete(key)
}

// Flush forces the current MemTable to disk as a new SSTable. Exposed
// for operational tooling and tests; the engine also flushes
// automatically once memtable_size_limit is reached.
func (db *DB) Flush() error {
	return db.e.Flush()
}

// Stats returns a point-in-time snapshot of engine state.
func (db *DB) Stats() Stats {
	return db.e.Stats()
}

// Close syncs the WAL and releases file handles. It does not force a
// flush, matching spec section 4.7.5.
func (db *DB) Close() error {
	return db.e.Close()
}
