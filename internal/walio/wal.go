// Package walio implements the write-ahead log writer and recovery scanner
// described in spec sections 4.1 and 4.2: a single append-only,
// checksummed log file per WAL generation, plus a sequential reader that
// validates CRCs and truncates at the first sign of corruption.
package walio

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/atlaskv/atlaskv/internal/errs"
)

// SyncStrategyKind enumerates the fsync policies from spec section 4.1.
type SyncStrategyKind int

const (
	// unsetSyncStrategy is the zero value of SyncStrategyKind, meaning
	// "caller did not choose a strategy" as opposed to an explicit
	// choice of EveryWrite. Engine.Config relies on this to tell a bare
	// Config{} apart from one that deliberately asked for EveryWrite.
	unsetSyncStrategy SyncStrategyKind = iota
	// EveryWrite fsyncs after every Append.
	EveryWrite
	// EveryNEntries fsyncs once every N appends, and unconditionally on
	// rotate and on graceful Close.
	EveryNEntries
)

// IsSet reports whether k is an explicit strategy choice rather than a
// zero-value SyncStrategyKind.
func (k SyncStrategyKind) IsSet() bool { return k != unsetSyncStrategy }

// SyncStrategy picks how aggressively the writer fsyncs.
type SyncStrategy struct {
	Kind SyncStrategyKind
	N    int // only meaningful when Kind == EveryNEntries
}

// Writer owns one open WAL file and the single-writer append/fsync
// discipline required by spec section 4.1.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	strategy SyncStrategy
	counter  int
	poison   error
}

// NewWriter opens (creating if absent) the WAL file at path for append.
func NewWriter(path string, strategy SyncStrategy) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap("walio.NewWriter", errs.KindIO, err)
	}
	return &Writer{
		file:     f,
		path:     path,
		strategy: strategy,
	}, nil
}

// Append serializes entry and hands it to the OS via a single write(2),
// then fsyncs if the sync strategy calls for it on this append. It does
// not mutate any in-memory state beyond the writer's own bookkeeping —
// the caller (the Engine) is responsible for applying the entry to the
// MemTable only after Append (and any required Sync) succeeds.
func (w *Writer) Append(lsn uint64, op OpTag, key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.poison != nil {
		return errs.Wrap("walio.Append", errs.KindPoisoned, w.poison)
	}

	payload := encodePayload(op, key, value)
	frame := encodeFrame(lsn, payload)

	if _, err := w.file.Write(frame); err != nil {
		w.poison = err
		return errs.Wrap("walio.Append", errs.KindIO, err)
	}

	switch w.strategy.Kind {
	case EveryWrite:
		if err := w.file.Sync(); err != nil {
			w.poison = err
			return errs.Wrap("walio.Append", errs.KindIO, err)
		}
	case EveryNEntries:
		w.counter++
		if w.counter >= w.strategy.N {
			if err := w.file.Sync(); err != nil {
				w.poison = err
				return errs.Wrap("walio.Append", errs.KindIO, err)
			}
			w.counter = 0
		}
	}

	return nil
}

// Sync forces any unsynced data to disk regardless of strategy.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if w.poison != nil {
		return errs.Wrap("walio.Sync", errs.KindPoisoned, w.poison)
	}
	if err := w.file.Sync(); err != nil {
		w.poison = err
		return errs.Wrap("walio.Sync", errs.KindIO, err)
	}
	w.counter = 0
	return nil
}

// Rotate syncs and closes the current file, then atomically replaces the
// file at path with an empty one and reopens it for append. Used after a
// flush commits (spec section 4.7.4 step 4).
func (w *Writer) Rotate(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.poison != nil {
		return errs.Wrap("walio.Rotate", errs.KindPoisoned, w.poison)
	}

	if err := w.file.Sync(); err != nil {
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}
	if err := w.file.Close(); err != nil {
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}

	tmp := path + ".rotate-tmp"
	nf, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}
	if err := nf.Sync(); err != nil {
		nf.Close()
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}
	if err := nf.Close(); err != nil {
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}
	if dir, derr := os.Open(filepath.Dir(path)); derr == nil {
		dir.Sync()
		dir.Close()
	}

	reopened, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		w.poison = err
		return errs.Wrap("walio.Rotate", errs.KindIO, err)
	}

	w.file = reopened
	w.path = path
	w.counter = 0
	return nil
}

// Close flushes and closes the underlying file. Per spec section 4.1,
// EveryNEntries must also fsync on graceful shutdown.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	var syncErr error
	if w.poison == nil {
		syncErr = w.file.Sync()
	}
	closeErr := w.file.Close()
	w.file = nil

	if syncErr != nil {
		return errs.Wrap("walio.Close", errs.KindIO, syncErr)
	}
	if closeErr != nil {
		return errs.Wrap("walio.Close", errs.KindIO, closeErr)
	}
	return nil
}

// Poisoned reports whether a prior IO error has disabled this writer.
func (w *Writer) Poisoned() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.poison != nil
}
