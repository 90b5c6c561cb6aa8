package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlaskv/atlaskv/internal/walio"
)

func mustGet(t *testing.T, e *Engine, key string) string {
	t.Helper()
	val, ok, err := e.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%s): %v", key, err)
	}
	if !ok {
		t.Fatalf("Get(%s): expected present, got absent", key)
	}
	return string(val)
}

func mustAbsent(t *testing.T, e *Engine, key string) {
	t.Helper()
	_, ok, err := e.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%s): %v", key, err)
	}
	if ok {
		t.Fatalf("Get(%s): expected absent", key)
	}
}

// S1 — simple round trip.
func TestSimpleRoundTrip(t *testing.T) {
	e, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := e.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if got := mustGet(t, e, "a"); got != "1" {
		t.Fatalf("a = %s, want 1", got)
	}
	if got := mustGet(t, e, "b"); got != "2" {
		t.Fatalf("b = %s, want 2", got)
	}
	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete a: %v", err)
	}
	mustAbsent(t, e, "a")
	if got := mustGet(t, e, "b"); got != "2" {
		t.Fatalf("b = %s, want 2", got)
	}
}

// S3 — flush, then close and reopen: the flushed keys come back from
// the SSTable while wal.log stays empty.
func TestFlushThenReopenRecoversFromSSTable(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableSizeLimit = 8 // small enough that two short puts trigger a flush

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put k1: %v", err)
	}
	if err := e.Put([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("Put k2: %v", err)
	}

	if got := e.Stats(); got.SSTableCount == 0 {
		t.Fatalf("expected at least one sstable after exceeding memtable_size_limit, stats=%+v", got)
	}

	walInfo, err := os.Stat(filepath.Join(dir, walFileName))
	if err != nil {
		t.Fatalf("stat wal.log: %v", err)
	}
	if walInfo.Size() != 0 {
		t.Fatalf("expected wal.log to be empty after flush, size=%d", walInfo.Size())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "sstable_*.dat"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one sstable file, got %v", matches)
	}

	e.Close()

	e2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	if got := mustGet(t, e2, "k1"); got != "v1" {
		t.Fatalf("k1 = %s, want v1", got)
	}
	if got := mustGet(t, e2, "k2"); got != "v2" {
		t.Fatalf("k2 = %s, want v2", got)
	}
}

// S4 — overwrite across memtable and sstable.
func TestOverwriteAcrossMemtableAndSSTable(t *testing.T) {
	e, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("x"), []byte("old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.Put([]byte("x"), []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := mustGet(t, e, "x"); got != "new" {
		t.Fatalf("x = %s, want new", got)
	}
	if err := e.Delete([]byte("x")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustAbsent(t, e, "x")
}

// S6 — SSTable precedence: newer generation wins.
func TestSSTablePrecedenceNewestWins(t *testing.T) {
	e, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("k"), []byte("A")); err != nil {
		t.Fatalf("Put A: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.Put([]byte("k"), []byte("B")); err != nil {
		t.Fatalf("Put B: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := mustGet(t, e, "k"); got != "B" {
		t.Fatalf("k = %s, want B", got)
	}
}

// S5 — WAL corruption tail: garbage appended after the last valid entry
// is discarded and the other entries survive.
func TestRecoverySurvivesTrailingWALGarbage(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 10; i++ {
		k := []byte{byte('a' + i)}
		if err := e.Put(k, []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := e.wal.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	walPath := filepath.Join(dir, walFileName)
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	goodSize := info.Size()

	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.Write([]byte("garbagegarbagegarbage")); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()
	e.wal.Close()

	e2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	for i := 0; i < 10; i++ {
		k := string(byte('a' + i))
		if got := mustGet(t, e2, k); got != "v" {
			t.Fatalf("key %s = %s, want v", k, got)
		}
	}

	info2, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("stat after recovery: %v", err)
	}
	if info2.Size() != goodSize {
		t.Fatalf("expected wal.log truncated to %d bytes, got %d", goodSize, info2.Size())
	}
}

func TestPutRejectsOversizedKey(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxKeySize = 4
	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("12345"), []byte("v")); err == nil {
		t.Fatal("expected oversized key to be rejected")
	}
	if err := e.Put([]byte("1234"), []byte("v")); err != nil {
		t.Fatalf("expected key at exactly max_key_size to be accepted: %v", err)
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	e, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte{}, []byte("v")); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestZeroLengthValueDistinctFromTombstone(t *testing.T) {
	e, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("z"), []byte{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, ok, err := e.Get([]byte("z"))
	if err != nil || !ok || val == nil {
		t.Fatalf("Get(z) = %v ok=%v err=%v, want present zero-length value", val, ok, err)
	}
	if len(val) != 0 {
		t.Fatalf("expected zero-length value, got %q", val)
	}
}

func TestLSNMonotonicAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := e.Put([]byte{byte('a' + i)}, []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	firstRunNext := e.Stats().NextLSN
	e.Close()

	e2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	if e2.Stats().NextLSN < firstRunNext {
		t.Fatalf("expected next_lsn to not regress across restart: before=%d after=%d", firstRunNext, e2.Stats().NextLSN)
	}
	if err := e2.Put([]byte("new"), []byte("v")); err != nil {
		t.Fatalf("Put after reopen: %v", err)
	}
}

// TestLSNMonotonicAcrossFlushAndRestart covers the case
// TestLSNMonotonicAcrossRestart doesn't: a flush rotates the WAL to
// empty before the restart, so next_lsn can no longer be recovered from
// the WAL alone (spec section 4.7.1's literal formula) and must instead
// come from the high-water LSN persisted alongside the SSTable (spec
// section 3 invariant 1).
func TestLSNMonotonicAcrossFlushAndRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := e.Put([]byte{byte('a' + i)}, []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	walPath := filepath.Join(dir, walFileName)
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("stat wal.log: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected wal.log to be empty after flush, size=%d", info.Size())
	}

	preFlushNext := e.Stats().NextLSN
	e.Close()

	e2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	if got := e2.Stats().NextLSN; got < preFlushNext {
		t.Fatalf("expected next_lsn to not regress across a flush+restart: before=%d after=%d", preFlushNext, got)
	}

	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		lsn := e2.nextLSN
		if err := e2.Put([]byte{byte('z' - i)}, []byte("v")); err != nil {
			t.Fatalf("Put after reopen: %v", err)
		}
		if seen[lsn] {
			t.Fatalf("LSN %d reissued after flush+restart", lsn)
		}
		seen[lsn] = true
	}
}

func TestCloseIsIdempotentAndBlocksFurtherWrites(t *testing.T) {
	e, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if err := e.Put([]byte("a"), []byte("b")); err == nil {
		t.Fatal("expected Put on a closed engine to fail")
	}
}

func TestEveryWriteSyncStrategyIsAccepted(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.WALSyncStrategy = walio.SyncStrategy{Kind: walio.EveryWrite}

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := mustGet(t, e, "k"); got != "v" {
		t.Fatalf("k = %s, want v", got)
	}
}
