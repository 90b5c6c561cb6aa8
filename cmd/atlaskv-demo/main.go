// Command atlaskv-demo exercises the engine end to end: writes, reads,
// deletes, a forced flush, a graceful close, and a reopen that proves
// recovery works from both the SSTable and the WAL.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/atlaskv/atlaskv/pkg/atlaskv"
)

func main() {
	dataDir := filepath.Join(os.TempDir(), "atlaskv-demo")
	defer os.RemoveAll(dataDir)

	fmt.Println("=== AtlasKV Demo ===")
	fmt.Printf("Data directory: %s\n\n", dataDir)

	fmt.Println("1. Opening DB...")
	cfg := atlaskv.DefaultConfig(dataDir)
	db, err := atlaskv.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}

	fmt.Println("2. Putting data...")
	testData := map[string]string{
		"user:1001": "Alice",
		"user:1002": "Bob",
		"user:1003": "Charlie",
		"user:1004": "David",
		"user:1005": "Eve",
	}
	for k, v := range testData {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			log.Fatalf("Failed to put %s: %v", k, err)
		}
		fmt.Printf("  Put: %s = %s\n", k, v)
	}

	fmt.Println("\n3. Getting data...")
	for k, want := range testData {
		val, found, err := db.Get([]byte(k))
		if err != nil {
			log.Fatalf("Failed to get %s: %v", k, err)
		}
		if !found || string(val) != want {
			log.Fatalf("Key %s: expected %s, got found=%v val=%s", k, want, found, val)
		}
		fmt.Printf("  Get: %s = %s ✓\n", k, val)
	}

	fmt.Println("\n4. Deleting user:1003...")
	if err := db.Delete([]byte("user:1003")); err != nil {
		log.Fatalf("Failed to delete: %v", err)
	}
	if _, found, err := db.Get([]byte("user:1003")); err != nil || found {
		log.Fatalf("Deleted key should be absent, found=%v err=%v", found, err)
	}
	fmt.Println("  Get user:1003: absent ✓ (tombstone)")

	fmt.Println("\n5. Forcing a flush...")
	if err := db.Flush(); err != nil {
		log.Fatalf("Flush failed: %v", err)
	}
	stats := db.Stats()
	fmt.Printf("  sstables=%d memtable_bytes=%d next_lsn=%d\n", stats.SSTableCount, stats.MemtableApproxSize, stats.NextLSN)

	fmt.Println("\n6. Writing more data after the flush...")
	if err := db.Put([]byte("user:1006"), []byte("Frank")); err != nil {
		log.Fatalf("Failed to put: %v", err)
	}

	fmt.Println("\n7. Closing DB without forcing another flush...")
	if err := db.Close(); err != nil {
		log.Fatalf("Failed to close DB: %v", err)
	}

	fmt.Println("\n8. Reopening DB (exercising WAL + SSTable recovery)...")
	db2, err := atlaskv.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to reopen DB: %v", err)
	}
	defer db2.Close()

	fmt.Println("\n9. Verifying data recovered from the SSTable...")
	for k, want := range testData {
		if k == "user:1003" {
			continue
		}
		val, found, err := db2.Get([]byte(k))
		if err != nil || !found || string(val) != want {
			log.Fatalf("Key %s: expected %s after recovery, got found=%v val=%s err=%v", k, want, found, val, err)
		}
		fmt.Printf("  ✓ %s = %s\n", k, val)
	}

	fmt.Println("\n10. Verifying data recovered from the WAL...")
	val, found, err := db2.Get([]byte("user:1006"))
	if err != nil || !found || string(val) != "Frank" {
		log.Fatalf("user:1006: expected Frank after recovery, got found=%v val=%s err=%v", found, val, err)
	}
	fmt.Println("  ✓ user:1006 = Frank")

	fmt.Println("\n11. Verifying the tombstone survived recovery...")
	if _, found, err := db2.Get([]byte("user:1003")); err != nil || found {
		log.Fatalf("user:1003 should still be absent after recovery, found=%v err=%v", found, err)
	}
	fmt.Println("  ✓ user:1003 still absent")

	matches, _ := filepath.Glob(filepath.Join(dataDir, "sstable_*.dat"))
	fmt.Printf("\n12. Found %d sstable file(s) on disk.\n", len(matches))

	fmt.Println("\n=== Demo completed successfully! ===")
}
