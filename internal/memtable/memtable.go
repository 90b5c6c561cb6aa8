package memtable

import (
	"sync"
	"sync/atomic"
)

// Memtable is the ordered in-memory mapping from key to value-or-tombstone
// described in spec section 4.3. Unlike the teacher's Memtable, it does
// not own a WAL: spec section 4.7 makes the Engine the sole owner of the
// WAL, so durability ordering (WAL append before MemTable mutation) is
// enforced by the Engine's write path, not hidden inside this leaf.
type Memtable struct {
	mu   sync.RWMutex // serializes put/delete against get and iterator creation
	sl   *skipList
	size int64 // approx size in bytes (spec section 3 invariant 6)
}

// New creates an empty Memtable.
func New() *Memtable {
	return &Memtable{sl: newSkipList()}
}

// Put inserts or overwrites key with value. The size delta follows spec
// section 4.3: len(new)+len(key) minus whatever the previous entry
// contributed.
func (mt *Memtable) Put(key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	old, existed := mt.sl.put(key, record{value: value})
	delta := int64(len(key) + len(value))
	if existed {
		delta -= oldContribution(key, old)
	}
	atomic.AddInt64(&mt.size, delta)
}

// Delete writes a tombstone for key. A tombstone contributes len(key)
// bytes to the size estimate and 0 bytes of payload.
func (mt *Memtable) Delete(key []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	old, existed := mt.sl.put(key, record{tombstone: true})
	delta := int64(len(key))
	if existed {
		delta -= oldContribution(key, old)
	}
	atomic.AddInt64(&mt.size, delta)
}

func oldContribution(key []byte, old record) int64 {
	if old.tombstone {
		return int64(len(key))
	}
	return int64(len(key) + len(old.value))
}

// LookupResult is the outcome of Get: a live value, a tombstone, or
// nothing known about the key at all.
type LookupResult int

const (
	// NotPresent means the key has no entry in this Memtable; the
	// caller must continue the search in the Storage Manager.
	NotPresent LookupResult = iota
	// Found means a live value was returned.
	Found
	// Deleted means a tombstone shadows the key; the search for this
	// key terminates as absent (spec section 3 invariant 4).
	Deleted
)

// Get looks up key. It never touches the Storage Manager; that
// escalation is the Engine's responsibility (spec section 4.7.3).
func (mt *Memtable) Get(key []byte) ([]byte, LookupResult) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	rec, ok := mt.sl.get(key)
	if !ok {
		return nil, NotPresent
	}
	if rec.tombstone {
		return nil, Deleted
	}
	return rec.value, Found
}

// ApproxSize returns the current size estimate in bytes.
func (mt *Memtable) ApproxSize() int64 {
	return atomic.LoadInt64(&mt.size)
}

// NewIterator returns an ascending-key iterator over all entries,
// including tombstones, for use by the flush path (spec section 4.3).
func (mt *Memtable) NewIterator() *Iterator {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.sl.newIterator()
}
