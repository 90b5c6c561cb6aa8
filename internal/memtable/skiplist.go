// Package memtable implements the ordered, size-tracked in-memory buffer
// described in spec section 4.3. The underlying structure is a skip
// list, generalized from the teacher's to store an explicit
// value-or-tombstone record per entry (spec section 3) rather than
// overloading a nil byte slice, so a zero-length value can never be
// confused with a deletion marker.
package memtable

import (
	"bytes"
	"math/rand"

	"github.com/atlaskv/atlaskv/internal/utils"
)

const maxLevel = 16

// record is the value half of a skip list entry: either a live value or
// a tombstone, matching spec section 3's "Value(bytes) or Tombstone".
type record struct {
	value     []byte
	tombstone bool
}

type node struct {
	key  []byte
	rec  record
	next []*node
}

// skipList is an ordered map from key to record. It is not safe for
// concurrent use by itself; Memtable layers the reader/writer
// discipline spec section 4.3 requires on top of it.
type skipList struct {
	head  *node
	level int
}

func newSkipList() *skipList {
	return &skipList{
		head:  &node{next: make([]*node, maxLevel)},
		level: 1,
	}
}

func (sl *skipList) randomLevel() int {
	level := 1
	for rand.Float64() < 0.5 && level < maxLevel {
		level++
	}
	return level
}

// put inserts or overwrites key with rec. It returns the previous
// record and whether one existed, so the caller can compute the size
// delta described in spec section 4.3.
func (sl *skipList) put(key []byte, rec record) (record, bool) {
	update := make([]*node, maxLevel)
	curr := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && bytes.Compare(curr.next[i].key, key) < 0 {
			curr = curr.next[i]
		}
		update[i] = curr
	}

	curr = curr.next[0]
	if curr != nil && bytes.Equal(curr.key, key) {
		old := curr.rec
		curr.rec = record{value: utils.CopyBytes(rec.value), tombstone: rec.tombstone}
		return old, true
	}

	lvl := sl.randomLevel()
	if lvl > sl.level {
		for i := sl.level; i < lvl; i++ {
			update[i] = sl.head
		}
		sl.level = lvl
	}

	n := &node{
		key:  utils.CopyBytes(key),
		rec:  record{value: utils.CopyBytes(rec.value), tombstone: rec.tombstone},
		next: make([]*node, lvl),
	}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}

	return record{}, false
}

func (sl *skipList) get(key []byte) (record, bool) {
	curr := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && bytes.Compare(curr.next[i].key, key) < 0 {
			curr = curr.next[i]
		}
	}
	curr = curr.next[0]
	if curr != nil && bytes.Equal(curr.key, key) {
		return curr.rec, true
	}
	return record{}, false
}

// Iterator walks a skipList in ascending key order. Used only during
// flush (spec section 4.3's iter_sorted).
type Iterator struct {
	curr *node
}

func (sl *skipList) newIterator() *Iterator {
	return &Iterator{curr: sl.head.next[0]}
}

func (it *Iterator) Valid() bool { return it.curr != nil }

func (it *Iterator) Next() { it.curr = it.curr.next[0] }

func (it *Iterator) Key() []byte { return it.curr.key }

func (it *Iterator) Value() []byte { return it.curr.rec.value }

func (it *Iterator) Tombstone() bool { return it.curr.rec.tombstone }
