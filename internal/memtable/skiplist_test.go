package memtable

import "testing"

func TestSkipListPutGet(t *testing.T) {
	sl := newSkipList()

	testData := map[string]string{
		"key3": "value3",
		"key1": "value1",
		"key2": "value2",
		"key5": "value5",
		"key4": "value4",
	}

	for k, v := range testData {
		sl.put([]byte(k), record{value: []byte(v)})
	}

	for k, expectedV := range testData {
		rec, found := sl.get([]byte(k))
		if !found {
			t.Errorf("key %s not found", k)
			continue
		}
		if string(rec.value) != expectedV {
			t.Errorf("key %s: expected %s, got %s", k, expectedV, string(rec.value))
		}
	}

	if _, found := sl.get([]byte("nonexistent")); found {
		t.Error("non-existent key should not be found")
	}
}

func TestSkipListUpdate(t *testing.T) {
	sl := newSkipList()

	sl.put([]byte("key1"), record{value: []byte("value1")})
	sl.put([]byte("key1"), record{value: []byte("value1_updated")})

	rec, found := sl.get([]byte("key1"))
	if !found {
		t.Fatal("key should exist after update")
	}
	if string(rec.value) != "value1_updated" {
		t.Errorf("expected value1_updated, got %s", rec.value)
	}
}

func TestSkipListTombstone(t *testing.T) {
	sl := newSkipList()

	sl.put([]byte("key1"), record{value: []byte("value1")})

	rec, found := sl.get([]byte("key1"))
	if !found || rec.tombstone {
		t.Fatal("key should exist as a live value before delete")
	}

	sl.put([]byte("key1"), record{tombstone: true})

	rec, found = sl.get([]byte("key1"))
	if !found {
		t.Fatal("tombstoned key should still be found, as a tombstone")
	}
	if !rec.tombstone {
		t.Error("expected tombstone after delete")
	}
}

func TestSkipListIteratorOrder(t *testing.T) {
	sl := newSkipList()

	testData := []struct {
		key   string
		value string
	}{
		{"key3", "value3"},
		{"key1", "value1"},
		{"key2", "value2"},
		{"key5", "value5"},
		{"key4", "value4"},
	}

	for _, d := range testData {
		sl.put([]byte(d.key), record{value: []byte(d.value)})
	}

	it := sl.newIterator()
	expectedOrder := []string{"key1", "key2", "key3", "key4", "key5"}
	idx := 0

	for it.Valid() {
		if idx >= len(expectedOrder) {
			t.Errorf("iterator returned more items than expected")
			break
		}
		key := string(it.Key())
		if key != expectedOrder[idx] {
			t.Errorf("position %d: expected %s, got %s", idx, expectedOrder[idx], key)
		}
		it.Next()
		idx++
	}

	if idx != len(expectedOrder) {
		t.Errorf("expected %d items, got %d", len(expectedOrder), idx)
	}
}
