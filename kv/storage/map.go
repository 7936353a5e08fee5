package storage

import (
	"sync"

	"github.com/google/btree"
)

const defaultBTreeDegree = 32

type mapItem struct {
	key   string
	value interface{}
}

func (it mapItem) Less(other btree.Item) bool {
	return it.key < other.(mapItem).key
}

// Map is an ordered key-value map. The mutex plays the role of the page-level
// latch: every tree access holds it, while row-level concurrency control is
// left to the cells stored as values.
type Map struct {
	name      string
	keyType   DataType
	valueType DataType

	latch sync.RWMutex
	tree  *btree.BTree
}

func NewMap(name string, keyType, valueType DataType) *Map {
	return &Map{
		name:      name,
		keyType:   keyType,
		valueType: valueType,
		tree:      btree.New(defaultBTreeDegree),
	}
}

func (m *Map) Name() string { return m.name }

func (m *Map) KeyType() DataType { return m.keyType }

func (m *Map) ValueType() DataType { return m.valueType }

func (m *Map) Get(key string) interface{} {
	m.latch.RLock()
	defer m.latch.RUnlock()
	it := m.tree.Get(mapItem{key: key})
	if it == nil {
		return nil
	}
	return it.(mapItem).value
}

func (m *Map) Put(key string, v interface{}) {
	m.latch.Lock()
	defer m.latch.Unlock()
	m.tree.ReplaceOrInsert(mapItem{key: key, value: v})
}

// PutIfAbsent inserts v only when key has no entry yet and returns the value
// now present in the map.
func (m *Map) PutIfAbsent(key string, v interface{}) interface{} {
	m.latch.Lock()
	defer m.latch.Unlock()
	if it := m.tree.Get(mapItem{key: key}); it != nil {
		return it.(mapItem).value
	}
	m.tree.ReplaceOrInsert(mapItem{key: key, value: v})
	return v
}

func (m *Map) Remove(key string) {
	m.latch.Lock()
	defer m.latch.Unlock()
	m.tree.Delete(mapItem{key: key})
}

func (m *Map) Len() int {
	m.latch.RLock()
	defer m.latch.RUnlock()
	return m.tree.Len()
}

// FirstAtOrAfter returns the first entry with from <= key < to. An empty to
// leaves the upper bound open.
func (m *Map) FirstAtOrAfter(from, to string) (string, interface{}, bool) {
	m.latch.RLock()
	defer m.latch.RUnlock()
	var found *mapItem
	m.tree.AscendGreaterOrEqual(mapItem{key: from}, func(it btree.Item) bool {
		entry := it.(mapItem)
		if to != "" && entry.key >= to {
			return false
		}
		found = &entry
		return false
	})
	if found == nil {
		return "", nil, false
	}
	return found.key, found.value, true
}

// Range calls f for every entry with from <= key < to in ascending key order
// until f returns false. Empty bounds are open.
func (m *Map) Range(from, to string, f func(key string, v interface{}) bool) {
	m.latch.RLock()
	defer m.latch.RUnlock()
	iter := func(it btree.Item) bool {
		entry := it.(mapItem)
		if to != "" && entry.key >= to {
			return false
		}
		return f(entry.key, entry.value)
	}
	if from == "" {
		m.tree.Ascend(iter)
	} else {
		m.tree.AscendGreaterOrEqual(mapItem{key: from}, iter)
	}
}
