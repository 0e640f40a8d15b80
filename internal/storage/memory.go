package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map. It is safe for concurrent
// use and commits batches atomically.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	m.data[string(key)] = cloneBytes(value)
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	_, ok := m.data[string(key)]
	m.mu.RUnlock()
	return ok, nil
}

// ForEach iterates over all keys with the given prefix in ascending order.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	for _, kv := range m.snapshot(func(k string) bool { return strings.HasPrefix(k, p) }) {
		if err := fn(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// ForEachRange iterates over keys in [start, end) in ascending order.
func (m *MemoryDB) ForEachRange(start, end []byte, fn func(key, value []byte) error) error {
	in := func(k string) bool {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			return false
		}
		return end == nil || bytes.Compare(kb, end) < 0
	}
	for _, kv := range m.snapshot(in) {
		if err := fn(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

// snapshot copies the matching entries sorted by key so callbacks may write
// to the database without deadlocking.
func (m *MemoryDB) snapshot(match func(string) bool) []memKV {
	m.mu.RLock()
	out := make([]memKV, 0)
	for k, v := range m.data {
		if match(k) {
			out = append(out, memKV{key: []byte(k), value: cloneBytes(v)})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].key, out[j].key) < 0
	})
	return out
}

// Len returns the number of stored keys.
func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// NewBatch creates a batch applied under a single write lock.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryBatch struct {
	db  *MemoryDB
	ops []batchOp
}

func (b *memoryBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: cloneBytes(key), value: cloneBytes(value)})
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: cloneBytes(key)})
	return nil
}

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	b.ops = nil
	return nil
}
