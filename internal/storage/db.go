// Package storage provides database abstractions.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// ForEachRange iterates over keys in [start, end) in ascending byte
	// order. A nil end means no upper bound.
	ForEachRange(start, end []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch buffers writes that are applied together by Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that can commit a Batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// NewBatch returns an atomic batch when db supports one, and a buffered
// non-atomic batch otherwise.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &fallbackBatch{db: db}
}

type batchOp struct {
	key   []byte
	value []byte // nil means delete
}

// fallbackBatch buffers writes and applies them one by one.
type fallbackBatch struct {
	db  DB
	ops []batchOp
}

func (fb *fallbackBatch) Put(key, value []byte) error {
	fb.ops = append(fb.ops, batchOp{key: cloneBytes(key), value: cloneBytes(value)})
	return nil
}

func (fb *fallbackBatch) Delete(key []byte) error {
	fb.ops = append(fb.ops, batchOp{key: cloneBytes(key)})
	return nil
}

func (fb *fallbackBatch) Commit() error {
	for _, op := range fb.ops {
		if op.value == nil {
			if err := fb.db.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := fb.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	fb.ops = nil
	return nil
}

// cloneBytes copies b and never returns nil, so an empty value stays
// distinguishable from a delete op.
func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := cloneBytes(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
