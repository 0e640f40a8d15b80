package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys.
// Each wallet gets its own namespace within a single underlying database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: cloneBytes(prefix)}
}

// Prefix returns the namespace prefix.
func (p *PrefixDB) Prefix() []byte {
	return cloneBytes(p.prefix)
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over all keys with the given prefix (within the PrefixDB namespace).
// The callback receives keys with the PrefixDB prefix stripped, so callers see only
// their logical keyspace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// ForEachRange iterates over logical keys in [start, end). A nil end is
// bounded by the end of the namespace.
func (p *PrefixDB) ForEachRange(start, end []byte, fn func(key, value []byte) error) error {
	var innerEnd []byte
	if end != nil {
		innerEnd = p.prefixed(end)
	} else {
		innerEnd = PrefixEnd(p.prefix)
	}
	return p.inner.ForEachRange(p.prefixed(start), innerEnd, func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes all keys under this PrefixDB's namespace in one batch.
func (p *PrefixDB) DeleteAll() error {
	b := NewBatch(p.inner)
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	return b.Commit()
}

// Close is a no-op; the outer DB manages its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch creates a batch that prepends the prefix to all keys, delegating
// to the inner DB's batch so commits stay atomic when the inner DB allows.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{inner: NewBatch(p.inner), db: p}
}

type prefixBatch struct {
	inner Batch
	db    *PrefixDB
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(pb.db.prefixed(key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(pb.db.prefixed(key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}
