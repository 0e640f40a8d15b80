package wallet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/storage"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Store errors.
var (
	ErrCheckpointRegression = errors.New("checkpoint cannot move backward")
	ErrNoteNotFound         = errors.New("note not found")
	ErrBlockNotFound        = errors.New("block not found")
	ErrBrokenLinkage        = errors.New("block does not link to stored parent")
	ErrInvalidNote          = errors.New("invalid note")
)

// SpendRecord is a spend of one of the wallet's notes.
type SpendRecord struct {
	Spend
	NoteTxID types.TxID `json:"note_txid"`
	Value    int64      `json:"value"`
}

// CommitResult summarizes a block commit.
type CommitResult struct {
	Height     uint64
	NotesAdded int
	Spent      int
}

// RollbackResult summarizes a rollback.
type RollbackResult struct {
	Height         uint64
	NotesRemoved   int
	SpendsReverted int
	BlocksRemoved  int
}

// Store persists the notes, spends, block linkage and checkpoint of one
// viewing key. It is safe for concurrent use; writers are serialized.
type Store struct {
	mu     sync.RWMutex
	db     storage.DB
	logger zerolog.Logger
}

// NewStore creates a wallet store over db. db is used as-is; callers sharing
// one database between keys should pass a PrefixDB (see ForKey).
func NewStore(db storage.DB) *Store {
	return &Store{db: db, logger: klog.WithComponent("wallet")}
}

// ForKey returns a store isolated under the namespace of a viewing key
// fingerprint.
func ForKey(db storage.DB, fingerprint types.Hash) *Store {
	s := NewStore(storage.NewPrefixDB(db, Namespace(fingerprint)))
	s.logger = s.logger.With().Str("wallet", fingerprint.String()[:16]).Logger()
	return s
}

// NewMemoryStore returns a store backed by a fresh in-memory database.
func NewMemoryStore() *Store {
	return NewStore(storage.NewMemory())
}

// writer stages changes in a single batch. Staged notes are visible to later
// operations of the same writer so a block can spend a note it creates.
type writer struct {
	s       *Store
	batch   storage.Batch
	notes   map[string]*Note
	deleted map[string]bool
	byNf    map[types.Nullifier][]byte
}

func (s *Store) newWriter() *writer {
	return &writer{
		s:       s,
		batch:   storage.NewBatch(s.db),
		notes:   make(map[string]*Note),
		deleted: make(map[string]bool),
		byNf:    make(map[types.Nullifier][]byte),
	}
}

func (w *writer) putNote(key []byte, n *Note) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	w.notes[string(key)] = n
	delete(w.deleted, string(key))
	return w.batch.Put(key, data)
}

func (w *writer) loadNote(key []byte) (*Note, error) {
	if w.deleted[string(key)] {
		return nil, ErrNoteNotFound
	}
	if n, ok := w.notes[string(key)]; ok {
		return n, nil
	}
	return w.s.readNote(key)
}

func (w *writer) exists(id NoteID) (bool, error) {
	return w.s.db.Has(idKey(id))
}

func (w *writer) insert(n Note) (bool, error) {
	if err := validateNote(&n); err != nil {
		return false, err
	}
	id := n.ID()
	key := noteKey(n.Height, id)
	if _, staged := w.notes[string(key)]; staged {
		return false, nil
	}
	known, err := w.exists(id)
	if err != nil {
		return false, fmt.Errorf("note lookup: %w", err)
	}
	if known {
		return false, nil
	}
	// Spent status is only ever set by applying spends.
	n.Spent, n.SpentHeight, n.SpentTxID = false, 0, types.TxID{}
	if err := w.putNote(key, &n); err != nil {
		return false, err
	}
	if err := w.batch.Put(idKey(id), heightBytes(n.Height)); err != nil {
		return false, err
	}
	if err := w.batch.Put(nullifierKey(n.Nullifier), key); err != nil {
		return false, err
	}
	w.byNf[n.Nullifier] = key
	return true, nil
}

func (w *writer) noteKeyByNullifier(nf types.Nullifier) ([]byte, error) {
	if key, ok := w.byNf[nf]; ok {
		return key, nil
	}
	key, err := w.s.db.Get(nullifierKey(nf))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nullifier lookup: %w", err)
	}
	return key, nil
}

func (w *writer) spend(sp Spend) (bool, error) {
	key, err := w.noteKeyByNullifier(sp.Nullifier)
	if err != nil || key == nil {
		return false, err
	}
	n, err := w.loadNote(key)
	if errors.Is(err, ErrNoteNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n.Spent {
		return false, nil
	}
	if sp.Height < n.Height {
		w.s.logger.Warn().
			Str("nullifier", sp.Nullifier.String()).
			Uint64("note_height", n.Height).
			Uint64("spend_height", sp.Height).
			Msg("Ignoring spend below note height")
		return false, nil
	}
	updated := *n
	updated.Spent = true
	updated.SpentHeight = sp.Height
	updated.SpentTxID = sp.TxID
	if err := w.putNote(key, &updated); err != nil {
		return false, err
	}
	rec := SpendRecord{Spend: sp, NoteTxID: n.TxID, Value: n.Value}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal spend: %w", err)
	}
	if err := w.batch.Put(spendKey(sp), data); err != nil {
		return false, err
	}
	return true, nil
}

func (w *writer) putCheckpoint(h uint64) error {
	return w.batch.Put(keyCheckpoint, heightBytes(h))
}

func (w *writer) commit() error {
	if err := w.batch.Commit(); err != nil {
		return fmt.Errorf("wallet commit: %w", err)
	}
	return nil
}

func validateNote(n *Note) error {
	if !n.Pool.Valid() {
		return fmt.Errorf("%w: unknown pool %d", ErrInvalidNote, n.Pool)
	}
	if n.Value < 0 || n.Value > MaxMoney {
		return fmt.Errorf("%w: value %d out of range", ErrInvalidNote, n.Value)
	}
	return nil
}

func (s *Store) readNote(key []byte) (*Note, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("note get: %w", err)
	}
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("note unmarshal: %w", err)
	}
	return &n, nil
}

// InsertNotes adds notes to the store. Notes already present (same txid,
// pool and output index) are skipped. Returns the number of new notes.
func (s *Store) InsertNotes(notes []Note) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.newWriter()
	added := 0
	for _, n := range notes {
		ok, err := w.insert(n)
		if err != nil {
			return 0, err
		}
		if ok {
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}
	return added, w.commit()
}

// MarkSpent applies spends to the wallet's notes. Nullifiers that do not
// belong to the wallet and notes already spent are skipped. Returns the
// number of notes newly marked spent.
func (s *Store) MarkSpent(spends []Spend) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.newWriter()
	marked := 0
	for _, sp := range spends {
		ok, err := w.spend(sp)
		if err != nil {
			return 0, err
		}
		if ok {
			marked++
		}
	}
	if marked == 0 {
		return 0, nil
	}
	return marked, w.commit()
}

// CommitBlock atomically records the notes and spends found in a block,
// its linkage record, and advances the checkpoint to its height.
func (s *Store) CommitBlock(meta BlockMeta, notes []Note, spends []Spend) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := CommitResult{Height: meta.Height}
	cp, synced, err := s.checkpoint()
	if err != nil {
		return res, err
	}
	if synced && meta.Height <= cp {
		return res, fmt.Errorf("%w: commit %d at checkpoint %d", ErrCheckpointRegression, meta.Height, cp)
	}
	if meta.Height > 0 {
		parent, err := s.blockMeta(meta.Height - 1)
		if err != nil && !errors.Is(err, ErrBlockNotFound) {
			return res, err
		}
		if parent != nil && parent.Hash != meta.PrevHash {
			return res, fmt.Errorf("%w: height %d prev %s, stored %s",
				ErrBrokenLinkage, meta.Height, meta.PrevHash, parent.Hash)
		}
	}

	w := s.newWriter()
	for _, n := range notes {
		if n.Height != meta.Height {
			return res, fmt.Errorf("%w: note height %d in block %d", ErrInvalidNote, n.Height, meta.Height)
		}
		ok, err := w.insert(n)
		if err != nil {
			return res, err
		}
		if ok {
			res.NotesAdded++
		}
	}
	for _, sp := range spends {
		ok, err := w.spend(sp)
		if err != nil {
			return res, err
		}
		if ok {
			res.Spent++
		}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return res, fmt.Errorf("marshal block meta: %w", err)
	}
	if err := w.batch.Put(blockKey(meta.Height), data); err != nil {
		return res, err
	}
	if err := w.putCheckpoint(meta.Height); err != nil {
		return res, err
	}
	if err := w.commit(); err != nil {
		return res, err
	}

	if res.NotesAdded > 0 || res.Spent > 0 {
		s.logger.Debug().
			Uint64("height", meta.Height).
			Int("notes", res.NotesAdded).
			Int("spent", res.Spent).
			Msg("Block committed")
	}
	return res, nil
}

// NotesInRange returns the notes with start <= height <= end in
// (height, txid, pool, output index) order. Heights never scanned simply
// yield no notes.
func (s *Store) NotesInRange(start, end uint64) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notesInRange(start, end)
}

func (s *Store) notesInRange(start, end uint64) ([]Note, error) {
	if end < start {
		return nil, nil
	}
	lo := withPrefix(prefixNote, heightBytes(start))
	var hi []byte
	if end == math.MaxUint64 {
		hi = storage.PrefixEnd(prefixNote)
	} else {
		hi = withPrefix(prefixNote, heightBytes(end+1))
	}

	var notes []Note
	err := s.db.ForEachRange(lo, hi, func(_, value []byte) error {
		var n Note
		if err := json.Unmarshal(value, &n); err != nil {
			return fmt.Errorf("note unmarshal: %w", err)
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// Notes returns every note in the store.
func (s *Store) Notes() ([]Note, error) {
	return s.NotesInRange(0, math.MaxUint64)
}

// NotesByTx returns the notes received in one transaction.
func (s *Store) NotesByTx(txid types.TxID) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys [][]byte
	err := s.db.ForEach(withPrefix(prefixID, txid[:]), func(key, value []byte) error {
		h, err := decodeHeight(value)
		if err != nil {
			return err
		}
		keys = append(keys, withPrefix(prefixNote, heightBytes(h), key[len(prefixID):]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	notes := make([]Note, 0, len(keys))
	for _, k := range keys {
		n, err := s.readNote(k)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Pool != notes[j].Pool {
			return notes[i].Pool < notes[j].Pool
		}
		return notes[i].OutputIndex < notes[j].OutputIndex
	})
	return notes, nil
}

// Note returns a single note by id.
func (s *Store) Note(id NoteID) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.db.Get(idKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("note lookup: %w", err)
	}
	h, err := decodeHeight(v)
	if err != nil {
		return nil, err
	}
	return s.readNote(noteKey(h, id))
}

// SpendsInRange returns spends of the wallet's notes revealed at
// start <= height <= end, ordered by height.
func (s *Store) SpendsInRange(start, end uint64) ([]SpendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spendsInRange(start, end)
}

func (s *Store) spendsInRange(start, end uint64) ([]SpendRecord, error) {
	if end < start {
		return nil, nil
	}
	lo := withPrefix(prefixSpend, heightBytes(start))
	var hi []byte
	if end == math.MaxUint64 {
		hi = storage.PrefixEnd(prefixSpend)
	} else {
		hi = withPrefix(prefixSpend, heightBytes(end+1))
	}
	var out []SpendRecord
	err := s.db.ForEachRange(lo, hi, func(_, value []byte) error {
		var rec SpendRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("spend unmarshal: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Checkpoint returns the highest fully committed height. synced is false
// when nothing has been committed yet.
func (s *Store) Checkpoint() (height uint64, synced bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint()
}

func (s *Store) checkpoint() (uint64, bool, error) {
	v, err := s.db.Get(keyCheckpoint)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint get: %w", err)
	}
	h, err := decodeHeight(v)
	if err != nil {
		return 0, false, err
	}
	return h, true, nil
}

// AdvanceCheckpoint moves the checkpoint forward to height. Moving it
// backward is refused; only RollbackTo lowers it.
func (s *Store) AdvanceCheckpoint(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, synced, err := s.checkpoint()
	if err != nil {
		return err
	}
	if synced && height < cp {
		return fmt.Errorf("%w: %d < %d", ErrCheckpointRegression, height, cp)
	}
	if synced && height == cp {
		return nil
	}
	return s.db.Put(keyCheckpoint, heightBytes(height))
}

// BlockMeta returns the linkage record committed at height.
func (s *Store) BlockMeta(height uint64) (*BlockMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockMeta(height)
}

func (s *Store) blockMeta(height uint64) (*BlockMeta, error) {
	data, err := s.db.Get(blockKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("block meta get: %w", err)
	}
	var m BlockMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("block meta unmarshal: %w", err)
	}
	return &m, nil
}

// BlockHash returns the hash committed at height, if any.
func (s *Store) BlockHash(height uint64) (types.Hash, bool, error) {
	m, err := s.BlockMeta(height)
	if errors.Is(err, ErrBlockNotFound) {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, err
	}
	return m.Hash, true, nil
}

// LowestBlock returns the lowest height with a linkage record.
func (s *Store) LowestBlock() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		h     uint64
		found bool
		stop  = errors.New("stop")
	)
	err := s.db.ForEach(prefixBlock, func(key, _ []byte) error {
		var err error
		h, err = heightFromKey(key)
		if err != nil {
			return err
		}
		found = true
		return stop
	})
	if err != nil && !errors.Is(err, stop) {
		return 0, false, err
	}
	return h, found, nil
}

// RollbackTo discards everything above height: notes received above it are
// deleted, notes spent above it become unspent again, linkage records above
// it are removed, and the checkpoint is set to height. All in one batch.
func (s *Store) RollbackTo(height uint64) (RollbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height == math.MaxUint64 {
		return RollbackResult{Height: height}, nil
	}
	return s.discardFrom(height+1, func(w *writer) error {
		cp, synced, err := s.checkpoint()
		if err != nil {
			return err
		}
		if synced && cp > height {
			return w.putCheckpoint(height)
		}
		return nil
	})
}

// Reset discards every note, spend, linkage record and the checkpoint,
// keeping the birthday. The next sync starts from scratch.
func (s *Store) Reset() (RollbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.discardFrom(0, func(w *writer) error {
		return w.batch.Delete(keyCheckpoint)
	})
}

// discardFrom removes all state at heights >= lo and lets fix adjust the
// checkpoint in the same batch. Callers hold s.mu.
func (s *Store) discardFrom(lo uint64, fix func(w *writer) error) (RollbackResult, error) {
	var res RollbackResult
	if lo > 0 {
		res.Height = lo - 1
	}
	w := s.newWriter()

	notes, err := s.notesInRange(lo, math.MaxUint64)
	if err != nil {
		return res, err
	}
	for i := range notes {
		n := &notes[i]
		id := n.ID()
		key := noteKey(n.Height, id)
		w.deleted[string(key)] = true
		if err := w.batch.Delete(key); err != nil {
			return res, err
		}
		if err := w.batch.Delete(idKey(id)); err != nil {
			return res, err
		}
		if err := w.batch.Delete(nullifierKey(n.Nullifier)); err != nil {
			return res, err
		}
		res.NotesRemoved++
	}

	spends, err := s.spendsInRange(lo, math.MaxUint64)
	if err != nil {
		return res, err
	}
	for _, rec := range spends {
		if err := w.batch.Delete(spendKey(rec.Spend)); err != nil {
			return res, err
		}
		key, err := w.noteKeyByNullifier(rec.Nullifier)
		if err != nil {
			return res, err
		}
		if key == nil {
			continue
		}
		n, err := w.loadNote(key)
		if errors.Is(err, ErrNoteNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		restored := *n
		restored.Spent, restored.SpentHeight, restored.SpentTxID = false, 0, types.TxID{}
		if err := w.putNote(key, &restored); err != nil {
			return res, err
		}
		res.SpendsReverted++
	}

	err = s.db.ForEachRange(blockKey(lo), storage.PrefixEnd(prefixBlock), func(key, _ []byte) error {
		res.BlocksRemoved++
		return w.batch.Delete(key)
	})
	if err != nil {
		return res, err
	}

	if err := fix(w); err != nil {
		return res, err
	}
	if err := w.commit(); err != nil {
		return res, err
	}

	s.logger.Info().
		Uint64("from", lo).
		Int("notes_removed", res.NotesRemoved).
		Int("spends_reverted", res.SpendsReverted).
		Int("blocks_removed", res.BlocksRemoved).
		Msg("Rolled back wallet state")
	return res, nil
}

// SetBirthday records the first height the wallet needs scanned.
func (s *Store) SetBirthday(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(keyBirthday, heightBytes(height))
}

// Birthday returns the recorded birthday height, if any.
func (s *Store) Birthday() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.db.Get(keyBirthday)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("birthday get: %w", err)
	}
	h, err := decodeHeight(v)
	if err != nil {
		return 0, false, err
	}
	return h, true, nil
}

// compareTxID orders transaction ids bytewise.
func compareTxID(a, b types.TxID) int {
	return bytes.Compare(a[:], b[:])
}
