package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Store is the part of the wallet store the sync loop writes to.
type Store interface {
	Checkpoint() (uint64, bool, error)
	BlockHash(height uint64) (types.Hash, bool, error)
	LowestBlock() (uint64, bool, error)
	CommitBlock(meta wallet.BlockMeta, notes []wallet.Note, spends []wallet.Spend) (wallet.CommitResult, error)
	RollbackTo(height uint64) (wallet.RollbackResult, error)
	Reset() (wallet.RollbackResult, error)
}

// Result summarizes a finished sync.
type Result struct {
	ScanID string `json:"scan_id"`
	// Start and End are the requested range after clamping End to the tip.
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	// Tip is the source's latest height when the sync began.
	Tip uint64 `json:"tip"`
	// Resumed is the first height fetched; heights below it were already
	// committed.
	Resumed       uint64 `json:"resumed"`
	LastCommitted uint64 `json:"last_committed"`
	Synced        bool   `json:"synced"`
	Blocks        int    `json:"blocks"`
	NotesFound    int    `json:"notes_found"`
	Spent         int    `json:"spent"`
	Reorgs        int    `json:"reorgs"`
	NotesRemoved  int    `json:"notes_removed"`
	// Rescanned is set when start lay below the stored blocks and the
	// store was rebuilt from start.
	Rescanned bool `json:"rescanned"`
	Retries       int    `json:"retries"`
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(s *Syncer) { s.observer = o }
}

// WithMetrics records sync metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithScanID sets the id attached to log lines and the result. A random id
// is used otherwise.
func WithScanID(id string) Option {
	return func(s *Syncer) { s.scanID = id }
}

// WithSleep replaces the backoff wait. Tests use it to skip real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Syncer) { s.sleep = fn }
}

// Syncer moves one viewing key's store forward over a source. A Syncer runs
// one Sync at a time.
type Syncer struct {
	src    source.Source
	engine *decrypt.Engine
	store  Store
	vk     *keys.ViewingKey
	cfg    Config

	observer Observer
	metrics  *metrics.Metrics
	scanID   string
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger

	running sync.Mutex
}

// New creates a Syncer. Zero fields of cfg take their defaults.
func New(src source.Source, engine *decrypt.Engine, store Store, vk *keys.ViewingKey, cfg Config, opts ...Option) *Syncer {
	def := DefaultConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = max(def.RetryMax, cfg.RetryBase)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxReorgDepth == 0 {
		cfg.MaxReorgDepth = def.MaxReorgDepth
	}
	s := &Syncer{
		src:    src,
		engine: engine,
		store:  store,
		vk:     vk,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.scanID == "" {
		s.scanID = uuid.NewString()
	}
	s.logger = klog.WithScan("sync", s.scanID)
	return s
}

// ScanID returns the id attached to this syncer's logs.
func (s *Syncer) ScanID() string {
	return s.scanID
}

// run holds the per-call state of one Sync.
type run struct {
	res    Result
	dks    map[block.Pool]*decrypt.DetectionKey
	reorgs int
}

// Sync commits every block in [start, end] to the store, resuming after the
// store's checkpoint. end is clamped to the source tip. On failure the
// returned *SyncError carries the last committed height; everything below
// it stays committed.
func (s *Syncer) Sync(ctx context.Context, start, end uint64) (*Result, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	r := &run{res: Result{ScanID: s.scanID, Start: start, End: end}}
	if end < start {
		return nil, s.fail(r, KindInvalidRange, start, 0,
			fmt.Errorf("%w: start %d after end %d", source.ErrInvalidRange, start, end))
	}
	dks, err := s.engine.Keys(s.vk)
	if err != nil {
		return nil, s.fail(r, KindInvalidKey, start, 0, err)
	}
	r.dks = dks

	var tip uint64
	if err := s.retry(ctx, r, start, KindFetch, func(ctx context.Context) error {
		var err error
		tip, err = s.src.LatestHeight(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	r.res.Tip = tip
	if tip < end {
		r.res.End = tip
	}

	if tip < start {
		r.res.Resumed = start
		s.logger.Info().Uint64("start", start).Uint64("tip", tip).Msg("Range starts above tip, nothing to sync")
		return s.finish(r)
	}
	next, err := s.resumeHeight(ctx, r, start)
	if err != nil {
		return nil, err
	}
	r.res.Resumed = next
	end = r.res.End

	s.logger.Info().
		Uint64("start", start).
		Uint64("end", end).
		Uint64("resume", next).
		Msg("Sync started")

	for next <= end {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(r, KindCancelled, next, 0, err)
		}
		hi := min(next+s.cfg.BatchSize-1, end)
		blocks, notes, err := s.fetchBatch(ctx, r, next, hi)
		if err != nil {
			return nil, err
		}
		resume, err := s.commitBatch(ctx, r, blocks, notes)
		if err != nil {
			return nil, err
		}
		next = resume
	}
	return s.finish(r)
}

func (s *Syncer) finish(r *run) (*Result, error) {
	cp, synced, err := s.store.Checkpoint()
	if err != nil {
		return nil, s.fail(r, KindStore, r.res.End, 0, err)
	}
	r.res.LastCommitted, r.res.Synced = cp, synced
	s.emit(Progress{State: StateIdle, Height: min(cp, r.res.End), Start: r.res.Start, Target: r.res.End, NotesFound: r.res.NotesFound})
	s.logger.Info().
		Uint64("checkpoint", cp).
		Int("blocks", r.res.Blocks).
		Int("notes", r.res.NotesFound).
		Int("reorgs", r.res.Reorgs).
		Msg("Sync complete")
	return &r.res, nil
}

// resumeHeight returns the first height to fetch. When the store already
// holds the checkpoint block, its hash is checked against the source so a
// reorg that happened between syncs is caught before new blocks are
// committed on top of a stale branch.
func (s *Syncer) resumeHeight(ctx context.Context, r *run, start uint64) (uint64, error) {
	cp, synced, err := s.store.Checkpoint()
	if err != nil {
		return 0, s.fail(r, KindStore, start, 0, err)
	}
	if !synced || cp+1 < start {
		return start, nil
	}
	lowest, ok, err := s.store.LowestBlock()
	if err != nil {
		return 0, s.fail(r, KindStore, start, 0, err)
	}
	if ok && start < lowest {
		return s.rescan(r, start, cp)
	}
	if cp > r.res.End {
		return cp + 1, nil
	}
	stored, ok, err := s.store.BlockHash(cp)
	if err != nil {
		return 0, s.fail(r, KindStore, cp, 0, err)
	}
	if !ok {
		return cp + 1, nil
	}
	remote, err := s.hashAt(ctx, r, cp)
	if err != nil {
		return 0, err
	}
	if remote == stored {
		return cp + 1, nil
	}
	return s.reorg(ctx, r, cp)
}

// rescan discards the store from start upward so heights below the stored
// blocks are scanned. The range is widened to the old checkpoint so no
// previously synced height is lost.
func (s *Syncer) rescan(r *run, start, cp uint64) (uint64, error) {
	var (
		rb  wallet.RollbackResult
		err error
	)
	if start == 0 {
		rb, err = s.store.Reset()
	} else {
		rb, err = s.store.RollbackTo(start - 1)
	}
	if err != nil {
		return 0, s.fail(r, KindStore, start, 0, err)
	}
	r.res.Rescanned = true
	r.res.NotesRemoved += rb.NotesRemoved
	r.res.End = max(r.res.End, min(cp, r.res.Tip))
	s.logger.Warn().
		Uint64("start", start).
		Uint64("checkpoint", cp).
		Int("notes_removed", rb.NotesRemoved).
		Msg("Start below stored blocks, rescanning")
	return start, nil
}

// fetchBatch fetches, validates and decrypts [lo, hi], retrying the whole
// batch with backoff. No height is skipped: a batch either fully succeeds
// or the sync fails.
func (s *Syncer) fetchBatch(ctx context.Context, r *run, lo, hi uint64) ([]*block.CompactBlock, [][]wallet.Note, error) {
	var (
		blocks []*block.CompactBlock
		notes  [][]wallet.Note
	)
	for attempt := 1; ; attempt++ {
		kind, err := s.attemptBatch(ctx, r, lo, hi, attempt, &blocks, &notes)
		if err == nil {
			return blocks, notes, nil
		}
		if ctx.Err() != nil {
			return nil, nil, s.fail(r, KindCancelled, lo, attempt, ctx.Err())
		}
		if wait := s.retryable(err, attempt); wait < 0 {
			return nil, nil, s.fail(r, kind, lo, attempt, err)
		} else if err := s.backoff(ctx, r, lo, attempt, wait, err); err != nil {
			return nil, nil, err
		}
	}
}

func (s *Syncer) attemptBatch(ctx context.Context, r *run, lo, hi uint64, attempt int,
	blocks *[]*block.CompactBlock, notes *[][]wallet.Note) (Kind, error) {
	s.emit(Progress{State: StateFetching, Height: lo, Start: r.res.Start, Target: r.res.End, Attempt: attempt, NotesFound: r.res.NotesFound})

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	got, err := s.src.FetchBlocks(fctx, lo, hi)
	cancel()
	if err != nil {
		return KindFetch, err
	}
	if want := hi - lo + 1; uint64(len(got)) != want {
		return KindMalformedBlock, fmt.Errorf("%w: got %d blocks for %d-%d", block.ErrHeightMismatch, len(got), lo, hi)
	}
	if err := block.ValidateRange(got, lo); err != nil {
		return KindMalformedBlock, err
	}

	s.emit(Progress{State: StateDecrypting, Height: lo, Start: r.res.Start, Target: r.res.End, Attempt: attempt, NotesFound: r.res.NotesFound})
	found := make([][]wallet.Note, len(got))
	for i, b := range got {
		ns, err := s.engine.DecryptBlockWithKeys(b, r.dks)
		if err != nil {
			return KindDecrypt, err
		}
		found[i] = ns
	}
	*blocks, *notes = got, found
	return 0, nil
}

// commitBatch commits the decrypted blocks in order and returns the next
// height to fetch. A block that does not link to the stored chain starts a
// reorg and the returned height is the first one above the fork point.
func (s *Syncer) commitBatch(ctx context.Context, r *run, blocks []*block.CompactBlock, notes [][]wallet.Note) (uint64, error) {
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return 0, s.fail(r, KindCancelled, b.Height, 0, err)
		}
		res, err := s.store.CommitBlock(wallet.MetaFromBlock(b), notes[i], wallet.SpendsFromBlock(b))
		if errors.Is(err, wallet.ErrBrokenLinkage) {
			s.logger.Warn().Uint64("height", b.Height).Msg("Block does not link to stored chain")
			return s.reorg(ctx, r, b.Height-1)
		}
		if err != nil {
			return 0, s.fail(r, KindStore, b.Height, 0, err)
		}
		r.res.Blocks++
		r.res.NotesFound += res.NotesAdded
		r.res.Spent += res.Spent
		s.metrics.Committed(b.Height)
		s.emit(Progress{State: StateCommitted, Height: b.Height, Start: r.res.Start, Target: r.res.End, NotesFound: r.res.NotesFound})
	}
	return blocks[len(blocks)-1].Height + 1, nil
}

// reorg walks back from height until the stored hash matches the source,
// rolls the store back to that fork point and returns the height to resume
// from.
func (s *Syncer) reorg(ctx context.Context, r *run, from uint64) (uint64, error) {
	r.reorgs++
	if r.reorgs > s.cfg.MaxAttempts {
		return 0, s.fail(r, KindReorgTooDeep, from, r.reorgs, ErrTooManyReorgs)
	}
	fork, err := s.findFork(ctx, r, from)
	if err != nil {
		return 0, err
	}
	rb, err := s.store.RollbackTo(fork)
	if err != nil {
		return 0, s.fail(r, KindStore, fork, 0, err)
	}
	r.res.Reorgs++
	r.res.NotesRemoved += rb.NotesRemoved
	r.res.NotesFound = max(r.res.NotesFound-rb.NotesRemoved, 0)
	s.metrics.Reorg()
	s.logger.Warn().
		Uint64("from", from).
		Uint64("fork", fork).
		Int("notes_removed", rb.NotesRemoved).
		Int("spends_reverted", rb.SpendsReverted).
		Msg("Reorg detected, rolled back")
	s.emit(Progress{State: StateCommitted, Height: fork, Start: r.res.Start, Target: r.res.End, NotesFound: r.res.NotesFound})
	return fork + 1, nil
}

func (s *Syncer) findFork(ctx context.Context, r *run, from uint64) (uint64, error) {
	lowest, ok, err := s.store.LowestBlock()
	if err != nil {
		return 0, s.fail(r, KindStore, from, 0, err)
	}
	if !ok || from < lowest {
		return from, nil
	}
	for h := from; ; h-- {
		if from-h >= s.cfg.MaxReorgDepth {
			return 0, s.fail(r, KindReorgTooDeep, h, 0,
				fmt.Errorf("%w: no common block within %d of height %d", ErrReorgTooDeep, s.cfg.MaxReorgDepth, from))
		}
		stored, ok, err := s.store.BlockHash(h)
		if err != nil {
			return 0, s.fail(r, KindStore, h, 0, err)
		}
		if ok {
			remote, err := s.hashAt(ctx, r, h)
			if err != nil {
				return 0, err
			}
			if remote == stored {
				return h, nil
			}
		}
		if h == lowest {
			if h == 0 {
				return 0, s.fail(r, KindReorgTooDeep, 0, 0,
					fmt.Errorf("%w: genesis block differs", ErrReorgTooDeep))
			}
			return h - 1, nil
		}
	}
}

func (s *Syncer) hashAt(ctx context.Context, r *run, height uint64) (types.Hash, error) {
	var hash types.Hash
	err := s.retry(ctx, r, height, KindFetch, func(ctx context.Context) error {
		var err error
		hash, err = source.BlockHash(ctx, s.src, height)
		return err
	})
	return hash, err
}

// retry runs fn with the per-attempt timeout until it succeeds, fails
// with a non-retryable error or runs out of attempts.
func (s *Syncer) retry(ctx context.Context, r *run, height uint64, kind Kind, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		err := fn(fctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return s.fail(r, KindCancelled, height, attempt, ctx.Err())
		}
		wait := s.retryable(err, attempt)
		if wait < 0 {
			return s.fail(r, kind, height, attempt, err)
		}
		if err := s.backoff(ctx, r, height, attempt, wait, err); err != nil {
			return err
		}
	}
}

// retryable returns the wait before the next attempt, or -1 when err is
// final. Invalid ranges and missing data are final; everything else,
// malformed blocks included, is retried.
func (s *Syncer) retryable(err error, attempt int) time.Duration {
	if attempt >= s.cfg.MaxAttempts {
		return -1
	}
	if errors.Is(err, source.ErrInvalidRange) || errors.Is(err, context.Canceled) {
		return -1
	}
	if errors.Is(err, source.ErrNotFound) && !source.Retryable(err) {
		return -1
	}
	return s.cfg.Backoff(attempt)
}

func (s *Syncer) backoff(ctx context.Context, r *run, height uint64, attempt int, wait time.Duration, cause error) error {
	r.res.Retries++
	s.metrics.Retry()
	s.emit(Progress{State: StateError, Height: height, Start: r.res.Start, Target: r.res.End, Attempt: attempt, NotesFound: r.res.NotesFound, Err: cause})
	s.logger.Warn().
		Err(cause).
		Uint64("height", height).
		Int("attempt", attempt).
		Dur("backoff", wait).
		Msg("Sync step failed, retrying")
	if err := s.sleep(ctx, wait); err != nil {
		return s.fail(r, KindCancelled, height, attempt, err)
	}
	return nil
}

// fail builds the terminal error and reports it.
func (s *Syncer) fail(r *run, kind Kind, height uint64, attempts int, err error) error {
	se := &SyncError{Kind: kind, Height: height, Attempts: attempts, Err: err}
	if cp, synced, cerr := s.store.Checkpoint(); cerr == nil {
		se.LastCommitted, se.Synced = cp, synced
	}
	s.emit(Progress{State: StateError, Height: height, Start: r.res.Start, Target: r.res.End, Attempt: attempts, NotesFound: r.res.NotesFound, Err: se})
	if kind == KindCancelled {
		s.logger.Info().Uint64("height", height).Msg("Sync cancelled")
	} else {
		s.logger.Error().Err(err).Str("kind", kind.String()).Uint64("height", height).Msg("Sync failed")
	}
	return se
}

func (s *Syncer) emit(p Progress) {
	if s.observer != nil {
		s.observer(p)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
