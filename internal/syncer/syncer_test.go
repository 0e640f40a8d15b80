package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

func init() {
	klog.Init("error", false, "")
}

var errBoom = errors.New("boom")

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.MaxAttempts = 3
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = 4 * time.Millisecond
	return cfg
}

type harness struct {
	t       *testing.T
	vk      *keys.ViewingKey
	engine  *decrypt.Engine
	builder *source.ChainBuilder
	mem     *source.Memory
	store   *wallet.Store
}

// newHarness builds a chain over [100, 110]. The wallet is paid 1000 at
// each of heights 101, 103 and 105.
func newHarness(t *testing.T) *harness {
	t.Helper()
	vk, err := keys.Random(types.Testnet)
	if err != nil {
		t.Fatalf("keys.Random() error: %v", err)
	}
	h := &harness{t: t, vk: vk, engine: decrypt.NewEngine(), store: wallet.NewMemoryStore()}
	h.builder = source.NewChainBuilder(100)
	for height := uint64(100); height <= 110; height++ {
		h.addBlock(h.builder, height == 101 || height == 103 || height == 105, block.PoolSapling)
	}
	h.mem, err = h.builder.Memory()
	if err != nil {
		t.Fatalf("Memory() error: %v", err)
	}
	return h
}

// addBlock appends a block with a foreign decoy and, if paid, a 1000 note
// for the wallet.
func (h *harness) addBlock(b *source.ChainBuilder, paid bool, pool block.Pool) *block.CompactBlock {
	h.t.Helper()
	decoy, err := h.engine.Decoy(block.PoolSapling, 7)
	if err != nil {
		h.t.Fatalf("Decoy() error: %v", err)
	}
	outs := []block.CompactOutput{decoy}
	if paid {
		out, err := h.engine.Pay(h.vk, pool, 1000, "")
		if err != nil {
			h.t.Fatalf("Pay() error: %v", err)
		}
		outs = append(outs, out)
	}
	return b.Block(source.Tx(outs))
}

func (h *harness) syncer(opts ...Option) *Syncer {
	return h.syncerWith(h.mem, opts...)
}

func (h *harness) syncerWith(src source.Source, opts ...Option) *Syncer {
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	return New(src, h.engine, h.store, h.vk, testConfig(), opts...)
}

func (h *harness) checkpoint() uint64 {
	h.t.Helper()
	cp, synced, err := h.store.Checkpoint()
	if err != nil {
		h.t.Fatalf("Checkpoint() error: %v", err)
	}
	if !synced {
		h.t.Fatalf("store never synced")
	}
	return cp
}

func (h *harness) notes() []wallet.Note {
	h.t.Helper()
	notes, err := h.store.Notes()
	if err != nil {
		h.t.Fatalf("Notes() error: %v", err)
	}
	return notes
}

func TestSync_Full(t *testing.T) {
	h := newHarness(t)
	res, err := h.syncer().Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Blocks != 11 || res.NotesFound != 3 {
		t.Errorf("Sync() = %d blocks, %d notes, want 11, 3", res.Blocks, res.NotesFound)
	}
	if !res.Synced || res.LastCommitted != 110 {
		t.Errorf("LastCommitted = %d (synced %v), want 110", res.LastCommitted, res.Synced)
	}
	if cp := h.checkpoint(); cp != 110 {
		t.Errorf("checkpoint = %d, want 110", cp)
	}
	bal, err := h.store.Balance(110, 1)
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if bal.Total != 3000 {
		t.Errorf("balance = %d, want 3000", bal.Total)
	}
}

func TestSync_ClampsToTip(t *testing.T) {
	h := newHarness(t)
	res, err := h.syncer().Sync(context.Background(), 100, 5000)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.End != 110 || res.LastCommitted != 110 {
		t.Errorf("End = %d, LastCommitted = %d, want 110", res.End, res.LastCommitted)
	}
}

func TestSync_StartAboveTip(t *testing.T) {
	h := newHarness(t)
	res, err := h.syncer().Sync(context.Background(), 200, 300)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Blocks != 0 || res.Synced {
		t.Errorf("Sync() = %+v, want no blocks and nothing committed", res)
	}
}

func TestSync_InvalidRange(t *testing.T) {
	h := newHarness(t)
	_, err := h.syncer().Sync(context.Background(), 105, 100)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindInvalidRange {
		t.Fatalf("Sync() error = %v, want invalid range", err)
	}
	if !errors.Is(err, source.ErrInvalidRange) {
		t.Errorf("error does not wrap ErrInvalidRange: %v", err)
	}
}

func TestSync_InvalidKey(t *testing.T) {
	h := newHarness(t)
	s := New(h.mem, h.engine, h.store, nil, testConfig())
	_, err := s.Sync(context.Background(), 100, 110)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindInvalidKey {
		t.Fatalf("Sync() error = %v, want invalid key", err)
	}
	if !errors.Is(err, keys.ErrInvalidKey) {
		t.Errorf("error does not wrap ErrInvalidKey: %v", err)
	}
}

func TestSync_Resume(t *testing.T) {
	h := newHarness(t)
	if _, err := h.syncer().Sync(context.Background(), 100, 104); err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}
	calls := h.mem.Calls()

	res, err := h.syncer().Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if res.Resumed != 105 {
		t.Errorf("Resumed = %d, want 105", res.Resumed)
	}
	if res.Blocks != 6 || res.NotesFound != 1 {
		t.Errorf("second Sync() = %d blocks, %d notes, want 6, 1", res.Blocks, res.NotesFound)
	}
	if len(h.notes()) != 3 {
		t.Errorf("store has %d notes, want 3", len(h.notes()))
	}
	// tip, checkpoint hash, then two batches.
	if got := h.mem.Calls() - calls; got != 4 {
		t.Errorf("second sync made %d requests, want 4", got)
	}
}

func TestSync_StartBelowStoredBlocks(t *testing.T) {
	h := newHarness(t)
	if _, err := h.syncer().Sync(context.Background(), 104, 110); err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}
	if n := len(h.notes()); n != 1 {
		t.Fatalf("first sync found %d notes, want 1", n)
	}

	res, err := h.syncer().Sync(context.Background(), 100, 106)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if !res.Rescanned || res.Resumed != 100 {
		t.Errorf("Sync() rescanned=%v resumed=%d, want a rescan from 100", res.Rescanned, res.Resumed)
	}
	if res.End != 110 || res.LastCommitted != 110 {
		t.Errorf("Sync() end=%d last=%d, want the old checkpoint 110 kept", res.End, res.LastCommitted)
	}
	if res.Blocks != 11 {
		t.Errorf("Sync() committed %d blocks, want 11", res.Blocks)
	}
	if n := len(h.notes()); n != 3 {
		t.Errorf("store has %d notes, want 3", n)
	}
	if low, _, _ := h.store.LowestBlock(); low != 100 {
		t.Errorf("LowestBlock() = %d, want 100", low)
	}
}

func TestSync_AlreadySynced(t *testing.T) {
	h := newHarness(t)
	if _, err := h.syncer().Sync(context.Background(), 100, 110); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	res, err := h.syncer().Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if res.Blocks != 0 || res.LastCommitted != 110 {
		t.Errorf("second Sync() = %+v, want no-op at 110", res)
	}
}

func TestSync_RetriesTransientFailure(t *testing.T) {
	h := newHarness(t)
	var states []State
	// The first batch fails twice.
	src := &failingBlocks{Source: h.mem, fails: 2}
	s := h.syncerWith(src, WithObserver(func(p Progress) { states = append(states, p.State) }))

	res, err := s.Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, want 2", res.Retries)
	}
	if res.LastCommitted != 110 {
		t.Errorf("LastCommitted = %d, want 110", res.LastCommitted)
	}
	var errs int
	for _, st := range states {
		if st == StateError {
			errs++
		}
	}
	if errs != 2 {
		t.Errorf("observer saw %d error states, want 2", errs)
	}
	if states[len(states)-1] != StateIdle {
		t.Errorf("last state = %v, want idle", states[len(states)-1])
	}
}

func TestSync_TerminalFailureKeepsProgress(t *testing.T) {
	h := newHarness(t)
	src := &failingBlocks{Source: h.mem, after: 2, fails: 100}
	_, err := h.syncerWith(src).Sync(context.Background(), 100, 110)

	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatalf("Sync() error = %v, want *SyncError", err)
	}
	if se.Kind != KindFetch || se.Attempts != 3 {
		t.Errorf("SyncError = %s after %d attempts, want fetch failure after 3", se.Kind, se.Attempts)
	}
	// Two batches of three made it in before the failures started.
	if !se.Synced || se.LastCommitted != 105 || se.Height != 106 {
		t.Errorf("LastCommitted = %d (synced %v), height %d, want 105 and 106", se.LastCommitted, se.Synced, se.Height)
	}
	if !errors.Is(err, source.ErrFetch) || !errors.Is(err, errBoom) {
		t.Errorf("error chain lost the cause: %v", err)
	}
	if cp := h.checkpoint(); cp != 105 {
		t.Errorf("checkpoint = %d, want 105", cp)
	}
}

func TestSync_MalformedBlockRetried(t *testing.T) {
	h := newHarness(t)
	src := &corruptingBlocks{Source: h.mem, times: 1}
	res, err := h.syncerWith(src).Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Retries != 1 || res.LastCommitted != 110 {
		t.Errorf("Sync() = %d retries, committed %d, want 1 and 110", res.Retries, res.LastCommitted)
	}

	h2 := newHarness(t)
	_, err = h2.syncerWith(&corruptingBlocks{Source: h2.mem, times: 100}).Sync(context.Background(), 100, 110)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindMalformedBlock {
		t.Fatalf("Sync() error = %v, want malformed block", err)
	}
	if se.Synced {
		t.Errorf("malformed first batch must not commit anything, got checkpoint %d", se.LastCommitted)
	}
}

type flakyPool struct {
	decrypt.Pool
	panics atomic.Int32
}

func (p *flakyPool) TryDecryptOutput(dk *decrypt.DetectionKey, out *block.CompactOutput) (*decrypt.Plaintext, error) {
	if p.panics.Add(-1) >= 0 {
		panic("corrupted state")
	}
	return p.Pool.TryDecryptOutput(dk, out)
}

func TestSync_DecryptPanicRetried(t *testing.T) {
	h := newHarness(t)
	pool := &flakyPool{Pool: decrypt.Sapling()}
	pool.panics.Store(1)
	h.engine = decrypt.NewEngine(decrypt.WithPools(pool), decrypt.WithWorkers(1))

	res, err := h.syncer().Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Retries != 1 || res.NotesFound != 3 {
		t.Errorf("Sync() = %d retries, %d notes, want 1 and 3", res.Retries, res.NotesFound)
	}

	pool.panics.Store(1 << 20)
	h2 := newHarness(t)
	h2.engine = decrypt.NewEngine(decrypt.WithPools(pool))
	_, err = h2.syncer().Sync(context.Background(), 100, 110)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindDecrypt {
		t.Fatalf("Sync() error = %v, want decrypt failure", err)
	}
	if !errors.Is(err, decrypt.ErrDecryptPanic) {
		t.Errorf("error does not wrap ErrDecryptPanic: %v", err)
	}
}

func TestSync_ReorgBetweenSyncs(t *testing.T) {
	h := newHarness(t)
	if _, err := h.syncer().Sync(context.Background(), 100, 105); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if n := len(h.notes()); n != 3 {
		t.Fatalf("notes before reorg = %d, want 3", n)
	}

	// Height 103 is replaced by a block with different contents; the new
	// branch pays the wallet only at 104.
	fork := h.builder.Fork(103, "b")
	for height := uint64(103); height <= 110; height++ {
		h.addBlock(fork, height == 104, block.PoolOrchard)
	}
	if err := h.mem.Reorg(fork.From(103)...); err != nil {
		t.Fatalf("Reorg() error: %v", err)
	}

	var rolledBackTo []uint64
	s := h.syncer(WithObserver(func(p Progress) {
		if p.State == StateCommitted && len(rolledBackTo) == 0 {
			rolledBackTo = append(rolledBackTo, p.Height)
		}
	}))
	res, err := s.Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Reorgs != 1 || res.NotesRemoved != 2 {
		t.Errorf("Sync() = %d reorgs, %d removed, want 1 and 2", res.Reorgs, res.NotesRemoved)
	}
	if len(rolledBackTo) != 1 || rolledBackTo[0] != 102 {
		t.Errorf("rolled back to %v, want 102", rolledBackTo)
	}
	if res.Resumed != 103 {
		t.Errorf("Resumed = %d, want 103", res.Resumed)
	}

	notes := h.notes()
	if len(notes) != 2 {
		t.Fatalf("notes after reorg = %d, want 2", len(notes))
	}
	if notes[0].Height != 101 || notes[1].Height != 104 || notes[1].Pool != block.PoolOrchard {
		t.Errorf("notes = [%d %v, %d %v], want 101 sapling, 104 orchard",
			notes[0].Height, notes[0].Pool, notes[1].Height, notes[1].Pool)
	}
	hash, ok, err := h.store.BlockHash(103)
	if err != nil || !ok {
		t.Fatalf("BlockHash(103) = %v, %v", ok, err)
	}
	if hash != h.mem.Block(103).Hash {
		t.Errorf("stored 103 is still the stale branch")
	}
}

// reorgingSource replaces the chain from a height just before serving its
// nth block request.
type reorgingSource struct {
	*source.Memory
	at     int
	blocks []*block.CompactBlock
	calls  int
}

func (r *reorgingSource) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	r.calls++
	if r.calls == r.at {
		if err := r.Memory.Reorg(r.blocks...); err != nil {
			return nil, err
		}
	}
	return r.Memory.FetchBlocks(ctx, start, end)
}

func TestSync_ReorgDuringSync(t *testing.T) {
	h := newHarness(t)
	fork := h.builder.Fork(102, "mid")
	for height := uint64(102); height <= 110; height++ {
		h.addBlock(fork, false, block.PoolSapling)
	}
	// Batch 100-102 is committed from the old branch, then the chain moves
	// before batch 103-105 is fetched.
	src := &reorgingSource{Memory: h.mem, at: 2, blocks: fork.From(102)}

	res, err := h.syncerWith(src).Sync(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Reorgs != 1 {
		t.Errorf("Reorgs = %d, want 1", res.Reorgs)
	}
	if cp := h.checkpoint(); cp != 110 {
		t.Errorf("checkpoint = %d, want 110", cp)
	}
	notes := h.notes()
	if len(notes) != 1 || notes[0].Height != 101 {
		t.Errorf("notes after reorg = %d, want only the one at 101", len(notes))
	}
	for height := uint64(100); height <= 110; height++ {
		hash, _, err := h.store.BlockHash(height)
		if err != nil {
			t.Fatalf("BlockHash(%d) error: %v", height, err)
		}
		if hash != h.mem.Block(height).Hash {
			t.Errorf("stored hash at %d does not match the source", height)
		}
	}
}

func TestSync_ReorgTooDeep(t *testing.T) {
	h := newHarness(t)
	if _, err := h.syncer().Sync(context.Background(), 100, 110); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	fork := h.builder.Fork(101, "deep")
	for height := uint64(101); height <= 112; height++ {
		h.addBlock(fork, false, block.PoolSapling)
	}
	if err := h.mem.Reorg(fork.From(101)...); err != nil {
		t.Fatalf("Reorg() error: %v", err)
	}

	cfg := testConfig()
	cfg.MaxReorgDepth = 5
	s := New(h.mem, h.engine, h.store, h.vk, cfg, WithSleep(noSleep))
	_, err := s.Sync(context.Background(), 100, 112)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindReorgTooDeep {
		t.Fatalf("Sync() error = %v, want reorg too deep", err)
	}
	if !errors.Is(err, ErrReorgTooDeep) {
		t.Errorf("error does not wrap ErrReorgTooDeep: %v", err)
	}
	if cp := h.checkpoint(); cp != 110 {
		t.Errorf("checkpoint = %d, want untouched 110", cp)
	}
}

func TestSync_ReorgBelowStoredBlocks(t *testing.T) {
	h := newHarness(t)
	if _, err := h.syncer().Sync(context.Background(), 100, 103); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	// Every stored block is replaced; the fork point is below the wallet's
	// first scanned height.
	fork := h.builder.Fork(100, "all")
	for height := uint64(100); height <= 106; height++ {
		h.addBlock(fork, height == 106, block.PoolSapling)
	}
	if err := h.mem.Reorg(fork.From(100)...); err != nil {
		t.Fatalf("Reorg() error: %v", err)
	}
	res, err := h.syncer().Sync(context.Background(), 100, 106)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Resumed != 100 || res.Blocks != 7 {
		t.Errorf("Sync() resumed %d with %d blocks, want 100 and 7", res.Resumed, res.Blocks)
	}
	notes := h.notes()
	if len(notes) != 1 || notes[0].Height != 106 {
		t.Errorf("notes = %d, want only the one at 106", len(notes))
	}
}

func TestSync_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := h.syncer(WithObserver(func(p Progress) {
		if p.State == StateCommitted && p.Height == 102 {
			cancel()
		}
	}))
	_, err := s.Sync(ctx, 100, 110)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindCancelled {
		t.Fatalf("Sync() error = %v, want cancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error does not wrap context.Canceled: %v", err)
	}
	if se.LastCommitted != 102 {
		t.Errorf("LastCommitted = %d, want 102", se.LastCommitted)
	}
	if cp := h.checkpoint(); cp != 102 {
		t.Errorf("checkpoint = %d, want 102", cp)
	}
}

func TestSync_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	src := &failingBlocks{Source: h.mem, fails: 100}
	s := New(src, h.engine, h.store, h.vk, testConfig(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return noSleep(ctx, d)
	}))
	_, err := s.Sync(ctx, 100, 110)
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindCancelled {
		t.Fatalf("Sync() error = %v, want cancelled", err)
	}
	if se.Synced {
		t.Errorf("nothing should be committed")
	}
}

func TestSync_AlreadyRunning(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s := h.syncerWith(&blockingSource{Source: h.mem, entered: entered, release: release, once: &once})

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background(), 100, 110)
		done <- err
	}()
	<-entered
	if _, err := s.Sync(context.Background(), 100, 110); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent Sync() error = %v, want ErrAlreadyRunning", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
}

func TestSync_ObserverProgress(t *testing.T) {
	h := newHarness(t)
	var last Progress
	var committed []uint64
	s := h.syncer(WithObserver(func(p Progress) {
		last = p
		if p.State == StateCommitted {
			committed = append(committed, p.Height)
		}
	}))
	if _, err := s.Sync(context.Background(), 100, 110); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if len(committed) != 11 {
		t.Fatalf("committed %d heights, want 11", len(committed))
	}
	for i, height := range committed {
		if height != 100+uint64(i) {
			t.Fatalf("committed[%d] = %d, heights must be in order", i, height)
		}
	}
	if last.State != StateIdle || last.Percent() != 100 || last.NotesFound != 3 {
		t.Errorf("final progress = %+v (%.0f%%), want idle at 100%% with 3 notes", last, last.Percent())
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMax: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestProgress_Percent(t *testing.T) {
	p := Progress{State: StateCommitted, Start: 100, Target: 109, Height: 104}
	if got := p.Percent(); got != 50 {
		t.Errorf("Percent() = %v, want 50", got)
	}
	p = Progress{State: StateFetching, Start: 100, Target: 109, Height: 100}
	if got := p.Percent(); got != 0 {
		t.Errorf("Percent() = %v, want 0", got)
	}
}

// failingBlocks fails block requests after the first `after` succeed.
type failingBlocks struct {
	source.Source
	after int
	fails int
	calls int
}

func (f *failingBlocks) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	f.calls++
	if f.calls > f.after && f.fails > 0 {
		f.fails--
		return nil, &source.FetchError{Op: "blocks", Start: start, End: end, Err: errBoom}
	}
	return f.Source.FetchBlocks(ctx, start, end)
}

// corruptingBlocks breaks the linkage of the first block in a batch.
type corruptingBlocks struct {
	source.Source
	times int
}

func (c *corruptingBlocks) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	blocks, err := c.Source.FetchBlocks(ctx, start, end)
	if err != nil || len(blocks) < 2 || c.times == 0 {
		return blocks, err
	}
	c.times--
	blocks[1].PrevHash = types.Hash{0xba, 0xd}
	return blocks, nil
}

type blockingSource struct {
	source.Source
	entered chan struct{}
	release chan struct{}
	once    *sync.Once
}

func (b *blockingSource) LatestHeight(ctx context.Context) (uint64, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Source.LatestHeight(ctx)
}
