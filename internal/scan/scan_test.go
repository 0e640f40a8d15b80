package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

func init() {
	klog.Init("error", false, "")
}

var errBoom = errors.New("boom")

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixture struct {
	vk       *keys.ViewingKey
	mem      *source.Memory
	received types.TxID
	spent    types.TxID
	foreign  types.TxID
}

// newFixture builds heights 1-20: 5000 with memo "rent" at 3, a spend of
// that note at 8 together with 1200 change, and a foreign payment at 9.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := decrypt.NewEngine()
	vk, err := keys.Random(types.Testnet)
	if err != nil {
		t.Fatalf("keys.Random() error: %v", err)
	}
	pay := func(pool block.Pool, value int64, memo string) block.CompactOutput {
		out, err := e.Pay(vk, pool, value, memo)
		if err != nil {
			t.Fatalf("Pay() error: %v", err)
		}
		return out
	}

	f := &fixture{vk: vk}
	b := source.NewChainBuilder(1)
	b.Empty(2)
	rx := b.Block(source.Tx([]block.CompactOutput{pay(block.PoolSapling, 5000, "rent")}))
	f.received = rx.Txs[0].Hash

	notes, err := e.DecryptBlock(rx, vk)
	if err != nil || len(notes) != 1 {
		t.Fatalf("DecryptBlock() = %d notes, %v", len(notes), err)
	}
	b.Empty(4)
	tx := b.Block(source.Tx([]block.CompactOutput{pay(block.PoolOrchard, 1200, "")}, notes[0].Nullifier)).Txs[0]
	f.spent = tx.Hash

	decoy, err := e.Decoy(block.PoolSapling, 77)
	if err != nil {
		t.Fatalf("Decoy() error: %v", err)
	}
	f.foreign = b.Block(source.Tx([]block.CompactOutput{decoy})).Txs[0].Hash
	b.Empty(11)

	f.mem, err = b.Memory()
	if err != nil {
		t.Fatalf("Memory() error: %v", err)
	}
	return f
}

func testService(t *testing.T, f *fixture, opts ...Option) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server = "devnet"
	cfg.Confirmations = 3
	cfg.Sync.BatchSize = 4
	cfg.Sync.MaxAttempts = 3
	opts = append([]Option{
		WithSource("devnet", f.mem),
		WithSyncOptions(syncer.WithSleep(noSleep)),
		WithDialer(func(url string) (source.Source, io.Closer, error) {
			return nil, nil, fmt.Errorf("no server at %s", url)
		}),
	}, opts...)
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestScan(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)

	res, err := s.Scan(context.Background(), ScanRequest{ViewingKey: f.vk.Encode(), Start: 1, End: 20})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if res.LastHeight != 20 || res.ScanID == "" {
		t.Errorf("LastHeight = %d, ScanID = %q", res.LastHeight, res.ScanID)
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("Transactions = %d, want 2", len(res.Transactions))
	}
	rx, tx := res.Transactions[0], res.Transactions[1]
	if rx.TxID != f.received || rx.Amount != 5000 || rx.Memo != "rent" || rx.Height != 3 {
		t.Errorf("received tx = %+v", rx)
	}
	if tx.TxID != f.spent || tx.Amount != 1200-5000 || tx.Height != 8 {
		t.Errorf("spending tx = %+v", tx)
	}
	if res.Balance.Total != 1200 || res.Balance.Confirmed != 1200 {
		t.Errorf("Balance = %+v, want 1200 confirmed", res.Balance)
	}
	if len(res.Notes) != 2 {
		t.Errorf("Notes = %d, want 2", len(res.Notes))
	}
}

func TestScan_WindowFiltersHistory(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)

	// Only the spend falls inside the window; the note it spends was
	// received before it and is never seen.
	res, err := s.Scan(context.Background(), ScanRequest{ViewingKey: f.vk.Encode(), Start: 5, End: 20})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(res.Transactions) != 1 || res.Transactions[0].TxID != f.spent {
		t.Fatalf("Transactions = %+v, want only the change at 8", res.Transactions)
	}
	if res.Transactions[0].Amount != 1200 {
		t.Errorf("amount = %d, want 1200", res.Transactions[0].Amount)
	}
}

func TestScan_WindowBelowTipConfirmed(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)
	res, err := s.Scan(context.Background(), ScanRequest{ViewingKey: f.vk.Encode(), Start: 1, End: 9})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	// The change at 8 is 12 blocks below the tip at 20.
	if res.Stats.Tip != 20 || res.LastHeight != 9 {
		t.Errorf("tip %d last height %d, want 20 and 9", res.Stats.Tip, res.LastHeight)
	}
	if res.Balance.Confirmed != 1200 || res.Balance.Unconfirmed != 0 {
		t.Errorf("Balance = %+v, want 1200 confirmed", res.Balance)
	}
}

func TestScan_Unconfirmed(t *testing.T) {
	f := newFixture(t)
	// Pay the key near the tip.
	e := decrypt.NewEngine()
	out, err := e.Pay(f.vk, block.PoolSapling, 300, "")
	if err != nil {
		t.Fatalf("Pay() error: %v", err)
	}
	b := source.NewChainBuilder(1)
	b.Empty(19)
	b.Block(source.Tx([]block.CompactOutput{out}))
	mem, err := b.Memory()
	if err != nil {
		t.Fatalf("Memory() error: %v", err)
	}
	s := testService(t, &fixture{vk: f.vk, mem: mem})

	res, err := s.Scan(context.Background(), ScanRequest{ViewingKey: f.vk.Encode(), Start: 1, End: 20})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	// With 3 confirmations and the tip at 20 only notes at or below 17 are
	// confirmed.
	if res.Balance.Confirmed != 0 || res.Balance.Unconfirmed != 300 {
		t.Errorf("Balance = %+v, want 300 unconfirmed", res.Balance)
	}
}

func TestScan_Errors(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)
	key := f.vk.Encode()

	tests := []struct {
		name string
		req  ScanRequest
		kind Kind
	}{
		{"empty key", ScanRequest{Start: 1, End: 2}, KindInvalidKey},
		{"garbage key", ScanRequest{ViewingKey: "uview1notakey", Start: 1, End: 2}, KindInvalidKey},
		{"reversed range", ScanRequest{ViewingKey: key, Start: 5, End: 2}, KindInvalidRequest},
		{"too wide", ScanRequest{ViewingKey: key, Start: 0, End: 200_000}, KindInvalidRequest},
		{"unknown server", ScanRequest{ViewingKey: key, Start: 1, End: 2, Server: "https://nowhere:443"}, KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Scan(context.Background(), tt.req)
			if got := KindOf(err); got != tt.kind {
				t.Errorf("KindOf(%v) = %q, want %q", err, got, tt.kind)
			}
			var se *Error
			if !errors.As(err, &se) || se.ScanID == "" {
				t.Errorf("error %v carries no scan id", err)
			}
		})
	}
}

func TestScan_FetchFailureReportsProgress(t *testing.T) {
	f := newFixture(t)
	flaky := &failAfter{Source: f.mem, after: 2}
	s := testService(t, f, WithSource("flaky", flaky))

	_, err := s.Scan(context.Background(), ScanRequest{ViewingKey: f.vk.Encode(), Start: 1, End: 20, Server: "flaky"})
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("Scan() error = %v, want *Error", err)
	}
	if se.Kind != KindFetchFailure {
		t.Errorf("Kind = %q, want fetch_failure", se.Kind)
	}
	// Two batches of four committed before the source went away.
	if !se.Synced || se.LastHeight != 8 {
		t.Errorf("LastHeight = %d (synced %v), want 8", se.LastHeight, se.Synced)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("error chain lost the cause: %v", err)
	}
}

func TestScan_Cancelled(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Scan(ctx, ScanRequest{ViewingKey: f.vk.Encode(), Start: 1, End: 20})
	if got := KindOf(err); got != KindCancelled {
		t.Errorf("KindOf(%v) = %q, want cancelled", err, got)
	}
}

func TestDecryptMemo(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)
	key := f.vk.Encode()

	res, err := s.DecryptMemo(context.Background(), MemoRequest{ViewingKey: key, TxID: f.received.String()})
	if err != nil {
		t.Fatalf("DecryptMemo() error: %v", err)
	}
	if res.Memo == nil || *res.Memo != "rent" || res.Amount != 5000 || res.Height != 3 {
		t.Errorf("DecryptMemo() = %+v", res)
	}

	res, err = s.DecryptMemo(context.Background(), MemoRequest{ViewingKey: key, TxID: f.spent.String()})
	if err != nil {
		t.Fatalf("DecryptMemo(change) error: %v", err)
	}
	if res.Memo != nil || res.Amount != 1200 {
		t.Errorf("change output = memo %v amount %d, want no memo and 1200", res.Memo, res.Amount)
	}

	res, err = s.DecryptMemo(context.Background(), MemoRequest{ViewingKey: key, TxID: f.foreign.String()})
	if err != nil {
		t.Fatalf("DecryptMemo(foreign) error: %v", err)
	}
	if res.Memo != nil || res.Amount != 0 || len(res.Notes) != 0 {
		t.Errorf("foreign tx = %+v, want nothing for the key", res)
	}
}

func TestDecryptMemo_Errors(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)
	key := f.vk.Encode()

	tests := []struct {
		name string
		req  MemoRequest
		kind Kind
	}{
		{"bad key", MemoRequest{ViewingKey: "zviews1xyz", TxID: f.received.String()}, KindInvalidKey},
		{"bad txid", MemoRequest{ViewingKey: key, TxID: "xyz"}, KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.DecryptMemo(context.Background(), tt.req)
			if got := KindOf(err); got != tt.kind {
				t.Errorf("KindOf(%v) = %q, want %q", err, got, tt.kind)
			}
		})
	}
}

func TestDecryptMemo_UnknownTx(t *testing.T) {
	f := newFixture(t)
	s := testService(t, f)
	missing := types.TxID{0xfe}

	res, err := s.DecryptMemo(context.Background(), MemoRequest{ViewingKey: f.vk.Encode(), TxID: missing.String()})
	if err != nil {
		t.Fatalf("DecryptMemo() error: %v", err)
	}
	if res.Found || res.Memo != nil || res.Amount != 0 || len(res.Notes) != 0 || res.TxID != missing {
		t.Errorf("DecryptMemo() = %+v, want an empty result", res)
	}

	res, err = s.DecryptMemo(context.Background(), MemoRequest{ViewingKey: f.vk.Encode(), TxID: f.received.String()})
	if err != nil || !res.Found {
		t.Errorf("DecryptMemo(known) found=%v err=%v", res != nil && res.Found, err)
	}
}

func TestKindOf(t *testing.T) {
	fetch := &source.FetchError{Op: "blocks", Err: errBoom}
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{keys.ErrInvalidKey, KindInvalidKey},
		{fmt.Errorf("wrapped: %w", fetch), KindFetchFailure},
		{source.ErrNotFound, KindNotFound},
		{context.Canceled, KindCancelled},
		{block.ErrLinkageMismatch, KindMalformedBlock},
		{&syncer.SyncError{Kind: syncer.KindReorgTooDeep, Err: syncer.ErrReorgTooDeep}, KindReorgTooDeep},
		{&syncer.SyncError{Kind: syncer.KindFetch, Err: fetch}, KindFetchFailure},
		{&syncer.SyncError{Kind: syncer.KindFetch, Err: source.ErrNotFound}, KindNotFound},
		{&syncer.SyncError{Kind: syncer.KindDecrypt, Err: decrypt.ErrDecryptPanic}, KindInternal},
		{&Error{Kind: KindCancelled}, KindCancelled},
		{errBoom, KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type countingCloser struct{ closed int }

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestSourcePool(t *testing.T) {
	f := newFixture(t)
	dials := map[string]int{}
	closers := map[string]*countingCloser{}
	dial := func(url string) (source.Source, io.Closer, error) {
		dials[url]++
		c := &countingCloser{}
		closers[url] = c
		return f.mem, c, nil
	}

	cfg := DefaultConfig()
	cfg.CacheSize = 2
	s, err := New(cfg, WithDialer(dial))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for _, url := range []string{"a", "b", "a", "c"} {
		_, release, err := s.Source(url)
		if err != nil {
			t.Fatalf("Source(%q) error: %v", url, err)
		}
		release()
	}
	if dials["a"] != 1 || dials["b"] != 1 || dials["c"] != 1 {
		t.Errorf("dials = %v, want one per server", dials)
	}
	// "b" was least recently used when "c" arrived.
	if closers["b"].closed != 1 || closers["a"].closed != 0 {
		t.Errorf("evicted b closed %d times, a closed %d times", closers["b"].closed, closers["a"].closed)
	}
	if n := s.sources.len(); n != 2 {
		t.Errorf("cache holds %d sources, want 2", n)
	}
	s.Close()
	if closers["a"].closed != 1 || closers["c"].closed != 1 {
		t.Errorf("Close() left sources open")
	}

	// The pooled source is shaped but still serves blocks.
	s2, err := New(cfg, WithDialer(dial))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s2.Close()
	src, release, err := s2.Source("")
	if err != nil {
		t.Fatalf("Source(default) error: %v", err)
	}
	defer release()
	if _, ok := src.(*source.Instrumented); !ok {
		t.Errorf("pooled source is %T, want *source.Instrumented", src)
	}
	if h, err := src.LatestHeight(context.Background()); err != nil || h != 20 {
		t.Errorf("LatestHeight() = %d, %v", h, err)
	}
}

func TestSourcePool_LeasedSourceOutlivesEviction(t *testing.T) {
	f := newFixture(t)
	closers := map[string]*countingCloser{}
	dial := func(url string) (source.Source, io.Closer, error) {
		c := &countingCloser{}
		closers[url] = c
		return f.mem, c, nil
	}
	cfg := DefaultConfig()
	cfg.CacheSize = 1
	s, err := New(cfg, WithDialer(dial))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	src, release, err := s.Source("a")
	if err != nil {
		t.Fatalf("Source(a) error: %v", err)
	}
	// Another server pushes "a" out of the cache while it is in use.
	_, releaseB, err := s.Source("b")
	if err != nil {
		t.Fatalf("Source(b) error: %v", err)
	}
	releaseB()
	if closers["a"].closed != 0 {
		t.Fatal("leased source closed on eviction")
	}
	if _, err := src.LatestHeight(context.Background()); err != nil {
		t.Errorf("LatestHeight() on evicted lease error: %v", err)
	}

	release()
	release()
	if closers["a"].closed != 1 {
		t.Errorf("evicted source closed %d times after release, want 1", closers["a"].closed)
	}

	// Close defers to outstanding leases too.
	_, releaseC, err := s.Source("c")
	if err != nil {
		t.Fatalf("Source(c) error: %v", err)
	}
	s.Close()
	if closers["c"].closed != 0 || closers["b"].closed != 1 {
		t.Errorf("after Close() b closed %d, c closed %d; want 1 and 0", closers["b"].closed, closers["c"].closed)
	}
	releaseC()
	if closers["c"].closed != 1 {
		t.Errorf("c closed %d times after release, want 1", closers["c"].closed)
	}
}

// failAfter serves the first `after` block requests and fails the rest.
type failAfter struct {
	source.Source
	after int
	calls int
}

func (f *failAfter) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	f.calls++
	if f.calls > f.after {
		return nil, &source.FetchError{Op: "blocks", Start: start, End: end, Err: errBoom}
	}
	return f.Source.FetchBlocks(ctx, start, end)
}
