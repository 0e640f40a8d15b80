package source

import (
	"context"
	"errors"
	"testing"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

var errBoom = errors.New("boom")

func testChain(t *testing.T, start uint64, n int) (*ChainBuilder, *Memory) {
	t.Helper()
	b := NewChainBuilder(start)
	for i := 0; i < n; i++ {
		b.Block(Tx(nil))
	}
	m, err := b.Memory()
	if err != nil {
		t.Fatalf("Memory() error: %v", err)
	}
	return b, m
}

func TestChainBuilder_Linkage(t *testing.T) {
	b, _ := testChain(t, 100, 5)
	blocks := b.Blocks()
	if err := block.ValidateRange(blocks, 100); err != nil {
		t.Fatalf("ValidateRange() error: %v", err)
	}
	if blocks[0].Txs[0].Hash == blocks[1].Txs[0].Hash {
		t.Error("tx ids should differ between blocks")
	}
}

func TestChainBuilder_Fork(t *testing.T) {
	b, _ := testChain(t, 0, 6)
	f := b.Fork(3, "fork")
	f.Empty(4)

	orig, forked := b.Blocks(), f.Blocks()
	if len(forked) != 7 {
		t.Fatalf("fork has %d blocks, want 7", len(forked))
	}
	if forked[2].Hash != orig[2].Hash {
		t.Error("blocks below the fork should be shared")
	}
	if forked[3].Hash == orig[3].Hash {
		t.Error("blocks from the fork height should differ")
	}
	if forked[3].PrevHash != orig[2].Hash {
		t.Error("fork should link to the shared parent")
	}
	if len(f.From(5)) != 2 {
		t.Errorf("From(5) = %d blocks, want 2", len(f.From(5)))
	}
}

func TestMemory_FetchBlocks(t *testing.T) {
	_, m := testChain(t, 10, 5)
	ctx := context.Background()

	blocks, err := m.FetchBlocks(ctx, 11, 13)
	if err != nil {
		t.Fatalf("FetchBlocks() error: %v", err)
	}
	if len(blocks) != 3 || blocks[0].Height != 11 || blocks[2].Height != 13 {
		t.Errorf("FetchBlocks(11, 13) = %d blocks", len(blocks))
	}

	// Returned blocks are copies.
	blocks[0].Txs[0].Hash = types.TxID{}
	if m.Block(11).Txs[0].Hash.IsZero() {
		t.Error("mutating a fetched block changed the chain")
	}

	if _, err := m.FetchBlocks(ctx, 13, 20); !errors.Is(err, ErrNotFound) {
		t.Errorf("past-tip error = %v, want ErrNotFound", err)
	}
	if _, err := m.FetchBlocks(ctx, 5, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("below-base error = %v, want ErrNotFound", err)
	}
	if _, err := m.FetchBlocks(ctx, 12, 11); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("inverted range error = %v, want ErrInvalidRange", err)
	}

	tip, err := m.LatestHeight(ctx)
	if err != nil || tip != 14 {
		t.Errorf("LatestHeight() = %d, %v; want 14", tip, err)
	}
}

func TestMemory_FailNext(t *testing.T) {
	_, m := testChain(t, 0, 3)
	m.FailNext(2, errBoom)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.FetchBlocks(ctx, 0, 1)
		if !errors.Is(err, ErrFetch) || !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d error = %v, want ErrFetch wrapping boom", i, err)
		}
		if !Retryable(err) {
			t.Error("injected failure should be retryable")
		}
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Start != 0 || fe.End != 1 {
			t.Errorf("FetchError = %+v", fe)
		}
	}
	if _, err := m.FetchBlocks(ctx, 0, 1); err != nil {
		t.Fatalf("third FetchBlocks() error: %v", err)
	}
	if m.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", m.Calls())
	}
}

func TestMemory_AppendAndReorg(t *testing.T) {
	b, m := testChain(t, 0, 5)

	bad := &block.CompactBlock{Height: 5, PrevHash: types.Hash{9}}
	if err := m.Append(bad); !errors.Is(err, block.ErrLinkageMismatch) {
		t.Errorf("Append() error = %v, want ErrLinkageMismatch", err)
	}

	f := b.Fork(3, "alt")
	f.Empty(3)
	if err := m.Reorg(f.From(3)...); err != nil {
		t.Fatalf("Reorg() error: %v", err)
	}
	tip, _ := m.Tip()
	if tip != 5 {
		t.Errorf("tip = %d, want 5", tip)
	}
	if m.Block(3).Hash != f.Blocks()[3].Hash {
		t.Error("block 3 should come from the fork")
	}
	old := b.Blocks()[4].Txs[0].Hash
	if _, err := m.TransactionHeight(context.Background(), old); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphaned tx error = %v, want ErrNotFound", err)
	}
}

func TestMemory_Cancelled(t *testing.T) {
	_, m := testChain(t, 0, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.FetchBlocks(ctx, 0, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if Retryable(err) {
		t.Error("cancellation should not be retryable")
	}
}

func TestTransactionBlock(t *testing.T) {
	b := NewChainBuilder(0)
	b.Empty(2)
	out := block.CompactOutput{Pool: block.PoolSapling, EphemeralKey: make([]byte, 33), Ciphertext: make([]byte, 569)}
	blk := b.Block(Tx(nil), Tx([]block.CompactOutput{out}))
	m, _ := b.Memory()
	txid := blk.Txs[1].Hash

	got, err := TransactionBlock(context.Background(), m, txid)
	if err != nil {
		t.Fatalf("TransactionBlock() error: %v", err)
	}
	if got.Height != 2 || got.FindTx(txid) == nil {
		t.Errorf("TransactionBlock() = height %d", got.Height)
	}
	if got.FindTx(txid).Index != 1 {
		t.Errorf("tx index = %d, want 1", got.FindTx(txid).Index)
	}

	if _, err := TransactionBlock(context.Background(), m, types.TxID{7}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing tx error = %v, want ErrNotFound", err)
	}
}

func TestBlockHash(t *testing.T) {
	b, m := testChain(t, 0, 3)
	h, err := BlockHash(context.Background(), m, 1)
	if err != nil {
		t.Fatalf("BlockHash() error: %v", err)
	}
	if h != b.Blocks()[1].Hash {
		t.Error("BlockHash() returned the wrong hash")
	}
}
