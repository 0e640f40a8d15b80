package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Memory is an in-memory chain. It backs tests and the local devnet, and
// can simulate server failures and reorganizations.
type Memory struct {
	mu       sync.RWMutex
	base     uint64
	blocks   []*block.CompactBlock
	txHeight map[types.TxID]uint64

	failNext int
	failErr  error
	calls    int
}

// NewMemory creates a chain from consecutive blocks.
func NewMemory(blocks ...*block.CompactBlock) (*Memory, error) {
	m := &Memory{txHeight: make(map[types.TxID]uint64)}
	if len(blocks) > 0 {
		m.base = blocks[0].Height
	}
	for _, b := range blocks {
		if err := m.append(b); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Append extends the chain by one block.
func (m *Memory) Append(b *block.CompactBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.blocks) == 0 {
		m.base = b.Height
	}
	return m.append(b)
}

func (m *Memory) append(b *block.CompactBlock) error {
	if err := b.Validate(); err != nil {
		return err
	}
	next := m.base + uint64(len(m.blocks))
	if b.Height != next {
		return fmt.Errorf("%w: got %d, want %d", block.ErrHeightMismatch, b.Height, next)
	}
	if n := len(m.blocks); n > 0 && b.PrevHash != m.blocks[n-1].Hash {
		return fmt.Errorf("%w: height %d", block.ErrLinkageMismatch, b.Height)
	}
	m.blocks = append(m.blocks, b)
	for _, tx := range b.Txs {
		m.txHeight[tx.Hash] = b.Height
	}
	return nil
}

// Reorg replaces every block from the height of the first given block.
func (m *Memory) Reorg(blocks ...*block.CompactBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	from := blocks[0].Height
	if from < m.base || from > m.base+uint64(len(m.blocks)) {
		return fmt.Errorf("%w: reorg from %d", ErrInvalidRange, from)
	}
	for _, b := range m.blocks[from-m.base:] {
		for _, tx := range b.Txs {
			delete(m.txHeight, tx.Hash)
		}
	}
	m.blocks = m.blocks[:from-m.base]
	for _, b := range blocks {
		if err := m.append(b); err != nil {
			return err
		}
	}
	return nil
}

// FailNext makes the next n requests fail with a retryable error wrapping
// cause.
func (m *Memory) FailNext(n int, cause error) {
	m.mu.Lock()
	m.failNext, m.failErr = n, cause
	m.mu.Unlock()
}

// Calls returns the number of requests served, failed ones included.
func (m *Memory) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Tip returns the height of the last block. ok is false for an empty chain.
func (m *Memory) Tip() (height uint64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.blocks) == 0 {
		return 0, false
	}
	return m.base + uint64(len(m.blocks)) - 1, true
}

// Block returns the block at height, or nil.
func (m *Memory) Block(height uint64) *block.CompactBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if height < m.base || height-m.base >= uint64(len(m.blocks)) {
		return nil
	}
	return m.blocks[height-m.base]
}

// request counts a call and returns the injected failure, if any.
func (m *Memory) request(op string, start, end uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext > 0 {
		m.failNext--
		return &FetchError{Op: op, Start: start, End: end, Err: m.failErr}
	}
	return nil
}

// FetchBlocks implements Source.
func (m *Memory) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Op: "blocks", Start: start, End: end, Err: err}
	}
	if end < start {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, start, end)
	}
	if err := m.request("blocks", start, end); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	tip := m.base + uint64(len(m.blocks))
	if len(m.blocks) == 0 || start < m.base || end >= tip {
		return nil, fmt.Errorf("%w: blocks %d-%d", ErrNotFound, start, end)
	}
	out := make([]*block.CompactBlock, 0, end-start+1)
	for h := start; h <= end; h++ {
		out = append(out, cloneBlock(m.blocks[h-m.base]))
	}
	return out, nil
}

// LatestHeight implements Source.
func (m *Memory) LatestHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &FetchError{Op: "latest height", Err: err}
	}
	if err := m.request("latest height", 0, 0); err != nil {
		return 0, err
	}
	h, ok := m.Tip()
	if !ok {
		return 0, fmt.Errorf("%w: empty chain", ErrNotFound)
	}
	return h, nil
}

// TransactionHeight implements Source.
func (m *Memory) TransactionHeight(ctx context.Context, txid types.TxID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &FetchError{Op: "transaction", Err: err}
	}
	if err := m.request("transaction", 0, 0); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.txHeight[txid]
	if !ok {
		return 0, fmt.Errorf("%w: tx %s", ErrNotFound, txid)
	}
	return h, nil
}

// FetchTransaction implements TxFetcher.
func (m *Memory) FetchTransaction(ctx context.Context, txid types.TxID) (*block.CompactTx, uint64, error) {
	h, err := m.TransactionHeight(ctx, txid)
	if err != nil {
		return nil, 0, err
	}
	b := m.Block(h)
	if b == nil {
		return nil, 0, fmt.Errorf("%w: tx %s", ErrNotFound, txid)
	}
	return cloneTx(b.FindTx(txid)), h, nil
}

// cloneBlock deep-copies b so callers cannot mutate the chain.
func cloneBlock(b *block.CompactBlock) *block.CompactBlock {
	c := *b
	c.Header = append([]byte(nil), b.Header...)
	c.Txs = make([]*block.CompactTx, len(b.Txs))
	for i, tx := range b.Txs {
		c.Txs[i] = cloneTx(tx)
	}
	return &c
}

func cloneTx(tx *block.CompactTx) *block.CompactTx {
	c := *tx
	c.Spends = append([]block.CompactSpend(nil), tx.Spends...)
	c.Outputs = make([]block.CompactOutput, len(tx.Outputs))
	for i, out := range tx.Outputs {
		out.EphemeralKey = append([]byte(nil), out.EphemeralKey...)
		out.Ciphertext = append([]byte(nil), out.Ciphertext...)
		c.Outputs[i] = out
	}
	return &c
}
