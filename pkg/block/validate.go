package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Validation errors.
var (
	ErrNilBlock        = errors.New("nil block")
	ErrNilTx           = errors.New("nil transaction")
	ErrBadTxOrder      = errors.New("transactions not in index order")
	ErrDuplicateTx     = errors.New("duplicate transaction id in block")
	ErrUnknownPool     = errors.New("unknown shielded pool")
	ErrTooManyTxs      = errors.New("too many transactions in block")
	ErrTooManyOutputs  = errors.New("too many outputs in transaction")
	ErrHeightMismatch  = errors.New("block height mismatch")
	ErrLinkageMismatch = errors.New("block does not link to its parent")
)

// Structural limits for a compact block. Real blocks are far below these.
const (
	MaxBlockTxs  = 20000
	MaxTxOutputs = 5000
)

// Validate checks block structure. It does not check the content of
// individual outputs; an undecodable output is only an output-level failure.
func (b *CompactBlock) Validate() error {
	if b == nil {
		return ErrNilBlock
	}
	if len(b.Txs) > MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Txs), MaxBlockTxs)
	}

	seen := make(map[types.TxID]struct{}, len(b.Txs))
	for i, tx := range b.Txs {
		if tx == nil {
			return fmt.Errorf("tx %d: %w", i, ErrNilTx)
		}
		if i > 0 && tx.Index <= b.Txs[i-1].Index {
			return fmt.Errorf("%w: tx %d index %d after %d", ErrBadTxOrder, i, tx.Index, b.Txs[i-1].Index)
		}
		if _, dup := seen[tx.Hash]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTx, tx.Hash)
		}
		seen[tx.Hash] = struct{}{}

		if len(tx.Outputs) > MaxTxOutputs {
			return fmt.Errorf("tx %s: %w: %d outputs, max %d", tx.Hash, ErrTooManyOutputs, len(tx.Outputs), MaxTxOutputs)
		}
		for j, sp := range tx.Spends {
			if !sp.Pool.Valid() {
				return fmt.Errorf("tx %s spend %d: %w: %d", tx.Hash, j, ErrUnknownPool, sp.Pool)
			}
		}
		for j, out := range tx.Outputs {
			if !out.Pool.Valid() {
				return fmt.Errorf("tx %s output %d: %w: %d", tx.Hash, j, ErrUnknownPool, out.Pool)
			}
		}
	}
	return nil
}

// ValidateRange checks that blocks cover [start, start+len) in order and
// that each block links to the one before it.
func ValidateRange(blocks []*CompactBlock, start uint64) error {
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", start+uint64(i), err)
		}
		if b.Height != start+uint64(i) {
			return fmt.Errorf("%w: got %d, want %d", ErrHeightMismatch, b.Height, start+uint64(i))
		}
		if i > 0 && b.PrevHash != blocks[i-1].Hash {
			return fmt.Errorf("%w: height %d", ErrLinkageMismatch, b.Height)
		}
	}
	return nil
}
