// Package source defines where compact blocks come from and the wrappers
// that shape traffic to a block server.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Source errors. ErrFetch failures are transient and worth retrying;
// ErrNotFound is a definitive answer.
var (
	ErrFetch        = errors.New("block source request failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidRange = errors.New("invalid height range")
)

// Source serves compact blocks and chain metadata.
type Source interface {
	// FetchBlocks returns the blocks in [start, end], ascending.
	FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error)
	// LatestHeight returns the height of the chain tip.
	LatestHeight(ctx context.Context) (uint64, error)
	// TransactionHeight returns the height of the block holding txid.
	TransactionHeight(ctx context.Context, txid types.TxID) (uint64, error)
}

// TxFetcher is implemented by sources that can return a single transaction
// with full note ciphertexts, which memos need.
type TxFetcher interface {
	FetchTransaction(ctx context.Context, txid types.TxID) (*block.CompactTx, uint64, error)
}

// FetchError describes a failed request. It matches ErrFetch and the
// underlying cause with errors.Is.
type FetchError struct {
	Op    string
	Start uint64
	End   uint64
	Err   error
}

func (e *FetchError) Error() string {
	if e.Op == "blocks" {
		return fmt.Sprintf("fetch blocks %d-%d: %v", e.Start, e.End, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrFetch and the cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

// Retryable reports whether err is a transient source failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrFetch) && !errors.Is(err, context.Canceled)
}

// BlockHash fetches the hash of the block at height.
func BlockHash(ctx context.Context, src Source, height uint64) (types.Hash, error) {
	blocks, err := src.FetchBlocks(ctx, height, height)
	if err != nil {
		return types.Hash{}, err
	}
	if len(blocks) != 1 || blocks[0] == nil || blocks[0].Height != height {
		return types.Hash{}, &FetchError{Op: "blocks", Start: height, End: height,
			Err: fmt.Errorf("server returned %d blocks", len(blocks))}
	}
	return blocks[0].Hash, nil
}

// TransactionBlock returns the block holding txid. When src is a TxFetcher
// the transaction inside the block is replaced by the full one, so its
// outputs carry memos.
func TransactionBlock(ctx context.Context, src Source, txid types.TxID) (*block.CompactBlock, error) {
	var (
		full   *block.CompactTx
		height uint64
		err    error
	)
	if f, ok := src.(TxFetcher); ok {
		full, height, err = f.FetchTransaction(ctx, txid)
	}
	if full == nil && (err == nil || errors.Is(err, errNoTxFetch)) {
		height, err = src.TransactionHeight(ctx, txid)
	}
	if err != nil {
		return nil, err
	}

	blocks, err := src.FetchBlocks(ctx, height, height)
	if err != nil {
		return nil, err
	}
	if len(blocks) != 1 || blocks[0] == nil {
		return nil, fmt.Errorf("%w: block %d", ErrNotFound, height)
	}
	blk := blocks[0]
	tx := blk.FindTx(txid)
	if tx == nil {
		return nil, fmt.Errorf("%w: tx %s in block %d", ErrNotFound, txid, height)
	}
	if full != nil {
		idx := tx.Index
		*tx = *full
		tx.Index = idx
	}
	return blk, nil
}
