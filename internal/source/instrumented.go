package source

import (
	"context"
	"time"

	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Instrumented records request latency and failures of a source.
type Instrumented struct {
	src     Source
	metrics *metrics.Metrics
}

// NewInstrumented wraps src. A nil m records nothing.
func NewInstrumented(src Source, m *metrics.Metrics) *Instrumented {
	return &Instrumented{src: src, metrics: m}
}

// FetchBlocks implements Source.
func (i *Instrumented) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	t := time.Now()
	blocks, err := i.src.FetchBlocks(ctx, start, end)
	i.metrics.Fetch("blocks", time.Since(t), err)
	return blocks, err
}

// LatestHeight implements Source.
func (i *Instrumented) LatestHeight(ctx context.Context) (uint64, error) {
	t := time.Now()
	h, err := i.src.LatestHeight(ctx)
	i.metrics.Fetch("latest_height", time.Since(t), err)
	return h, err
}

// TransactionHeight implements Source.
func (i *Instrumented) TransactionHeight(ctx context.Context, txid types.TxID) (uint64, error) {
	t := time.Now()
	h, err := i.src.TransactionHeight(ctx, txid)
	i.metrics.Fetch("transaction_height", time.Since(t), err)
	return h, err
}

// FetchTransaction implements TxFetcher when the wrapped source does.
func (i *Instrumented) FetchTransaction(ctx context.Context, txid types.TxID) (*block.CompactTx, uint64, error) {
	f, ok := i.src.(TxFetcher)
	if !ok {
		return nil, 0, errNoTxFetch
	}
	t := time.Now()
	tx, h, err := f.FetchTransaction(ctx, txid)
	i.metrics.Fetch("transaction", time.Since(t), err)
	return tx, h, err
}
