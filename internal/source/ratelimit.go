package source

import (
	"context"

	"go.uber.org/ratelimit"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// RateLimited spaces out requests to a source so a public server is not
// flooded while catching up.
type RateLimited struct {
	src     Source
	limiter ratelimit.Limiter
}

// NewRateLimited allows at most perSecond requests per second to src.
// perSecond <= 0 disables limiting.
func NewRateLimited(src Source, perSecond int) *RateLimited {
	limiter := ratelimit.NewUnlimited()
	if perSecond > 0 {
		limiter = ratelimit.New(perSecond)
	}
	return &RateLimited{src: src, limiter: limiter}
}

func (r *RateLimited) take(ctx context.Context) error {
	r.limiter.Take()
	return ctx.Err()
}

// FetchBlocks implements Source.
func (r *RateLimited) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	if err := r.take(ctx); err != nil {
		return nil, &FetchError{Op: "blocks", Start: start, End: end, Err: err}
	}
	return r.src.FetchBlocks(ctx, start, end)
}

// LatestHeight implements Source.
func (r *RateLimited) LatestHeight(ctx context.Context) (uint64, error) {
	if err := r.take(ctx); err != nil {
		return 0, &FetchError{Op: "latest height", Err: err}
	}
	return r.src.LatestHeight(ctx)
}

// TransactionHeight implements Source.
func (r *RateLimited) TransactionHeight(ctx context.Context, txid types.TxID) (uint64, error) {
	if err := r.take(ctx); err != nil {
		return 0, &FetchError{Op: "transaction", Err: err}
	}
	return r.src.TransactionHeight(ctx, txid)
}

// FetchTransaction implements TxFetcher when the wrapped source does.
func (r *RateLimited) FetchTransaction(ctx context.Context, txid types.TxID) (*block.CompactTx, uint64, error) {
	f, ok := r.src.(TxFetcher)
	if !ok {
		return nil, 0, errNoTxFetch
	}
	if err := r.take(ctx); err != nil {
		return nil, 0, &FetchError{Op: "transaction", Err: err}
	}
	return f.FetchTransaction(ctx, txid)
}
