package source

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

var errNoTxFetch = errors.New("source cannot fetch full transactions")

// Breaker settings.
var (
	// BreakerMinRequests is the number of requests seen before the
	// breaker may trip.
	BreakerMinRequests uint32 = 10
	// BreakerFailingRatio is the failure ratio that trips the breaker.
	BreakerFailingRatio = 0.6
	// BreakerOpenTimeout is how long the breaker stays open.
	BreakerOpenTimeout = 30 * time.Second
)

// Breaker fails fast once a source keeps failing, instead of letting every
// scan against it wait out its retries.
type Breaker struct {
	src Source
	cb  *gobreaker.CircuitBreaker
}

// NewBreaker wraps src in a circuit breaker called name.
func NewBreaker(name string, src Source) *Breaker {
	return &Breaker{
		src: src,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= BreakerMinRequests && ratio >= BreakerFailingRatio
			},
		}),
	}
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// call runs fn through the breaker. Definitive answers such as ErrNotFound
// are passed through without counting as failures.
func (b *Breaker) call(op string, fn func() error) error {
	var answer error
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && !Retryable(err) {
			answer = err
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &FetchError{Op: op, Err: err}
	}
	if err != nil {
		return err
	}
	return answer
}

// FetchBlocks implements Source.
func (b *Breaker) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	var blocks []*block.CompactBlock
	err := b.call("blocks", func() error {
		var err error
		blocks, err = b.src.FetchBlocks(ctx, start, end)
		return err
	})
	return blocks, err
}

// LatestHeight implements Source.
func (b *Breaker) LatestHeight(ctx context.Context) (uint64, error) {
	var h uint64
	err := b.call("latest height", func() error {
		var err error
		h, err = b.src.LatestHeight(ctx)
		return err
	})
	return h, err
}

// TransactionHeight implements Source.
func (b *Breaker) TransactionHeight(ctx context.Context, txid types.TxID) (uint64, error) {
	var h uint64
	err := b.call("transaction", func() error {
		var err error
		h, err = b.src.TransactionHeight(ctx, txid)
		return err
	})
	return h, err
}

// FetchTransaction implements TxFetcher when the wrapped source does.
func (b *Breaker) FetchTransaction(ctx context.Context, txid types.TxID) (*block.CompactTx, uint64, error) {
	f, ok := b.src.(TxFetcher)
	if !ok {
		return nil, 0, errNoTxFetch
	}
	var (
		tx *block.CompactTx
		h  uint64
	)
	err := b.call("transaction", func() error {
		var err error
		tx, h, err = f.FetchTransaction(ctx, txid)
		return err
	})
	return tx, h, err
}
