package decrypt

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// ErrTxNotInBlock is returned by DecryptTransaction when the block does not
// contain the requested transaction.
var ErrTxNotInBlock = errors.New("transaction not in block")

// Engine trial-decrypts every output of a block against a viewing key.
type Engine struct {
	pools   map[block.Pool]Pool
	workers int
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of outputs decrypted concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMetrics records decryption outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPools replaces the default pool set.
func WithPools(pools ...Pool) Option {
	return func(e *Engine) {
		e.pools = make(map[block.Pool]Pool, len(pools))
		for _, p := range pools {
			e.pools[p.ID()] = p
		}
	}
}

// WithLogger sets the logger used for malformed outputs.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with the sapling and orchard pools.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers: runtime.GOMAXPROCS(0),
		logger:  klog.WithComponent("decrypt"),
	}
	WithPools(Sapling(), Orchard())(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pool returns the registered implementation of id.
func (e *Engine) Pool(id block.Pool) (Pool, bool) {
	p, ok := e.pools[id]
	return p, ok
}

// Keys derives a detection key for every registered pool vk covers.
func (e *Engine) Keys(vk *keys.ViewingKey) (map[block.Pool]*DetectionKey, error) {
	if vk == nil {
		return nil, fmt.Errorf("%w: nil viewing key", keys.ErrInvalidKey)
	}
	dks := make(map[block.Pool]*DetectionKey, len(e.pools))
	for _, id := range vk.Pools() {
		p, ok := e.pools[id]
		if !ok {
			continue
		}
		dk, err := p.DeriveDetectionKey(vk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", keys.ErrInvalidKey, err)
		}
		dks[id] = dk
	}
	if len(dks) == 0 {
		return nil, fmt.Errorf("%w: no supported pool", keys.ErrInvalidKey)
	}
	return dks, nil
}

// DecryptBlock returns the notes in blk that belong to vk, ordered by
// (tx index, pool, output index). Outputs for other keys are skipped
// silently and malformed outputs are logged and skipped; neither fails the
// block.
func (e *Engine) DecryptBlock(blk *block.CompactBlock, vk *keys.ViewingKey) ([]wallet.Note, error) {
	dks, err := e.Keys(vk)
	if err != nil {
		return nil, err
	}
	return e.DecryptBlockWithKeys(blk, dks)
}

// DecryptBlockWithKeys is DecryptBlock with pre-derived detection keys, so a
// sync loop derives them once.
func (e *Engine) DecryptBlockWithKeys(blk *block.CompactBlock, dks map[block.Pool]*DetectionKey) ([]wallet.Note, error) {
	return e.decrypt(blk, dks, nil)
}

// DecryptTransaction decrypts only the outputs of transaction txid in blk.
func (e *Engine) DecryptTransaction(blk *block.CompactBlock, txid types.TxID, vk *keys.ViewingKey) ([]wallet.Note, error) {
	if blk == nil {
		return nil, block.ErrNilBlock
	}
	tx := blk.FindTx(txid)
	if tx == nil {
		return nil, fmt.Errorf("%w: %s at height %d", ErrTxNotInBlock, txid, blk.Height)
	}
	dks, err := e.Keys(vk)
	if err != nil {
		return nil, err
	}
	return e.decrypt(blk, dks, tx)
}

type job struct {
	tx    *block.CompactTx
	out   *block.CompactOutput
	index uint32
}

func (e *Engine) decrypt(blk *block.CompactBlock, dks map[block.Pool]*DetectionKey, only *block.CompactTx) ([]wallet.Note, error) {
	if blk == nil {
		return nil, block.ErrNilBlock
	}
	start := time.Now()

	var jobs []job
	for _, tx := range blk.Txs {
		if tx == nil || (only != nil && tx != only) {
			continue
		}
		idx := tx.PoolIndexes()
		for i := range tx.Outputs {
			jobs = append(jobs, job{tx: tx, out: &tx.Outputs[i], index: idx[i]})
		}
	}

	found := make([]*wallet.Note, len(jobs))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range jobs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: height %d tx %s output %d: %v",
						ErrDecryptPanic, blk.Height, jobs[i].tx.Hash, jobs[i].index, r)
				}
			}()
			found[i] = e.tryOutput(blk, jobs[i], dks)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error().Err(err).Uint64("height", blk.Height).Msg("Trial decryption panicked")
		return nil, err
	}

	var notes []wallet.Note
	for _, n := range found {
		if n != nil {
			notes = append(notes, *n)
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		a, b := &notes[i], &notes[j]
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		if a.Pool != b.Pool {
			return a.Pool < b.Pool
		}
		return a.OutputIndex < b.OutputIndex
	})
	e.metrics.BlockDecrypted(time.Since(start))
	return notes, nil
}

func (e *Engine) tryOutput(blk *block.CompactBlock, j job, dks map[block.Pool]*DetectionKey) *wallet.Note {
	pool, known := e.pools[j.out.Pool]
	if !known {
		e.malformed(blk, j, fmt.Errorf("%w: unknown pool %d", ErrMalformedOutput, j.out.Pool))
		return nil
	}
	dk, ok := dks[j.out.Pool]
	if !ok {
		e.metrics.Output(j.out.Pool.String(), "not_for_key")
		return nil
	}

	pt, err := pool.TryDecryptOutput(dk, j.out)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotForKey):
		e.metrics.Output(j.out.Pool.String(), "not_for_key")
		return nil
	default:
		e.malformed(blk, j, err)
		return nil
	}
	e.metrics.Output(j.out.Pool.String(), "note")

	n := &wallet.Note{
		TxID:        j.tx.Hash,
		Pool:        j.out.Pool,
		OutputIndex: j.index,
		TxIndex:     j.tx.Index,
		Height:      blk.Height,
		Value:       pt.Value,
		Timestamp:   int64(blk.Time),
		Nullifier:   pt.Nullifier,
		Commitment:  j.out.Commitment,
	}
	if pt.Memo != nil {
		n.Memo, n.MemoKind = wallet.DecodeMemo(pt.Memo)
		if n.MemoKind == wallet.MemoOpaque {
			n.MemoRaw = pt.Memo
		}
	}
	return n
}

func (e *Engine) malformed(blk *block.CompactBlock, j job, err error) {
	e.metrics.Output(j.out.Pool.String(), "malformed")
	e.logger.Warn().
		Err(err).
		Uint64("height", blk.Height).
		Str("txid", j.tx.Hash.String()).
		Str("pool", j.out.Pool.String()).
		Uint32("output", j.index).
		Msg("Skipping malformed output")
}
