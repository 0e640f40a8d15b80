package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	"github.com/Klingon-tech/shieldscan/internal/lightwalletd"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Config tunes the service.
type Config struct {
	// Server is used when a request names none.
	Server string
	Sync   syncer.Config
	// Confirmations is the depth at which received notes count as
	// confirmed in reported balances.
	Confirmations uint64
	// RateLimit caps requests per second to each server. Zero disables it.
	RateLimit int
	// CacheSize is the number of server connections kept open.
	CacheSize int
	// MaxRange rejects scans wider than this many heights. Zero accepts
	// any width.
	MaxRange uint64
}

// DefaultConfig returns the default service settings.
func DefaultConfig() Config {
	return Config{
		Server:        lightwalletd.DefaultServer,
		Sync:          syncer.DefaultConfig(),
		Confirmations: 10,
		RateLimit:     50,
		CacheSize:     16,
		MaxRange:      100_000,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the decryption engine.
func WithEngine(e *decrypt.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithMetrics records scan metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDialer replaces the gRPC dialer.
func WithDialer(d Dialer) Option {
	return func(s *Service) { s.dial = d }
}

// WithSource serves src for requests naming url, without dialing.
func WithSource(url string, src source.Source) Option {
	return func(s *Service) { s.pins[url] = src }
}

// WithSyncOptions adds options to every syncer the service creates.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(s *Service) { s.syncOpts = append(s.syncOpts, opts...) }
}

// Service runs scans. It is safe for concurrent use; every scan owns its
// own wallet store.
type Service struct {
	cfg      Config
	engine   *decrypt.Engine
	metrics  *metrics.Metrics
	dial     Dialer
	pins     map[string]source.Source
	syncOpts []syncer.Option
	sources  *sourcePool
	logger   zerolog.Logger
}

// New creates a Service.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Server == "" {
		cfg.Server = lightwalletd.DefaultServer
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	s := &Service{
		cfg:    cfg,
		pins:   make(map[string]source.Source),
		logger: klog.WithComponent("scan"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.engine == nil {
		s.engine = decrypt.NewEngine(decrypt.WithMetrics(s.metrics))
	}
	if s.dial == nil {
		s.dial = GRPCDialer(lightwalletd.Options{Timeout: cfg.Sync.FetchTimeout})
	}
	pool, err := newSourcePool(cfg.CacheSize, s.dial, cfg.RateLimit, s.metrics, s.logger)
	if err != nil {
		return nil, err
	}
	for url, src := range s.pins {
		pool.pin(url, src)
	}
	s.sources = pool
	return s, nil
}

// Close releases the pooled server connections.
func (s *Service) Close() {
	s.sources.close()
}

// Engine returns the decryption engine.
func (s *Service) Engine() *decrypt.Engine {
	return s.engine
}

// Config returns the service settings.
func (s *Service) Config() Config {
	return s.cfg
}

// Source leases the shaped source for server; an empty server means the
// default one. release must be called when the caller is done with it.
func (s *Service) Source(server string) (src source.Source, release func(), err error) {
	server = strings.TrimSpace(server)
	if server == "" {
		server = s.cfg.Server
	}
	return s.sources.get(server)
}

// ScanRequest asks for the history of a viewing key over [Start, End].
type ScanRequest struct {
	ViewingKey string
	Start      uint64
	End        uint64
	Server     string
	Observer   syncer.Observer
}

// ScanResult is a finished scan.
type ScanResult struct {
	ScanID       string               `json:"scan_id"`
	Network      types.Network        `json:"network"`
	Transactions []wallet.Transaction `json:"transactions"`
	Balance      wallet.Balance       `json:"balance"`
	Notes        []wallet.Note        `json:"notes"`
	LastHeight   uint64               `json:"last_height"`
	Stats        syncer.Result        `json:"stats"`
}

// ParseKey parses a viewing key string, classifying failures as
// KindInvalidKey.
func ParseKey(s string) (*keys.ViewingKey, error) {
	vk, err := keys.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, &Error{Kind: KindInvalidKey, Err: err}
	}
	return vk, nil
}

// Scan syncs the key over the requested range into a fresh store and
// reports the transactions in range and the balance of the notes unspent at
// the last committed height, confirmed by depth below the chain tip.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	id := uuid.NewString()
	logger := klog.WithScan("scan", id)

	vk, err := ParseKey(req.ViewingKey)
	if err != nil {
		return nil, s.wrap(id, err)
	}
	if req.End < req.Start {
		return nil, s.wrap(id, fmt.Errorf("%w: start_height %d after end_height %d", ErrInvalidRequest, req.Start, req.End))
	}
	if s.cfg.MaxRange > 0 && req.End-req.Start >= s.cfg.MaxRange {
		return nil, s.wrap(id, fmt.Errorf("%w: range of %d heights exceeds the limit of %d",
			ErrInvalidRequest, req.End-req.Start+1, s.cfg.MaxRange))
	}

	start := time.Now()
	logger.Info().
		Str("key", vk.Redacted()).
		Uint64("start", req.Start).
		Uint64("end", req.End).
		Msg("Scan requested")

	store := wallet.NewMemoryStore()
	if err := store.SetBirthday(req.Start); err != nil {
		return nil, s.wrap(id, err)
	}
	res, err := s.sync(ctx, id, store, vk, req.Server, req.Start, req.End, req.Observer)
	if err != nil {
		return nil, s.wrap(id, err)
	}

	out := &ScanResult{ScanID: id, Network: vk.Network(), Stats: *res}
	if res.Synced {
		out.LastHeight = res.LastCommitted
	}
	if out.Transactions, err = store.Transactions(req.Start, req.End); err != nil {
		return nil, s.wrap(id, err)
	}
	if out.Notes, err = store.NotesInRange(req.Start, req.End); err != nil {
		return nil, s.wrap(id, err)
	}
	if res.Synced {
		// Confirmations count from the chain tip, not the window end.
		if out.Balance, err = store.BalanceAt(res.LastCommitted, res.Tip, s.cfg.Confirmations); err != nil {
			return nil, s.wrap(id, err)
		}
	}
	if out.Transactions == nil {
		out.Transactions = []wallet.Transaction{}
	}

	logger.Info().
		Int("txs", len(out.Transactions)).
		Int64("balance", out.Balance.Total).
		Uint64("last_height", out.LastHeight).
		Dur("took", time.Since(start)).
		Msg("Scan complete")
	return out, nil
}

// Sync drives store forward for vk over [start, end] from server. It backs
// persisted wallets in the daemon and the cli.
func (s *Service) Sync(ctx context.Context, store *wallet.Store, vk *keys.ViewingKey, server string,
	start, end uint64, obs syncer.Observer) (*syncer.Result, error) {
	id := uuid.NewString()
	res, err := s.sync(ctx, id, store, vk, server, start, end, obs)
	if err != nil {
		return nil, s.wrap(id, err)
	}
	return res, nil
}

func (s *Service) sync(ctx context.Context, id string, store syncer.Store, vk *keys.ViewingKey, server string,
	start, end uint64, obs syncer.Observer) (*syncer.Result, error) {
	src, release, err := s.Source(server)
	if err != nil {
		return nil, err
	}
	defer release()
	opts := append([]syncer.Option{
		syncer.WithScanID(id),
		syncer.WithMetrics(s.metrics),
	}, s.syncOpts...)
	if obs != nil {
		opts = append(opts, syncer.WithObserver(obs))
	}
	return syncer.New(src, s.engine, store, vk, s.cfg.Sync, opts...).Sync(ctx, start, end)
}

// MemoRequest asks for the memo and value a transaction carries for a key.
type MemoRequest struct {
	ViewingKey string
	TxID       string
	Server     string
}

// MemoResult is the decryption of one transaction. Memo is nil when no
// output of the transaction carries a text memo for the key; Amount is the
// sum of the received notes. Found is false when the server does not know
// the transaction.
type MemoResult struct {
	TxID      types.TxID    `json:"txid"`
	Found     bool          `json:"found"`
	Height    uint64        `json:"height"`
	Timestamp int64         `json:"timestamp"`
	Memo      *string       `json:"memo"`
	Amount    int64         `json:"amount"`
	Notes     []wallet.Note `json:"notes"`
}

// DecryptMemo fetches one transaction and decrypts its outputs for the key.
// A transaction that pays the key nothing, or that the server does not
// know, is an empty result rather than an error.
func (s *Service) DecryptMemo(ctx context.Context, req MemoRequest) (*MemoResult, error) {
	id := uuid.NewString()
	logger := klog.WithScan("scan", id)

	vk, err := ParseKey(req.ViewingKey)
	if err != nil {
		return nil, s.wrap(id, err)
	}
	txid, err := types.HexToTxID(strings.TrimSpace(req.TxID))
	if err != nil {
		return nil, s.wrap(id, fmt.Errorf("%w: txid: %v", ErrInvalidRequest, err))
	}
	src, release, err := s.Source(req.Server)
	if err != nil {
		return nil, s.wrap(id, err)
	}
	defer release()

	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout())
	defer cancel()
	blk, err := source.TransactionBlock(fctx, src, txid)
	if errors.Is(err, source.ErrNotFound) && !source.Retryable(err) {
		logger.Info().Str("txid", txid.String()).Msg("Transaction not found")
		return &MemoResult{TxID: txid, Notes: []wallet.Note{}}, nil
	}
	if err != nil {
		return nil, s.wrap(id, err)
	}
	notes, err := s.engine.DecryptTransaction(blk, txid, vk)
	if err != nil {
		return nil, s.wrap(id, err)
	}

	out := &MemoResult{TxID: txid, Found: true, Height: blk.Height, Timestamp: int64(blk.Time), Notes: notes}
	for i := range notes {
		out.Amount += notes[i].Value
		if out.Memo == nil && notes[i].MemoKind == wallet.MemoText {
			memo := notes[i].Memo
			out.Memo = &memo
		}
	}
	if out.Notes == nil {
		out.Notes = []wallet.Note{}
	}
	logger.Info().
		Str("txid", txid.String()).
		Uint64("height", blk.Height).
		Int("notes", len(notes)).
		Msg("Transaction decrypted")
	return out, nil
}

func (s *Service) fetchTimeout() time.Duration {
	if s.cfg.Sync.FetchTimeout > 0 {
		return s.cfg.Sync.FetchTimeout
	}
	return syncer.DefaultConfig().FetchTimeout
}

// wrap turns err into an *Error carrying the scan id and progress.
func (s *Service) wrap(id string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		if se.ScanID == "" {
			se.ScanID = id
		}
		return se
	}
	out := &Error{Kind: KindOf(err), ScanID: id, Err: err}
	var syncErr *syncer.SyncError
	if errors.As(err, &syncErr) {
		out.LastHeight, out.Synced = syncErr.LastCommitted, syncErr.Synced
	}
	return out
}
