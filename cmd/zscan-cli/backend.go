package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/Klingon-tech/shieldscan/config"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/node"
	"github.com/Klingon-tech/shieldscan/internal/rpc"
	"github.com/Klingon-tech/shieldscan/internal/rpcclient"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/storage"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
)

// backend runs commands either in-process or against a zscand.
type backend interface {
	Scan(ctx context.Context, p rpc.ScanParam) (*rpc.ScanResult, error)
	DecryptMemo(ctx context.Context, p rpc.MemoParam) (*rpc.MemoResult, error)
	Sync(ctx context.Context, p rpc.WalletSyncParam) (*rpc.WalletSyncResult, error)
	Status(ctx context.Context, p rpc.KeyParam) (*scan.Status, error)
	Balance(ctx context.Context, p rpc.WalletBalanceParam) (*rpc.WalletBalanceResult, error)
	History(ctx context.Context, p rpc.WalletHistoryParam) ([]rpc.TransactionResult, error)
	Import(ctx context.Context, p rpc.WalletImportParam) error
	List(ctx context.Context) ([]*wallet.KeyInfo, error)
	Forget(ctx context.Context, p rpc.KeyParam) error
	Close()
}

type remote struct {
	*rpcclient.Client
}

func (remote) Close() {}

// local scans in-process with the persisted state of the data directory.
// The wallet database is opened on first use so one-off scans do not
// contend with a running daemon for its lock.
type local struct {
	cfg      *config.Config
	svc      *scan.Service
	db       storage.DB
	wallets  *scan.Wallets
	keystore *wallet.Keystore
	progress io.Writer
}

func newLocal(cfg *config.Config, progress io.Writer) (*local, error) {
	svc, err := node.NewScanService(cfg, nil)
	if err != nil {
		return nil, err
	}
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		svc.Close()
		return nil, err
	}
	return &local{cfg: cfg, svc: svc, keystore: ks, progress: progress}, nil
}

func (l *local) Close() {
	l.svc.Close()
	if l.db != nil {
		l.db.Close()
	}
}

func (l *local) walletStore() (*scan.Wallets, error) {
	if l.wallets != nil {
		return l.wallets, nil
	}
	db, err := node.OpenWalletDB(l.cfg)
	if err != nil {
		return nil, err
	}
	l.db = db
	l.wallets = scan.NewWallets(db, l.svc)
	return l.wallets, nil
}

// openWallet resolves p and opens the wallet database.
func (l *local) openWallet(p rpc.KeyParam) (*scan.Wallets, *keys.ViewingKey, *wallet.KeyInfo, error) {
	vk, info, err := l.key(p)
	if err != nil {
		return nil, nil, nil, err
	}
	w, err := l.walletStore()
	if err != nil {
		return nil, nil, nil, err
	}
	return w, vk, info, nil
}

// observer prints sync progress on one rewritten line.
func (l *local) observer() syncer.Observer {
	if l.progress == nil {
		return nil
	}
	return func(p syncer.Progress) {
		if p.State != syncer.StateCommitted {
			return
		}
		fmt.Fprintf(l.progress, "\rSynced %d/%d (%.1f%%), %d notes", p.Height, p.Target, p.Percent(), p.NotesFound)
	}
}

func (l *local) done() {
	if l.progress != nil {
		fmt.Fprintln(l.progress)
	}
}

func (l *local) Scan(ctx context.Context, p rpc.ScanParam) (*rpc.ScanResult, error) {
	defer l.done()
	res, err := l.svc.Scan(ctx, scan.ScanRequest{
		ViewingKey: p.ViewingKey,
		Start:      p.Start,
		End:        p.End,
		Server:     p.Server,
		Observer:   l.observer(),
	})
	if err != nil {
		return nil, err
	}
	return rpc.NewScanResult(res), nil
}

func (l *local) DecryptMemo(ctx context.Context, p rpc.MemoParam) (*rpc.MemoResult, error) {
	res, err := l.svc.DecryptMemo(ctx, scan.MemoRequest{ViewingKey: p.ViewingKey, TxID: p.TxID, Server: p.Server})
	if err != nil {
		return nil, err
	}
	return rpc.NewMemoResult(res), nil
}

// key resolves p the way the daemon does.
func (l *local) key(p rpc.KeyParam) (*keys.ViewingKey, *wallet.KeyInfo, error) {
	if p.ViewingKey != "" {
		vk, err := scan.ParseKey(p.ViewingKey)
		return vk, nil, err
	}
	if p.Name == "" {
		return nil, nil, errors.New("a viewing key or wallet name is required")
	}
	return l.keystore.Load(p.Name, []byte(p.Password))
}

func (l *local) Sync(ctx context.Context, p rpc.WalletSyncParam) (*rpc.WalletSyncResult, error) {
	w, vk, info, err := l.openWallet(p.KeyParam)
	if err != nil {
		return nil, err
	}
	start, end := p.Start, p.End
	if start == 0 && info != nil {
		start = info.Birthday
	}
	if end == 0 {
		end = math.MaxUint64
	}
	defer l.done()
	res, err := w.Sync(ctx, vk, strings.TrimSpace(p.Server), start, end, l.observer())
	if err != nil {
		return nil, err
	}
	return rpc.NewWalletSyncResult(res), nil
}

func (l *local) Status(_ context.Context, p rpc.KeyParam) (*scan.Status, error) {
	w, vk, _, err := l.openWallet(p)
	if err != nil {
		return nil, err
	}
	return w.Status(vk)
}

func (l *local) Balance(_ context.Context, p rpc.WalletBalanceParam) (*rpc.WalletBalanceResult, error) {
	w, vk, _, err := l.openWallet(p.KeyParam)
	if err != nil {
		return nil, err
	}
	conf := p.Confirmations
	if conf == 0 {
		conf = l.svc.Config().Confirmations
	}
	bal, asOf, err := w.Balance(vk, p.AsOf, conf)
	if err != nil {
		return nil, err
	}
	return &rpc.WalletBalanceResult{BalanceResult: rpc.NewBalanceResult(bal), AsOf: asOf, Confirmations: conf}, nil
}

func (l *local) History(_ context.Context, p rpc.WalletHistoryParam) ([]rpc.TransactionResult, error) {
	w, vk, _, err := l.openWallet(p.KeyParam)
	if err != nil {
		return nil, err
	}
	txs, err := w.History(vk, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	return rpc.NewTransactionResults(txs), nil
}

func (l *local) Import(_ context.Context, p rpc.WalletImportParam) error {
	vk, err := scan.ParseKey(p.ViewingKey)
	if err != nil {
		return err
	}
	return l.keystore.Import(p.Name, vk, p.Birthday, []byte(p.Password), wallet.DefaultParams())
}

func (l *local) List(_ context.Context) ([]*wallet.KeyInfo, error) {
	names, err := l.keystore.List()
	if err != nil {
		return nil, err
	}
	out := make([]*wallet.KeyInfo, 0, len(names))
	for _, name := range names {
		info, err := l.keystore.Info(name)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (l *local) Forget(_ context.Context, p rpc.KeyParam) error {
	w, vk, _, err := l.openWallet(p)
	if err != nil {
		return err
	}
	return w.Forget(vk)
}

var _ backend = (*local)(nil)
var _ backend = remote{}

// openBackend picks the daemon when rpcURL is set.
func openBackend(opts globalOpts) (backend, error) {
	if opts.rpcURL != "" {
		return remote{rpcclient.New(opts.rpcURL)}, nil
	}
	cfg, err := config.Resolve(&config.Flags{
		Network:  opts.network,
		DataDir:  opts.dataDir,
		Config:   opts.configPath,
		Server:   opts.server,
		LogLevel: "warn",
	}, os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := klog.Init(cfg.Log.Level, false, ""); err != nil {
		return nil, err
	}
	var progress io.Writer
	if !opts.json {
		progress = os.Stderr
	}
	return newLocal(cfg, progress)
}
