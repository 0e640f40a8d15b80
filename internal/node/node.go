// Package node wires configuration, storage, the scan service and the RPC
// server into a daemon that can be embedded in any binary.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/Klingon-tech/shieldscan/config"
	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/rpc"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/storage"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
)

// Node is a fully-initialized shieldscan daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db       storage.DB
	metrics  *metrics.Metrics
	svc      *scan.Service
	wallets  *scan.Wallets
	keystore *wallet.Keystore

	// Local chain (devnet only)
	devnet *Devnet

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, storage, scan service, keystore, RPC) but does NOT start
// listening. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "zscand.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("server", cfg.Server.URL).
		Str("store", string(cfg.Store.Backend)).
		Bool("devnet", cfg.Devnet).
		Msg("Starting shieldscan node")

	n := &Node{cfg: cfg, logger: logger, metrics: metrics.New()}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	fail := func(err error) (*Node, error) {
		n.close()
		return nil, err
	}

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := OpenWalletDB(cfg)
	if err != nil {
		return fail(err)
	}
	n.db = db
	logger.Info().Str("path", cfg.WalletDir()).Msg("Wallet database opened")

	// ── 3. Devnet chain ─────────────────────────────────────────────
	if cfg.Devnet {
		d, err := newDevnet(cfg.Network.ChainNetwork(), decrypt.NewEngine())
		if err != nil {
			return fail(fmt.Errorf("create devnet: %w", err))
		}
		n.devnet = d
		// Scans with no server named go to the local chain.
		cfg.Server.URL = d.URL()
		cfg.Server.Insecure = true
		logger.Info().
			Str("url", d.URL()).
			Str("key", d.Key().Encode()).
			Msg("Devnet chain ready")
	}

	// ── 4. Scan service ─────────────────────────────────────────────
	svc, err := NewScanService(cfg, n.metrics)
	if err != nil {
		return fail(fmt.Errorf("create scan service: %w", err))
	}
	n.svc = svc
	n.wallets = scan.NewWallets(db, svc)

	// ── 5. Keystore ─────────────────────────────────────────────────
	ks, err := wallet.NewKeystore(expandHome(cfg.KeystoreDir()))
	if err != nil {
		return fail(fmt.Errorf("create wallet keystore: %w", err))
	}
	n.keystore = ks

	// ── 6. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		n.rpcServer = rpc.New(cfg.RPCListenAddr(), svc, cfg.RPC,
			rpc.WithWallets(n.wallets),
			rpc.WithKeystore(ks),
			rpc.WithMetrics(n.metrics),
			rpc.WithNetwork(cfg.Network.ChainNetwork()),
		)
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return n, nil
}

// Start begins serving the devnet chain and the RPC server.
func (n *Node) Start() error {
	if n.devnet != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.devnet.serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				n.logger.Error().Err(err).Msg("Devnet server stopped")
			}
		}()
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC at %s: %w", n.cfg.RPCListenAddr(), err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	n.logger.Info().
		Str("server", n.svc.Config().Server).
		Uint64("confirmations", n.svc.Config().Confirmations).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.close()
	n.logger.Info().Msg("Goodbye!")
}

func (n *Node) close() {
	n.cancel()
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.devnet != nil {
		n.devnet.stop()
	}
	n.wg.Wait()
	if n.svc != nil {
		n.svc.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}

// Context is cancelled when the node stops.
func (n *Node) Context() context.Context {
	return n.ctx
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Service returns the scan service.
func (n *Node) Service() *scan.Service {
	return n.svc
}

// Wallets returns the persisted wallet registry.
func (n *Node) Wallets() *scan.Wallets {
	return n.wallets
}

// Keystore returns the viewing key store.
func (n *Node) Keystore() *wallet.Keystore {
	return n.keystore
}

// Devnet returns the local chain, or nil outside devnet mode.
func (n *Node) Devnet() *Devnet {
	return n.devnet
}
