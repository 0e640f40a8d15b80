package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/shieldscan/config"
	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	"github.com/Klingon-tech/shieldscan/internal/lightwalletd"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/storage"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// ScanConfig translates cfg into service settings.
func ScanConfig(cfg *config.Config) scan.Config {
	return scan.Config{
		Server: cfg.Server.URL,
		Sync: syncer.Config{
			BatchSize:     cfg.Scan.BatchSize,
			MaxAttempts:   cfg.Scan.MaxAttempts,
			RetryBase:     cfg.Scan.RetryBase,
			RetryMax:      cfg.Scan.RetryMax,
			FetchTimeout:  cfg.Server.Timeout,
			MaxReorgDepth: cfg.Scan.MaxReorgDepth,
		},
		Confirmations: cfg.Scan.Confirmations,
		RateLimit:     cfg.Server.Rate,
		CacheSize:     cfg.Server.Cache,
		MaxRange:      cfg.Scan.MaxRange,
	}
}

// NewScanService builds the scan service described by cfg. m may be nil.
// opts are applied after the configured engine and dialer.
func NewScanService(cfg *config.Config, m *metrics.Metrics, opts ...scan.Option) (*scan.Service, error) {
	engine := decrypt.NewEngine(
		decrypt.WithWorkers(cfg.Scan.Workers),
		decrypt.WithMetrics(m),
	)
	dialer := scan.GRPCDialer(lightwalletd.Options{
		Insecure: cfg.Server.Insecure,
		Timeout:  cfg.Server.Timeout,
	})
	base := []scan.Option{
		scan.WithEngine(engine),
		scan.WithMetrics(m),
		scan.WithDialer(dialer),
	}
	return scan.New(ScanConfig(cfg), append(base, opts...)...)
}

// OpenWalletDB opens the wallet state database selected by cfg.
func OpenWalletDB(cfg *config.Config) (storage.DB, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return storage.NewMemory(), nil
	case config.StoreBadger, "":
		return storage.NewBadger(expandHome(cfg.WalletDir()))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
