package config

import (
	"fmt"
	"net"
	"strings"

	klog "github.com/Klingon-tech/shieldscan/internal/log"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	if !cfg.Devnet && strings.TrimSpace(cfg.Server.URL) == "" {
		return fmt.Errorf("server.url is required")
	}
	if cfg.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	if cfg.Server.Rate < 0 {
		return fmt.Errorf("server.rate must not be negative")
	}
	if cfg.Server.Cache < 0 {
		return fmt.Errorf("server.cache must not be negative")
	}

	if cfg.Scan.BatchSize == 0 {
		return fmt.Errorf("scan.batch_size must be at least 1")
	}
	if cfg.Scan.Workers < 0 {
		return fmt.Errorf("scan.workers must not be negative")
	}
	if cfg.Scan.MaxAttempts < 1 {
		return fmt.Errorf("scan.max_attempts must be at least 1")
	}
	if cfg.Scan.RetryBase <= 0 {
		return fmt.Errorf("scan.retry_base must be positive")
	}
	if cfg.Scan.RetryMax < cfg.Scan.RetryBase {
		return fmt.Errorf("scan.retry_max must not be below scan.retry_base")
	}
	if cfg.Scan.MaxReorgDepth == 0 {
		return fmt.Errorf("scan.max_reorg_depth must be at least 1")
	}

	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.RPC.RequestTimeout < 0 {
		return fmt.Errorf("rpc.timeout must not be negative")
	}
	for i, entry := range cfg.RPC.AllowedIPs {
		if err := validateIPEntry(entry); err != nil {
			return fmt.Errorf("rpc.allowed[%d]: %w", i, err)
		}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBadger
	}
	switch cfg.Store.Backend {
	case StoreMemory, StoreBadger:
	default:
		return fmt.Errorf("store.backend must be %q or %q", StoreMemory, StoreBadger)
	}

	if cfg.Log.Level != "" && !klog.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}

	return nil
}

func validateIPEntry(entry string) error {
	s := strings.TrimSpace(entry)
	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return fmt.Errorf("invalid CIDR %q", s)
		}
		return nil
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid IP %q", s)
	}
	return nil
}
