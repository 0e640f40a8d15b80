// Package config handles application configuration.
//
// Settings come from three layers, later ones winning:
//   - Built-in defaults per network
//   - The zscan.conf file in the data directory
//   - Command-line flags (and the PORT environment variable)
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// ChainNetwork returns the key network for n.
func (n NetworkType) ChainNetwork() types.Network {
	if n == Testnet {
		return types.Testnet
	}
	return types.Mainnet
}

// Config holds runtime configuration for the daemon and the cli.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Light-wallet server
	Server ServerConfig

	// Scanning
	Scan ScanConfig

	// RPC server
	RPC RPCConfig

	// Wallet state storage
	Store StoreConfig

	// Logging
	Log LogConfig

	// Devnet serves a local in-memory chain over gRPC and scans it
	// (not persisted in config file).
	Devnet bool
}

// ServerConfig holds light-wallet server settings.
type ServerConfig struct {
	URL      string        `conf:"server.url"`
	Timeout  time.Duration `conf:"server.timeout"`  // Per-call deadline.
	Insecure bool          `conf:"server.insecure"` // Plaintext even for https URLs.
	Rate     int           `conf:"server.rate"`     // Requests per second, 0 = unlimited.
	Cache    int           `conf:"server.cache"`    // Open server connections kept.
}

// ScanConfig holds sync and decryption settings.
type ScanConfig struct {
	BatchSize     uint64        `conf:"scan.batch_size"`
	Workers       int           `conf:"scan.workers"` // Trial-decryption workers, 0 = GOMAXPROCS.
	MaxAttempts   int           `conf:"scan.max_attempts"`
	RetryBase     time.Duration `conf:"scan.retry_base"`
	RetryMax      time.Duration `conf:"scan.retry_max"`
	MaxReorgDepth uint64        `conf:"scan.max_reorg_depth"`
	Confirmations uint64        `conf:"scan.confirmations"`
	MaxRange      uint64        `conf:"scan.max_range"` // Widest accepted scan, 0 = unlimited.
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled        bool          `conf:"rpc.enabled"`
	Addr           string        `conf:"rpc.addr"`
	Port           int           `conf:"rpc.port"`
	AllowedIPs     []string      `conf:"rpc.allowed"`
	CORSOrigins    []string      `conf:"rpc.cors"`    // Allowed CORS origins ("*" = all).
	RequestTimeout time.Duration `conf:"rpc.timeout"` // Upper bound on one request.
}

// StoreBackend selects where wallet state lives.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreBadger StoreBackend = "badger"
)

// StoreConfig holds wallet state storage settings.
type StoreConfig struct {
	Backend StoreBackend `conf:"store.backend"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.shieldscan
//	macOS:   ~/Library/Application Support/Shieldscan
//	Windows: %APPDATA%\Shieldscan
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shieldscan"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Shieldscan")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Shieldscan")
		}
		return filepath.Join(home, "AppData", "Roaming", "Shieldscan")
	default:
		return filepath.Join(home, ".shieldscan")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDir returns the wallet state database directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.ChainDataDir(), "wallet")
}

// KeystoreDir returns the directory holding imported viewing keys.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "zscan.conf")
}

// RPCListenAddr returns the host:port the RPC server binds.
func (c *Config) RPCListenAddr() string {
	return joinHostPort(c.RPC.Addr, c.RPC.Port)
}
