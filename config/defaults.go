package config

import (
	"net"
	"strconv"
	"time"
)

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Server: ServerConfig{
			URL:     "https://zec.rocks:443",
			Timeout: 30 * time.Second,
			Rate:    50,
			Cache:   16,
		},
		Scan: ScanConfig{
			BatchSize:     100,
			MaxAttempts:   5,
			RetryBase:     500 * time.Millisecond,
			RetryMax:      30 * time.Second,
			MaxReorgDepth: 100,
			Confirmations: 10,
			MaxRange:      100_000,
		},
		RPC: RPCConfig{
			Enabled:        true,
			Addr:           "127.0.0.1",
			Port:           3001,
			AllowedIPs:     []string{"127.0.0.1"},
			CORSOrigins:    []string{"*"},
			RequestTimeout: 10 * time.Minute,
		},
		Store: StoreConfig{
			Backend: StoreBadger,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Server.URL = "https://testnet.zec.rocks:443"
	cfg.RPC.Port = 3101
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}

func defaultRPCPort(network NetworkType) string {
	return strconv.Itoa(Default(network).RPC.Port)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
