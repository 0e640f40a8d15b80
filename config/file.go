package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Server
	case "server.url", "lightwalletd":
		cfg.Server.URL = value
	case "server.timeout":
		cfg.Server.Timeout, err = time.ParseDuration(value)
	case "server.insecure":
		cfg.Server.Insecure = parseBool(value)
	case "server.rate":
		cfg.Server.Rate, err = strconv.Atoi(value)
	case "server.cache":
		cfg.Server.Cache, err = strconv.Atoi(value)

	// Scan
	case "scan.batch_size":
		cfg.Scan.BatchSize, err = strconv.ParseUint(value, 10, 64)
	case "scan.workers":
		cfg.Scan.Workers, err = strconv.Atoi(value)
	case "scan.max_attempts":
		cfg.Scan.MaxAttempts, err = strconv.Atoi(value)
	case "scan.retry_base":
		cfg.Scan.RetryBase, err = time.ParseDuration(value)
	case "scan.retry_max":
		cfg.Scan.RetryMax, err = time.ParseDuration(value)
	case "scan.max_reorg_depth":
		cfg.Scan.MaxReorgDepth, err = strconv.ParseUint(value, 10, 64)
	case "scan.confirmations":
		cfg.Scan.Confirmations, err = strconv.ParseUint(value, 10, 64)
	case "scan.max_range":
		cfg.Scan.MaxRange, err = strconv.ParseUint(value, 10, 64)

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)
	case "rpc.timeout":
		cfg.RPC.RequestTimeout, err = time.ParseDuration(value)

	// Store
	case "store.backend":
		cfg.Store.Backend = StoreBackend(strings.ToLower(value))

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// ApplyEnv applies environment overrides. PORT replaces the RPC port.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.RPC.Port = port
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	def := Default(network)
	content := `# Shieldscan Configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.shieldscan)
# datadir = ~/.shieldscan

# ============================================================================
# Light-wallet server
# ============================================================================

server.url = ` + def.Server.URL + `
server.timeout = 30s
# Plaintext gRPC even for https URLs (local servers only)
# server.insecure = false
# Requests per second to each server (0 = unlimited)
server.rate = 50
# server.cache = 16

# ============================================================================
# Scanning
# ============================================================================

scan.batch_size = 100
# Trial-decryption workers (0 = one per CPU)
# scan.workers = 0
scan.max_attempts = 5
scan.retry_base = 500ms
scan.retry_max = 30s
scan.max_reorg_depth = 100
scan.confirmations = 10
# scan.max_range = 100000

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
# Overridden by the PORT environment variable
rpc.port = ` + defaultRPCPort(network) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
rpc.cors = *
# rpc.timeout = 10m

# ============================================================================
# Wallet state
# ============================================================================

# memory or badger
store.backend = badger

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
