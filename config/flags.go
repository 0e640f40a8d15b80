package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Version is the release reported by the binaries and /health.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string
	Devnet  bool

	// Server
	Server         string
	ServerTimeout  time.Duration
	ServerInsecure bool
	ServerRate     int

	// Scan
	BatchSize     uint64
	Workers       int
	MaxAttempts   int
	MaxReorgDepth uint64
	Confirmations uint64

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Store
	Store string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetRPC            bool
	SetServerInsecure bool
	SetLogJSON        bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f, err := ParseArgs(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

// ParseArgs parses args into Flags.
func ParseArgs(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("zscand", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolFunc("testnet", "Use testnet (shorthand for --network=testnet)", func(string) error {
		f.Network = string(Testnet)
		return nil
	})
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.BoolVar(&f.Devnet, "devnet", false, "Serve and scan a local in-memory chain")

	// Server
	fs.StringVar(&f.Server, "server", "", "Light-wallet server URL")
	fs.DurationVar(&f.ServerTimeout, "server-timeout", 0, "Per-call server deadline")
	fs.BoolVar(&f.ServerInsecure, "server-insecure", false, "Disable TLS to the server")
	fs.IntVar(&f.ServerRate, "server-rate", 0, "Requests per second to each server")

	// Scan
	fs.Uint64Var(&f.BatchSize, "batch-size", 0, "Blocks fetched per request")
	fs.IntVar(&f.Workers, "workers", 0, "Trial-decryption workers")
	fs.IntVar(&f.MaxAttempts, "max-attempts", 0, "Fetch attempts per batch")
	fs.Uint64Var(&f.MaxReorgDepth, "max-reorg-depth", 0, "Deepest reorg followed")
	fs.Uint64Var(&f.Confirmations, "confirmations", 0, "Depth at which notes are confirmed")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Store
	fs.StringVar(&f.Store, "store", "", "Wallet state backend (memory or badger)")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetServerInsecure = isFlagSet(fs, "server-insecure")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the parser.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Devnet {
		cfg.Devnet = true
	}

	// Server
	if f.Server != "" {
		cfg.Server.URL = f.Server
	}
	if f.ServerTimeout != 0 {
		cfg.Server.Timeout = f.ServerTimeout
	}
	if f.SetServerInsecure {
		cfg.Server.Insecure = f.ServerInsecure
	}
	if f.ServerRate != 0 {
		cfg.Server.Rate = f.ServerRate
	}

	// Scan
	if f.BatchSize != 0 {
		cfg.Scan.BatchSize = f.BatchSize
	}
	if f.Workers != 0 {
		cfg.Scan.Workers = f.Workers
	}
	if f.MaxAttempts != 0 {
		cfg.Scan.MaxAttempts = f.MaxAttempts
	}
	if f.MaxReorgDepth != 0 {
		cfg.Scan.MaxReorgDepth = f.MaxReorgDepth
	}
	if f.Confirmations != 0 {
		cfg.Scan.Confirmations = f.Confirmations
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Store
	if f.Store != "" {
		cfg.Store.Backend = StoreBackend(strings.ToLower(f.Store))
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `Shieldscan - viewing-key scanner for shielded outputs

Usage:
  zscand [options]
  zscand --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.shieldscan)
  --config, -c    Config file path (default: <datadir>/zscan.conf)
  --devnet        Serve a local in-memory chain and scan it

Server Options:
  --server            Light-wallet server URL (default: https://zec.rocks:443)
  --server-timeout    Per-call deadline (default: 30s)
  --server-insecure   Disable TLS to the server
  --server-rate       Requests per second to each server (default: 50)

Scan Options:
  --batch-size        Blocks fetched per request (default: 100)
  --workers           Trial-decryption workers (default: one per CPU)
  --max-attempts      Fetch attempts per batch (default: 5)
  --max-reorg-depth   Deepest reorg followed (default: 100)
  --confirmations     Depth at which notes are confirmed (default: 10)

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (mainnet: 3001, testnet: 3101, env: PORT)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)

Store Options:
  --store         Wallet state backend: badger (default) or memory

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Serve the scan API against the default server
  zscand

  # Testnet with a custom server
  zscand --testnet --server=https://testnet.zec.rocks:443

  # Local devnet, nothing leaves the machine
  zscand --devnet --store=memory
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. PORT environment variable
// 5. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("zscand version " + Version)
		os.Exit(0)
	}

	cfg, err := Resolve(flags, os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// Resolve builds the configuration for parsed flags.
func Resolve(flags *Flags, getenv func(string) string) (*Config, error) {
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}
	if err := ApplyEnv(cfg, getenv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.WalletDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
