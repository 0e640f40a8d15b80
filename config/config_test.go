package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/shieldscan/pkg/types"
)

func TestDefault_Valid(t *testing.T) {
	for _, n := range []NetworkType{Mainnet, Testnet} {
		cfg := Default(n)
		if err := Validate(cfg); err != nil {
			t.Fatalf("Validate(Default(%s)) error: %v", n, err)
		}
	}
	if Default(Testnet).RPC.Port == Default(Mainnet).RPC.Port {
		t.Error("testnet and mainnet should not share an RPC port")
	}
	if Testnet.ChainNetwork() != types.Testnet || Mainnet.ChainNetwork() != types.Mainnet {
		t.Error("ChainNetwork mismatch")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("values = %v, want empty", values)
	}
}

func TestLoadFile_Parse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zscan.conf")
	content := `# comment
server.url = "https://example.com:443"
scan.batch_size=25

scan.retry_base = 2s
rpc.cors = 'http://a, http://b'
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if cfg.Server.URL != "https://example.com:443" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Scan.BatchSize != 25 {
		t.Errorf("scan.batch_size = %d, want 25", cfg.Scan.BatchSize)
	}
	if cfg.Scan.RetryBase != 2*time.Second {
		t.Errorf("scan.retry_base = %s, want 2s", cfg.Scan.RetryBase)
	}
	if len(cfg.RPC.CORSOrigins) != 2 || cfg.RPC.CORSOrigins[1] != "http://b" {
		t.Errorf("rpc.cors = %v", cfg.RPC.CORSOrigins)
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zscan.conf")
	if err := os.WriteFile(path, []byte("server.url\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for line without '='")
	}
}

func TestApplyFileConfig_BadValue(t *testing.T) {
	tests := map[string]string{
		"scan.batch_size":   "many",
		"scan.retry_max":    "forever",
		"rpc.port":          "http",
		"server.timeout":    "10",
		"scan.max_attempts": "x",
	}
	for key, value := range tests {
		cfg := DefaultMainnet()
		if err := ApplyFileConfig(cfg, map[string]string{key: value}); err == nil {
			t.Errorf("%s = %q: expected error", key, value)
		}
	}
}

func TestApplyEnv_Port(t *testing.T) {
	cfg := DefaultMainnet()
	env := map[string]string{"PORT": "8080"}
	if err := ApplyEnv(cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.RPC.Port != 8080 {
		t.Errorf("rpc.port = %d, want 8080", cfg.RPC.Port)
	}

	env["PORT"] = "eighty"
	if err := ApplyEnv(cfg, func(k string) string { return env[k] }); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestParseArgs_ApplyFlags(t *testing.T) {
	f, err := ParseArgs([]string{
		"--testnet", "--server=https://s:443", "--batch-size=7",
		"--rpc=false", "--store=MEMORY", "--log-json", "--devnet",
	})
	if err != nil {
		t.Fatalf("ParseArgs() error: %v", err)
	}
	cfg := Default(Testnet)
	ApplyFlags(cfg, f)

	if cfg.Network != Testnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
	if cfg.Server.URL != "https://s:443" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Scan.BatchSize != 7 {
		t.Errorf("scan.batch_size = %d, want 7", cfg.Scan.BatchSize)
	}
	if cfg.RPC.Enabled {
		t.Error("--rpc=false should disable RPC")
	}
	if cfg.Store.Backend != StoreMemory {
		t.Errorf("store.backend = %q, want memory", cfg.Store.Backend)
	}
	if !cfg.Log.JSON || !cfg.Devnet {
		t.Error("bool flags not applied")
	}
}

func TestParseArgs_UnsetBoolsKeepConfig(t *testing.T) {
	f, err := ParseArgs(nil)
	if err != nil {
		t.Fatalf("ParseArgs() error: %v", err)
	}
	cfg := DefaultMainnet()
	cfg.Server.Insecure = true
	ApplyFlags(cfg, f)
	if !cfg.RPC.Enabled || !cfg.Server.Insecure {
		t.Error("unset bool flags should not override config")
	}
}

func TestParseArgs_PositionalStopsParsing(t *testing.T) {
	if _, err := ParseArgs([]string{"--devnet", "extra", "--rpc-port=1"}); err == nil {
		t.Fatal("expected error for flag after positional argument")
	}
}

func TestResolve_Precedence(t *testing.T) {
	dir := t.TempDir()
	f, err := ParseArgs([]string{"--datadir=" + dir, "--rpc-port=9000"})
	if err != nil {
		t.Fatalf("ParseArgs() error: %v", err)
	}

	// First run writes the default config file.
	cfg, err := Resolve(f, func(string) string { return "" })
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if _, err := os.Stat(cfg.KeystoreDir()); err != nil {
		t.Fatalf("keystore dir not created: %v", err)
	}
	if cfg.RPC.Port != 9000 {
		t.Errorf("rpc.port = %d, want flag value 9000", cfg.RPC.Port)
	}

	// File beats defaults, env beats file, flags beat env.
	if err := os.WriteFile(cfg.ConfigFile(), []byte("rpc.port = 4000\nscan.confirmations = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	env := func(k string) string {
		if k == "PORT" {
			return "5000"
		}
		return ""
	}
	noPortFlag, _ := ParseArgs([]string{"--datadir=" + dir})
	cfg, err = Resolve(noPortFlag, env)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cfg.RPC.Port != 5000 {
		t.Errorf("rpc.port = %d, want env value 5000", cfg.RPC.Port)
	}
	if cfg.Scan.Confirmations != 3 {
		t.Errorf("scan.confirmations = %d, want file value 3", cfg.Scan.Confirmations)
	}
	cfg, err = Resolve(f, env)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cfg.RPC.Port != 9000 {
		t.Errorf("rpc.port = %d, want flag value 9000", cfg.RPC.Port)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"network", func(c *Config) { c.Network = "regtest" }},
		{"server url", func(c *Config) { c.Server.URL = " " }},
		{"batch size", func(c *Config) { c.Scan.BatchSize = 0 }},
		{"attempts", func(c *Config) { c.Scan.MaxAttempts = 0 }},
		{"retry base", func(c *Config) { c.Scan.RetryBase = 0 }},
		{"retry max", func(c *Config) { c.Scan.RetryMax = time.Millisecond }},
		{"reorg depth", func(c *Config) { c.Scan.MaxReorgDepth = 0 }},
		{"rpc port", func(c *Config) { c.RPC.Port = 70000 }},
		{"allowed ip", func(c *Config) { c.RPC.AllowedIPs = []string{"localhost"} }},
		{"allowed cidr", func(c *Config) { c.RPC.AllowedIPs = []string{"10.0.0.0/33"} }},
		{"store", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMainnet()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_DevnetNeedsNoServer(t *testing.T) {
	cfg := DefaultMainnet()
	cfg.Server.URL = ""
	cfg.Devnet = true
	cfg.RPC.AllowedIPs = []string{"127.0.0.1", "10.0.0.0/8"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}
