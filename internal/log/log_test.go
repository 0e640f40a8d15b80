package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"off":   zerolog.Disabled,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if !ValidLevel("trace") || ValidLevel("verbose") {
		t.Fatal("ValidLevel mismatch")
	}
}

func TestInit_File(t *testing.T) {
	saved := Logger
	defer func() { Logger = saved }()

	path := filepath.Join(t.TempDir(), "zscand.log")
	if err := Init("warn", true, path); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	logger := WithScan("sync", "abc")
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if rec["component"] != "sync" || rec["scan_id"] != "abc" || rec["message"] != "kept" {
		t.Fatalf("record = %v", rec)
	}
}

func TestWithComponent(t *testing.T) {
	saved := Logger
	defer func() { Logger = saved }()

	var buf bytes.Buffer
	Logger = newLogger(&buf, zerolog.DebugLevel)
	l := WithComponent("rpc")
	l.Debug().Msg("hello")
	if !strings.Contains(buf.String(), `"component":"rpc"`) {
		t.Fatalf("output = %s", buf.String())
	}
}
