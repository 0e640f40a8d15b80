package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Klingon-tech/shieldscan/config"
	"github.com/Klingon-tech/shieldscan/internal/node"
	"github.com/Klingon-tech/shieldscan/internal/rpc"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
)

func TestParseGlobal(t *testing.T) {
	opts, args, err := parseGlobal([]string{"--testnet", "--rpc=http://h:1/", "--datadir", "/tmp/x", "--json", "scan", "--start", "1"})
	if err != nil {
		t.Fatalf("parseGlobal() error: %v", err)
	}
	if opts.network != "testnet" || opts.rpcURL != "http://h:1/" || opts.dataDir != "/tmp/x" || !opts.json {
		t.Errorf("opts = %+v", opts)
	}
	if len(args) != 3 || args[0] != "scan" {
		t.Errorf("args = %v", args)
	}

	opts, _, err = parseGlobal([]string{"--daemon", "status"})
	if err != nil || opts.rpcURL != defaultDaemonURL {
		t.Errorf("--daemon = %+v, %v", opts, err)
	}

	if _, _, err := parseGlobal([]string{"--bogus", "status"}); err == nil {
		t.Error("expected error for unknown global flag")
	}
}

func TestPrinter_Text(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}
	memo := "rent"
	p.printTransactions([]rpc.TransactionResult{
		{TxID: "ab", Height: 7, AmountZEC: "0.00005000", Memo: &memo, Kind: wallet.TxReceived},
	})
	p.printBalance(rpc.NewBalanceResult(wallet.Balance{Confirmed: 5000, Total: 5000}))

	out := buf.String()
	for _, want := range []string{"received", "0.00005000 ZEC", `"rent"`, "Total:       0.00005000 ZEC"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{json: true, w: &buf}
	if err := p.message("done"); err != nil {
		t.Fatalf("message() error: %v", err)
	}
	var ok rpc.OKResult
	if err := json.Unmarshal(buf.Bytes(), &ok); err != nil || !ok.OK {
		t.Errorf("json = %s, %v", buf.String(), err)
	}
}

// startDevnet runs a node serving a local chain and returns a cli config
// pointing at it.
func startDevnet(t *testing.T) (*node.Node, *config.Config) {
	t.Helper()
	dcfg := config.Default(config.Testnet)
	dcfg.DataDir = t.TempDir()
	dcfg.Log.Level = "error"
	dcfg.Log.File = filepath.Join(dcfg.DataDir, "test.log")
	dcfg.Store.Backend = config.StoreMemory
	dcfg.RPC.Enabled = false
	dcfg.Devnet = true
	n, err := node.New(dcfg)
	if err != nil {
		t.Fatalf("node.New() error: %v", err)
	}
	t.Cleanup(n.Stop)
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	cfg := config.Default(config.Testnet)
	cfg.DataDir = t.TempDir()
	cfg.Server.URL = n.Devnet().URL()
	cfg.Server.Insecure = true
	cfg.Store.Backend = config.StoreBadger
	cfg.Scan.Confirmations = 1
	return n, cfg
}

func TestLocal_ScanAndWallet(t *testing.T) {
	n, cfg := startDevnet(t)
	ctx := context.Background()
	vk := n.Devnet().Key().Encode()

	l, err := newLocal(cfg, nil)
	if err != nil {
		t.Fatalf("newLocal() error: %v", err)
	}
	defer l.Close()

	res, err := l.Scan(ctx, rpc.ScanParam{ViewingKey: vk, Start: 1, End: 20})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(res.Transactions) != 1 || res.Balance.Total != 100_000_000 {
		t.Fatalf("scan = %+v", res)
	}

	memo, err := l.DecryptMemo(ctx, rpc.MemoParam{ViewingKey: vk, TxID: res.Transactions[0].TxID})
	if err != nil {
		t.Fatalf("DecryptMemo() error: %v", err)
	}
	if memo.Memo == nil || memo.AmountZEC != "1.00000000" {
		t.Errorf("memo = %+v", memo)
	}

	if err := l.Import(ctx, rpc.WalletImportParam{Name: "devnet", ViewingKey: vk, Password: "pw", Birthday: 3}); err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	infos, err := l.List(ctx)
	if err != nil || len(infos) != 1 || infos[0].Birthday != 3 {
		t.Fatalf("List() = %+v, %v", infos, err)
	}

	key := rpc.KeyParam{Name: "devnet", Password: "pw"}
	sync, err := l.Sync(ctx, rpc.WalletSyncParam{KeyParam: key})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if sync.Start != 3 || sync.Checkpoint != 20 || sync.NotesFound != 1 {
		t.Errorf("sync = %+v", sync)
	}

	bal, err := l.Balance(ctx, rpc.WalletBalanceParam{KeyParam: key})
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if bal.ConfirmedZEC != "1.00000000" || bal.Confirmations != 1 {
		t.Errorf("balance = %+v", bal)
	}

	if _, err := l.Status(ctx, rpc.KeyParam{Name: "devnet", Password: "wrong"}); err == nil {
		t.Error("expected error for wrong password")
	}
	if err := l.Forget(ctx, rpc.KeyParam{ViewingKey: vk}); err != nil {
		t.Fatalf("Forget() error: %v", err)
	}
	txs, err := l.History(ctx, rpc.WalletHistoryParam{KeyParam: rpc.KeyParam{ViewingKey: vk}})
	if err != nil || len(txs) != 0 {
		t.Errorf("history after forget = %+v, %v", txs, err)
	}
}
