package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/Klingon-tech/shieldscan/internal/rpc"
)

// keyFlags name the viewing key a command works on.
type keyFlags struct {
	key    string
	wallet string
}

func (k *keyFlags) register(fs *flag.FlagSet, wallets bool) {
	fs.StringVar(&k.key, "key", "", "Viewing key")
	if wallets {
		fs.StringVar(&k.wallet, "wallet", "", "Keystore entry name")
	}
}

// viewingKey returns --key or prompts for one without echo.
func (k *keyFlags) viewingKey() (string, error) {
	if k.key != "" {
		return k.key, nil
	}
	key, err := readPassword("Viewing key: ")
	if err != nil {
		return "", fmt.Errorf("read viewing key: %w", err)
	}
	if s := strings.TrimSpace(string(key)); s != "" {
		return s, nil
	}
	return "", errors.New("a viewing key is required")
}

// param builds the wallet reference, prompting for the keystore password
// when --wallet is set.
func (k *keyFlags) param() (rpc.KeyParam, error) {
	if k.wallet == "" {
		vk, err := k.viewingKey()
		return rpc.KeyParam{ViewingKey: vk}, err
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return rpc.KeyParam{}, fmt.Errorf("read password: %w", err)
	}
	return rpc.KeyParam{Name: k.wallet, Password: string(password)}, nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// ── scan ────────────────────────────────────────────────────────────────

func cmdScan(ctx context.Context, b backend, out *printer, opts globalOpts, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	var k keyFlags
	k.register(fs, false)
	start := fs.Uint64("start", 0, "First height")
	end := fs.Uint64("end", 0, "Last height")
	fs.Parse(args)

	if !isFlagSet(fs, "start") || !isFlagSet(fs, "end") {
		return errors.New("usage: zscan-cli scan --start <height> --end <height> [--key <key>]")
	}
	vk, err := k.viewingKey()
	if err != nil {
		return err
	}
	res, err := b.Scan(ctx, rpc.ScanParam{ViewingKey: vk, Start: *start, End: *end, Server: opts.server})
	if err != nil {
		return err
	}
	return out.scan(res)
}

// ── decrypt ─────────────────────────────────────────────────────────────

func cmdDecrypt(ctx context.Context, b backend, out *printer, opts globalOpts, args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	var k keyFlags
	k.register(fs, false)
	txid := fs.String("txid", "", "Transaction id (hex)")
	fs.Parse(args)

	if *txid == "" {
		return errors.New("usage: zscan-cli decrypt --txid <id> [--key <key>]")
	}
	vk, err := k.viewingKey()
	if err != nil {
		return err
	}
	res, err := b.DecryptMemo(ctx, rpc.MemoParam{ViewingKey: vk, TxID: *txid, Server: opts.server})
	if err != nil {
		return err
	}
	return out.memo(res)
}

// ── keystore ────────────────────────────────────────────────────────────

func cmdImport(ctx context.Context, b backend, out *printer, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var k keyFlags
	k.register(fs, false)
	name := fs.String("name", "", "Keystore entry name")
	birthday := fs.Uint64("birthday", 0, "Height to start syncing from")
	fs.Parse(args)

	if *name == "" {
		return errors.New("usage: zscan-cli import --name <name> [--birthday <height>] [--key <key>]")
	}
	vk, err := k.viewingKey()
	if err != nil {
		return err
	}

	// Prompt for password (twice).
	password, err := readPassword("Enter password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if string(password) != string(confirm) {
		return errors.New("passwords do not match")
	}

	if err := b.Import(ctx, rpc.WalletImportParam{
		Name:       *name,
		ViewingKey: vk,
		Password:   string(password),
		Birthday:   *birthday,
	}); err != nil {
		return err
	}
	return out.message(fmt.Sprintf("Viewing key imported: %s", *name))
}

func cmdList(ctx context.Context, b backend, out *printer) error {
	infos, err := b.List(ctx)
	if err != nil {
		return err
	}
	return out.keys(infos)
}

// ── persisted wallets ───────────────────────────────────────────────────

func cmdSync(ctx context.Context, b backend, out *printer, opts globalOpts, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var k keyFlags
	k.register(fs, true)
	start := fs.Uint64("start", 0, "First height (default: wallet birthday)")
	end := fs.Uint64("end", 0, "Last height (default: chain tip)")
	fs.Parse(args)

	p, err := k.param()
	if err != nil {
		return err
	}
	res, err := b.Sync(ctx, rpc.WalletSyncParam{KeyParam: p, Start: *start, End: *end, Server: opts.server})
	if err != nil {
		return err
	}
	return out.sync(res)
}

func cmdStatus(ctx context.Context, b backend, out *printer, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var k keyFlags
	k.register(fs, true)
	fs.Parse(args)

	p, err := k.param()
	if err != nil {
		return err
	}
	st, err := b.Status(ctx, p)
	if err != nil {
		return err
	}
	return out.status(st)
}

func cmdBalance(ctx context.Context, b backend, out *printer, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	var k keyFlags
	k.register(fs, true)
	asOf := fs.Uint64("as-of", 0, "Height to report at (default: checkpoint)")
	conf := fs.Uint64("confirmations", 0, "Confirmation depth (default: config)")
	fs.Parse(args)

	p, err := k.param()
	if err != nil {
		return err
	}
	bal, err := b.Balance(ctx, rpc.WalletBalanceParam{KeyParam: p, AsOf: *asOf, Confirmations: *conf})
	if err != nil {
		return err
	}
	return out.balance(bal)
}

func cmdHistory(ctx context.Context, b backend, out *printer, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var k keyFlags
	k.register(fs, true)
	start := fs.Uint64("start", 0, "First height")
	end := fs.Uint64("end", 0, "Last height (default: checkpoint)")
	fs.Parse(args)

	p, err := k.param()
	if err != nil {
		return err
	}
	txs, err := b.History(ctx, rpc.WalletHistoryParam{KeyParam: p, Start: *start, End: *end})
	if err != nil {
		return err
	}
	return out.transactions(txs)
}

func cmdForget(ctx context.Context, b backend, out *printer, args []string) error {
	fs := flag.NewFlagSet("forget", flag.ExitOnError)
	var k keyFlags
	k.register(fs, true)
	fs.Parse(args)

	p, err := k.param()
	if err != nil {
		return err
	}
	if err := b.Forget(ctx, p); err != nil {
		return err
	}
	return out.message("Wallet state deleted.")
}
