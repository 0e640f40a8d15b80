// zscan-cli scans viewing keys locally against a light-wallet server, or
// through a running zscand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/shieldscan/config"
)

// defaultDaemonURL matches zscand's default RPC listener.
const defaultDaemonURL = "http://127.0.0.1:3001/"

type globalOpts struct {
	rpcURL     string
	dataDir    string
	network    string
	configPath string
	server     string
	json       bool
}

func main() {
	opts, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		fatal("%v", err)
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "help", "--help", "-h":
		usage()
		return
	case "version", "--version":
		fmt.Println("zscan-cli version " + config.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(opts)
	if err != nil {
		fatal("%v", err)
	}
	defer b.Close()

	out := &printer{json: opts.json, w: os.Stdout}
	switch cmd {
	case "scan":
		err = cmdScan(ctx, b, out, opts, cmdArgs)
	case "decrypt":
		err = cmdDecrypt(ctx, b, out, opts, cmdArgs)
	case "import":
		err = cmdImport(ctx, b, out, cmdArgs)
	case "list":
		err = cmdList(ctx, b, out)
	case "sync":
		err = cmdSync(ctx, b, out, opts, cmdArgs)
	case "status":
		err = cmdStatus(ctx, b, out, cmdArgs)
	case "balance":
		err = cmdBalance(ctx, b, out, cmdArgs)
	case "history":
		err = cmdHistory(ctx, b, out, cmdArgs)
	case "forget":
		err = cmdForget(ctx, b, out, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		b.Close()
		fatal("%s: %v", cmd, err)
	}
}

// parseGlobal consumes the flags that appear before the subcommand.
func parseGlobal(args []string) (globalOpts, []string, error) {
	var opts globalOpts
	value := func(name string) (string, bool) {
		if args[0] == "--"+name && len(args) > 1 {
			v := args[1]
			args = args[2:]
			return v, true
		}
		if strings.HasPrefix(args[0], "--"+name+"=") {
			v := args[0][len("--"+name+"="):]
			args = args[1:]
			return v, true
		}
		return "", false
	}

	for len(args) > 0 {
		if v, ok := value("rpc"); ok {
			opts.rpcURL = v
			continue
		}
		if v, ok := value("datadir"); ok {
			opts.dataDir = v
			continue
		}
		if v, ok := value("network"); ok {
			opts.network = v
			continue
		}
		if v, ok := value("config"); ok {
			opts.configPath = v
			continue
		}
		if v, ok := value("server"); ok {
			opts.server = v
			continue
		}
		switch args[0] {
		case "--daemon":
			if opts.rpcURL == "" {
				opts.rpcURL = defaultDaemonURL
			}
		case "--testnet":
			opts.network = string(config.Testnet)
		case "--json":
			opts.json = true
		default:
			if strings.HasPrefix(args[0], "--") && len(args[0]) > 2 {
				if args[0] == "--help" || args[0] == "--version" {
					return opts, args, nil
				}
				return opts, nil, fmt.Errorf("unknown global flag %s", args[0])
			}
			return opts, args, nil
		}
		args = args[1:]
	}
	return opts, args, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: zscan-cli [global flags] <command> [flags]

Global flags:
  --daemon            Run commands on zscand at %s
  --rpc <url>         Run commands on zscand at <url>
  --datadir <path>    Data directory (default: %s)
  --network <net>     mainnet (default) or testnet
  --testnet           Shorthand for --network=testnet
  --config <path>     Config file path
  --server <url>      Light-wallet server (local mode)
  --json              Print results as JSON

Keys are given with --key, loaded from the keystore with --wallet, or
prompted for when neither is set.

Commands:
  scan --start <h> --end <h>      Scan a height range and print its history
  decrypt --txid <id>             Decrypt one transaction's memo and value
  import --name <n> [--birthday <h>]
                                  Store a viewing key encrypted in the keystore
  list                            List keystore entries
  sync [--start <h>] [--end <h>]  Sync a persisted wallet
  status                          Show a persisted wallet's progress
  balance [--as-of <h>] [--confirmations <n>]
                                  Show a persisted wallet's balance
  history [--start <h>] [--end <h>]
                                  Show a persisted wallet's transactions
  forget                          Delete a persisted wallet's state
`, defaultDaemonURL, config.DefaultDataDir())
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
