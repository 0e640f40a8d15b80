package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Klingon-tech/shieldscan/internal/rpc"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
)

// printer renders results as text or, with --json, as indented JSON.
type printer struct {
	json bool
	w    io.Writer
}

func (p *printer) encode(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) message(msg string) error {
	if p.json {
		return p.encode(rpc.OKResult{OK: true})
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}

func (p *printer) scan(res *rpc.ScanResult) error {
	if p.json {
		return p.encode(res)
	}
	fmt.Fprintf(p.w, "Scan:      %s\n", res.ScanID)
	fmt.Fprintf(p.w, "Scanned:   %d blocks up to %d (%d reorgs)\n", res.Blocks, res.LastHeight, res.Reorgs)
	p.printTransactions(res.Transactions)
	p.printBalance(res.Balance)
	return nil
}

func (p *printer) memo(res *rpc.MemoResult) error {
	if p.json {
		return p.encode(res)
	}
	fmt.Fprintf(p.w, "TxID:      %s\n", res.TxID)
	if !res.Found {
		fmt.Fprintln(p.w, "Transaction not found")
		return nil
	}
	fmt.Fprintf(p.w, "Height:    %d\n", res.Height)
	fmt.Fprintf(p.w, "Time:      %s\n", formatTime(res.Timestamp))
	fmt.Fprintf(p.w, "Amount:    %s ZEC (%d notes)\n", res.AmountZEC, res.Notes)
	if res.Memo != nil {
		fmt.Fprintf(p.w, "Memo:      %s\n", *res.Memo)
	} else {
		fmt.Fprintln(p.w, "Memo:      (none)")
	}
	return nil
}

func (p *printer) sync(res *rpc.WalletSyncResult) error {
	if p.json {
		return p.encode(res)
	}
	fmt.Fprintf(p.w, "Synced:    %d-%d (resumed at %d)\n", res.Start, res.Checkpoint, res.Resumed)
	fmt.Fprintf(p.w, "Blocks:    %d\n", res.Blocks)
	fmt.Fprintf(p.w, "Notes:     %d found, %d spent\n", res.NotesFound, res.Spent)
	if res.Reorgs > 0 {
		fmt.Fprintf(p.w, "Reorgs:    %d (%d notes removed)\n", res.Reorgs, res.NotesRemoved)
	}
	return nil
}

func (p *printer) status(st *scan.Status) error {
	if p.json {
		return p.encode(st)
	}
	fmt.Fprintf(p.w, "Key:        %s\n", st.Fingerprint)
	fmt.Fprintf(p.w, "Network:    %s\n", st.Network)
	fmt.Fprintf(p.w, "Birthday:   %d\n", st.Birthday)
	if st.Synced {
		fmt.Fprintf(p.w, "Checkpoint: %d\n", st.Checkpoint)
	} else {
		fmt.Fprintln(p.w, "Checkpoint: (not synced)")
	}
	fmt.Fprintf(p.w, "Notes:      %d (%d unspent)\n", st.Notes, st.Unspent)
	return nil
}

func (p *printer) balance(bal *rpc.WalletBalanceResult) error {
	if p.json {
		return p.encode(bal)
	}
	fmt.Fprintf(p.w, "As of:       %d (%d confirmations)\n", bal.AsOf, bal.Confirmations)
	p.printBalance(bal.BalanceResult)
	return nil
}

func (p *printer) transactions(txs []rpc.TransactionResult) error {
	if p.json {
		return p.encode(txs)
	}
	p.printTransactions(txs)
	return nil
}

func (p *printer) keys(infos []*wallet.KeyInfo) error {
	if p.json {
		return p.encode(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(p.w, "No viewing keys found.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(p.w, "%-16s %s  birthday %d  %s\n", info.Name, info.Network, info.Birthday, info.Fingerprint)
	}
	return nil
}

func (p *printer) printTransactions(txs []rpc.TransactionResult) {
	if len(txs) == 0 {
		fmt.Fprintln(p.w, "No transactions.")
		return
	}
	for _, tx := range txs {
		memo := ""
		if tx.Memo != nil {
			memo = fmt.Sprintf("  %q", *tx.Memo)
		}
		fmt.Fprintf(p.w, "%8d  %s  %-8s %16s ZEC%s\n", tx.Height, tx.TxID, tx.Kind, tx.AmountZEC, memo)
	}
}

func (p *printer) printBalance(b rpc.BalanceResult) {
	fmt.Fprintf(p.w, "Confirmed:   %s ZEC\n", b.ConfirmedZEC)
	fmt.Fprintf(p.w, "Unconfirmed: %s ZEC\n", b.UnconfirmedZEC)
	fmt.Fprintf(p.w, "Total:       %s ZEC\n", b.TotalZEC)
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
