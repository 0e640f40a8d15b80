package rpc

import (
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeUpstream       = -32001 // Light-wallet server failed or served bad data.
	CodeCancelled      = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorData is attached to errors raised by scans.
type ErrorData struct {
	Kind       scan.Kind `json:"kind"`
	LastHeight uint64    `json:"last_height"`
	ScanID     string    `json:"scan_id,omitempty"`
}

// ── REST bodies ─────────────────────────────────────────────────────────

// MemoRequest is the body of POST /api/decrypt-memo. Both spellings of each
// field are accepted.
type MemoRequest struct {
	UFVK           string `json:"ufvk"`
	ViewingKey     string `json:"viewing_key"`
	TxID           string `json:"txid"`
	TransactionID  string `json:"transaction_id"`
	LightwalletURL string `json:"lightwalletd_url"`
	ServerURL      string `json:"server_url"`
}

// MemoResponse is the reply of POST /api/decrypt-memo.
type MemoResponse struct {
	Success   bool      `json:"success"`
	Memo      *string   `json:"memo"`
	Amount    *int64    `json:"amount"`
	TxID      string    `json:"txid"`
	Found     bool      `json:"found"`
	Height    uint64    `json:"height,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind scan.Kind `json:"error_kind,omitempty"`
}

// ScanTransactionsRequest is the body of POST /api/scan-transactions.
type ScanTransactionsRequest struct {
	UFVK           string  `json:"ufvk"`
	ViewingKey     string  `json:"viewing_key"`
	StartHeight    *uint64 `json:"start_height"`
	EndHeight      *uint64 `json:"end_height"`
	LightwalletURL string  `json:"lightwalletd_url"`
	ServerURL      string  `json:"server_url"`
}

// TransactionResult is one entry of a scan reply.
type TransactionResult struct {
	TxID      string        `json:"txid"`
	Height    uint64        `json:"height"`
	Amount    int64         `json:"amount"`
	AmountZEC string        `json:"amount_zec"`
	Memo      *string       `json:"memo"`
	Timestamp int64         `json:"timestamp"`
	Kind      wallet.TxKind `json:"kind"`
}

// BalanceResult is a balance in zatoshi with ZEC renderings.
type BalanceResult struct {
	Confirmed      int64  `json:"confirmed"`
	Unconfirmed    int64  `json:"unconfirmed"`
	Total          int64  `json:"total"`
	ConfirmedZEC   string `json:"confirmed_zec"`
	UnconfirmedZEC string `json:"unconfirmed_zec"`
	TotalZEC       string `json:"total_zec"`
}

// ScanTransactionsResponse is the reply of POST /api/scan-transactions.
type ScanTransactionsResponse struct {
	Success      bool                `json:"success"`
	Transactions []TransactionResult `json:"transactions"`
	Balance      BalanceResult       `json:"balance"`
	LastHeight   uint64              `json:"last_height"`
	ScanID       string              `json:"scan_id,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    scan.Kind           `json:"error_kind,omitempty"`
}

// HealthResponse is the reply of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ── Param types ─────────────────────────────────────────────────────────

// ScanParam is used by scan_transactions.
type ScanParam struct {
	ViewingKey string `json:"viewing_key"`
	Start      uint64 `json:"start_height"`
	End        uint64 `json:"end_height"`
	Server     string `json:"server_url,omitempty"`
}

// MemoParam is used by scan_decryptMemo.
type MemoParam struct {
	ViewingKey string `json:"viewing_key"`
	TxID       string `json:"txid"`
	Server     string `json:"server_url,omitempty"`
}

// KeyParam names a persisted wallet either by its viewing key or by a
// keystore entry unlocked with a password.
type KeyParam struct {
	ViewingKey string `json:"viewing_key,omitempty"`
	Name       string `json:"name,omitempty"`
	Password   string `json:"password,omitempty"`
}

// WalletImportParam is used by wallet_import.
type WalletImportParam struct {
	Name       string `json:"name"`
	ViewingKey string `json:"viewing_key"`
	Password   string `json:"password"`
	Birthday   uint64 `json:"birthday"`
}

// WalletSyncParam is used by wallet_sync. A zero start means the birthday
// and a zero end means the chain tip.
type WalletSyncParam struct {
	KeyParam
	Start  uint64 `json:"start_height"`
	End    uint64 `json:"end_height"`
	Server string `json:"server_url,omitempty"`
}

// WalletBalanceParam is used by wallet_balance.
type WalletBalanceParam struct {
	KeyParam
	AsOf          uint64 `json:"as_of"`
	Confirmations uint64 `json:"confirmations"`
}

// WalletHistoryParam is used by wallet_history.
type WalletHistoryParam struct {
	KeyParam
	Start uint64 `json:"start_height"`
	End   uint64 `json:"end_height"`
}

// ── Result types ────────────────────────────────────────────────────────

// NodeInfoResult is returned by node_getInfo.
type NodeInfoResult struct {
	Service  string        `json:"service"`
	Version  string        `json:"version"`
	Network  types.Network `json:"network"`
	Server   string        `json:"server"`
	Wallets  bool          `json:"wallets"`
	Keystore bool          `json:"keystore"`
}

// ScanResult is returned by scan_transactions.
type ScanResult struct {
	ScanID       string              `json:"scan_id"`
	Transactions []TransactionResult `json:"transactions"`
	Balance      BalanceResult       `json:"balance"`
	LastHeight   uint64              `json:"last_height"`
	Blocks       int                 `json:"blocks"`
	Reorgs       int                 `json:"reorgs"`
}

// MemoResult is returned by scan_decryptMemo.
type MemoResult struct {
	TxID      string  `json:"txid"`
	Found     bool    `json:"found"`
	Height    uint64  `json:"height"`
	Timestamp int64   `json:"timestamp"`
	Memo      *string `json:"memo"`
	Amount    int64   `json:"amount"`
	AmountZEC string  `json:"amount_zec"`
	Notes     int     `json:"notes"`
}

// WalletSyncResult is returned by wallet_sync.
type WalletSyncResult struct {
	ScanID       string `json:"scan_id"`
	Start        uint64 `json:"start_height"`
	End          uint64 `json:"end_height"`
	Checkpoint   uint64 `json:"checkpoint"`
	Resumed      uint64 `json:"resumed_height"`
	Blocks       int    `json:"blocks"`
	NotesFound   int    `json:"notes_found"`
	Spent        int    `json:"spent"`
	Reorgs       int    `json:"reorgs"`
	NotesRemoved int    `json:"notes_removed"`
	Tip          uint64 `json:"tip"`
	Rescanned    bool   `json:"rescanned"`
}

// WalletBalanceResult is returned by wallet_balance.
type WalletBalanceResult struct {
	BalanceResult
	AsOf          uint64 `json:"as_of"`
	Confirmations uint64 `json:"confirmations"`
}

// WalletHistoryResult is returned by wallet_history.
type WalletHistoryResult struct {
	Transactions []TransactionResult `json:"transactions"`
}

// WalletListResult is returned by wallet_list.
type WalletListResult struct {
	Wallets []*wallet.KeyInfo `json:"wallets"`
}

// OKResult is returned by wallet_forget and wallet_import.
type OKResult struct {
	OK bool `json:"ok"`
}

// NewBalanceResult adds ZEC renderings to b.
func NewBalanceResult(b wallet.Balance) BalanceResult {
	return BalanceResult{
		Confirmed:      b.Confirmed,
		Unconfirmed:    b.Unconfirmed,
		Total:          b.Total,
		ConfirmedZEC:   wallet.FormatZEC(b.Confirmed),
		UnconfirmedZEC: wallet.FormatZEC(b.Unconfirmed),
		TotalZEC:       wallet.FormatZEC(b.Total),
	}
}

// NewTransactionResults converts txs to their wire form.
func NewTransactionResults(txs []wallet.Transaction) []TransactionResult {
	out := make([]TransactionResult, 0, len(txs))
	for _, tx := range txs {
		r := TransactionResult{
			TxID:      tx.TxID.String(),
			Height:    tx.Height,
			Amount:    tx.Amount,
			AmountZEC: wallet.FormatZEC(tx.Amount),
			Timestamp: tx.Timestamp,
			Kind:      tx.Kind,
		}
		if tx.Memo != "" {
			memo := tx.Memo
			r.Memo = &memo
		}
		out = append(out, r)
	}
	return out
}

// NewScanResult converts a finished scan to its wire form.
func NewScanResult(res *scan.ScanResult) *ScanResult {
	return &ScanResult{
		ScanID:       res.ScanID,
		Transactions: NewTransactionResults(res.Transactions),
		Balance:      NewBalanceResult(res.Balance),
		LastHeight:   res.LastHeight,
		Blocks:       res.Stats.Blocks,
		Reorgs:       res.Stats.Reorgs,
	}
}

// NewMemoResult converts a decrypted transaction to its wire form.
func NewMemoResult(res *scan.MemoResult) *MemoResult {
	return &MemoResult{
		TxID:      res.TxID.String(),
		Found:     res.Found,
		Height:    res.Height,
		Timestamp: res.Timestamp,
		Memo:      res.Memo,
		Amount:    res.Amount,
		AmountZEC: wallet.FormatZEC(res.Amount),
		Notes:     len(res.Notes),
	}
}

// NewWalletSyncResult converts sync stats to their wire form.
func NewWalletSyncResult(res *syncer.Result) *WalletSyncResult {
	return &WalletSyncResult{
		ScanID:       res.ScanID,
		Start:        res.Start,
		End:          res.End,
		Checkpoint:   res.LastCommitted,
		Resumed:      res.Resumed,
		Blocks:       res.Blocks,
		NotesFound:   res.NotesFound,
		Spent:        res.Spent,
		Reorgs:       res.Reorgs,
		NotesRemoved: res.NotesRemoved,
		Tip:          res.Tip,
		Rescanned:    res.Rescanned,
	}
}
