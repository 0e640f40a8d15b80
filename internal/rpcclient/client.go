// Package rpcclient provides a JSON-RPC 2.0 client for zscand.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/shieldscan/internal/rpc"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Minute)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
// Scans can take minutes, so the default is generous.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    *rpc.ErrorData `json:"data,omitempty"`
}

// RPCError is returned when the server responds with an error. Scan
// failures also carry their kind and the last committed height.
type RPCError struct {
	Code       int
	Message    string
	Kind       scan.Kind
	LastHeight uint64
	ScanID     string
}

func (e *RPCError) Error() string {
	if e.Kind != scan.KindNone {
		return fmt.Sprintf("rpc error %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http request: %s", resp.Status)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		out := &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
		if d := rpcResp.Error.Data; d != nil {
			out.Kind, out.LastHeight, out.ScanID = d.Kind, d.LastHeight, d.ScanID
		}
		return out
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// Info calls node_getInfo.
func (c *Client) Info(ctx context.Context) (*rpc.NodeInfoResult, error) {
	var out rpc.NodeInfoResult
	if err := c.Call(ctx, "node_getInfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan calls scan_transactions.
func (c *Client) Scan(ctx context.Context, p rpc.ScanParam) (*rpc.ScanResult, error) {
	var out rpc.ScanResult
	if err := c.Call(ctx, "scan_transactions", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptMemo calls scan_decryptMemo.
func (c *Client) DecryptMemo(ctx context.Context, p rpc.MemoParam) (*rpc.MemoResult, error) {
	var out rpc.MemoResult
	if err := c.Call(ctx, "scan_decryptMemo", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync calls wallet_sync.
func (c *Client) Sync(ctx context.Context, p rpc.WalletSyncParam) (*rpc.WalletSyncResult, error) {
	var out rpc.WalletSyncResult
	if err := c.Call(ctx, "wallet_sync", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls wallet_status.
func (c *Client) Status(ctx context.Context, p rpc.KeyParam) (*scan.Status, error) {
	var out scan.Status
	if err := c.Call(ctx, "wallet_status", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance calls wallet_balance.
func (c *Client) Balance(ctx context.Context, p rpc.WalletBalanceParam) (*rpc.WalletBalanceResult, error) {
	var out rpc.WalletBalanceResult
	if err := c.Call(ctx, "wallet_balance", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History calls wallet_history.
func (c *Client) History(ctx context.Context, p rpc.WalletHistoryParam) ([]rpc.TransactionResult, error) {
	var out rpc.WalletHistoryResult
	if err := c.Call(ctx, "wallet_history", p, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Import calls wallet_import.
func (c *Client) Import(ctx context.Context, p rpc.WalletImportParam) error {
	return c.Call(ctx, "wallet_import", p, nil)
}

// List calls wallet_list.
func (c *Client) List(ctx context.Context) ([]*wallet.KeyInfo, error) {
	var out rpc.WalletListResult
	if err := c.Call(ctx, "wallet_list", nil, &out); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// Forget calls wallet_forget.
func (c *Client) Forget(ctx context.Context, p rpc.KeyParam) error {
	return c.Call(ctx, "wallet_forget", p, nil)
}
