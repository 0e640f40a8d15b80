package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Klingon-tech/shieldscan/config"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
)

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, req *Request) (interface{}, *Error) {
	switch req.Method {
	case "node_getInfo":
		return s.handleNodeGetInfo(req)
	case "scan_transactions":
		return s.handleScanTransactionsRPC(ctx, req)
	case "scan_decryptMemo":
		return s.handleScanDecryptMemo(ctx, req)
	case "wallet_import":
		return s.handleWalletImport(req)
	case "wallet_list":
		return s.handleWalletList(req)
	case "wallet_sync":
		return s.handleWalletSync(ctx, req)
	case "wallet_status":
		return s.handleWalletStatus(req)
	case "wallet_balance":
		return s.handleWalletBalance(req)
	case "wallet_history":
		return s.handleWalletHistory(req)
	case "wallet_forget":
		return s.handleWalletForget(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// scanError converts a scan failure into a JSON-RPC error carrying its
// kind and the last committed height.
func scanError(err error) *Error {
	kind := scan.KindOf(err)
	data := ErrorData{Kind: kind}
	var se *scan.Error
	if errors.As(err, &se) {
		data.LastHeight, data.ScanID = se.LastHeight, se.ScanID
	}
	code := CodeInternalError
	switch kind {
	case scan.KindInvalidKey, scan.KindInvalidRequest:
		code = CodeInvalidParams
	case scan.KindNotFound:
		code = CodeNotFound
	case scan.KindFetchFailure, scan.KindMalformedBlock, scan.KindReorgTooDeep:
		code = CodeUpstream
	case scan.KindCancelled:
		code = CodeCancelled
	}
	return &Error{Code: code, Message: err.Error(), Data: data}
}

func (s *Server) handleNodeGetInfo(_ *Request) (interface{}, *Error) {
	return &NodeInfoResult{
		Service:  ServiceName,
		Version:  config.Version,
		Network:  s.network,
		Server:   s.svc.Config().Server,
		Wallets:  s.wallets != nil,
		Keystore: s.keystore != nil,
	}, nil
}

func (s *Server) handleScanTransactionsRPC(ctx context.Context, req *Request) (interface{}, *Error) {
	var params ScanParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.ViewingKey == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "viewing_key is required"}
	}

	res, err := s.svc.Scan(ctx, scan.ScanRequest{
		ViewingKey: params.ViewingKey,
		Start:      params.Start,
		End:        params.End,
		Server:     params.Server,
	})
	if err != nil {
		return nil, scanError(err)
	}
	return NewScanResult(res), nil
}

func (s *Server) handleScanDecryptMemo(ctx context.Context, req *Request) (interface{}, *Error) {
	var params MemoParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.ViewingKey == "" || params.TxID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "viewing_key and txid are required"}
	}

	res, err := s.svc.DecryptMemo(ctx, scan.MemoRequest{
		ViewingKey: params.ViewingKey,
		TxID:       params.TxID,
		Server:     params.Server,
	})
	if err != nil {
		return nil, scanError(err)
	}
	return NewMemoResult(res), nil
}

// ── Wallet methods ──────────────────────────────────────────────────────

func (s *Server) requireWallets() *Error {
	if s.wallets == nil {
		return &Error{Code: CodeInternalError, Message: "wallets not enabled"}
	}
	return nil
}

func (s *Server) requireKeystore() *Error {
	if s.keystore == nil {
		return &Error{Code: CodeInternalError, Message: "keystore not enabled"}
	}
	return nil
}

// resolveKey returns the viewing key a wallet method addresses, and the
// keystore metadata when it was named.
func (s *Server) resolveKey(p KeyParam) (*keys.ViewingKey, *wallet.KeyInfo, *Error) {
	if p.ViewingKey != "" {
		vk, err := scan.ParseKey(p.ViewingKey)
		if err != nil {
			return nil, nil, scanError(err)
		}
		return vk, nil, nil
	}
	if p.Name == "" {
		return nil, nil, &Error{Code: CodeInvalidParams, Message: "viewing_key or name is required"}
	}
	if err := s.requireKeystore(); err != nil {
		return nil, nil, err
	}
	vk, info, err := s.keystore.Load(p.Name, []byte(p.Password))
	switch {
	case errors.Is(err, wallet.ErrKeyNotFound):
		return nil, nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("wallet %q not found", p.Name)}
	case err != nil:
		s.logger.Debug().Err(err).Str("name", p.Name).Msg("keystore load failed")
		return nil, nil, &Error{Code: CodeInvalidParams, Message: "invalid wallet name or password"}
	}
	return vk, info, nil
}

func (s *Server) handleWalletImport(req *Request) (interface{}, *Error) {
	if err := s.requireKeystore(); err != nil {
		return nil, err
	}
	var params WalletImportParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" || params.Password == "" || params.ViewingKey == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "name, viewing_key and password are required"}
	}
	vk, err := scan.ParseKey(params.ViewingKey)
	if err != nil {
		return nil, scanError(err)
	}
	err = s.keystore.Import(params.Name, vk, params.Birthday, []byte(params.Password), wallet.DefaultParams())
	switch {
	case errors.Is(err, wallet.ErrKeyExists), errors.Is(err, wallet.ErrBadKeyName):
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	case err != nil:
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("import: %v", err)}
	}
	s.logger.Info().Str("name", params.Name).Str("key", vk.Redacted()).Msg("Viewing key imported")
	return &OKResult{OK: true}, nil
}

func (s *Server) handleWalletList(_ *Request) (interface{}, *Error) {
	if err := s.requireKeystore(); err != nil {
		return nil, err
	}
	names, err := s.keystore.List()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("list wallets: %v", err)}
	}
	out := &WalletListResult{Wallets: make([]*wallet.KeyInfo, 0, len(names))}
	for _, name := range names {
		info, err := s.keystore.Info(name)
		if err != nil {
			s.logger.Warn().Err(err).Str("name", name).Msg("Unreadable keystore entry")
			continue
		}
		out.Wallets = append(out.Wallets, info)
	}
	return out, nil
}

func (s *Server) handleWalletSync(ctx context.Context, req *Request) (interface{}, *Error) {
	if err := s.requireWallets(); err != nil {
		return nil, err
	}
	var params WalletSyncParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	vk, info, rpcErr := s.resolveKey(params.KeyParam)
	if rpcErr != nil {
		return nil, rpcErr
	}

	start, end := params.Start, params.End
	if start == 0 && info != nil {
		start = info.Birthday
	}
	if end == 0 {
		end = math.MaxUint64
	}
	if end < start {
		return nil, &Error{Code: CodeInvalidParams, Message: "end_height is below start_height"}
	}

	res, err := s.wallets.Sync(ctx, vk, strings.TrimSpace(params.Server), start, end, nil)
	if err != nil {
		return nil, scanError(err)
	}
	return NewWalletSyncResult(res), nil
}

func (s *Server) handleWalletStatus(req *Request) (interface{}, *Error) {
	if err := s.requireWallets(); err != nil {
		return nil, err
	}
	var params KeyParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	vk, _, rpcErr := s.resolveKey(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	st, err := s.wallets.Status(vk)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return st, nil
}

func (s *Server) handleWalletBalance(req *Request) (interface{}, *Error) {
	if err := s.requireWallets(); err != nil {
		return nil, err
	}
	var params WalletBalanceParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	vk, _, rpcErr := s.resolveKey(params.KeyParam)
	if rpcErr != nil {
		return nil, rpcErr
	}
	confirmations := params.Confirmations
	if confirmations == 0 {
		confirmations = s.svc.Config().Confirmations
	}
	bal, asOf, err := s.wallets.Balance(vk, params.AsOf, confirmations)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &WalletBalanceResult{
		BalanceResult: NewBalanceResult(bal),
		AsOf:          asOf,
		Confirmations: confirmations,
	}, nil
}

func (s *Server) handleWalletHistory(req *Request) (interface{}, *Error) {
	if err := s.requireWallets(); err != nil {
		return nil, err
	}
	var params WalletHistoryParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	vk, _, rpcErr := s.resolveKey(params.KeyParam)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.End != 0 && params.End < params.Start {
		return nil, &Error{Code: CodeInvalidParams, Message: "end_height is below start_height"}
	}
	txs, err := s.wallets.History(vk, params.Start, params.End)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &WalletHistoryResult{Transactions: NewTransactionResults(txs)}, nil
}

func (s *Server) handleWalletForget(req *Request) (interface{}, *Error) {
	if err := s.requireWallets(); err != nil {
		return nil, err
	}
	var params KeyParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	vk, _, rpcErr := s.resolveKey(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.wallets.Forget(vk); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	s.logger.Info().Str("key", vk.Redacted()).Msg("Wallet state forgotten")
	return &OKResult{OK: true}, nil
}
