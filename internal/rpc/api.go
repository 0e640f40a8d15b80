package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
)

// statusFor maps a failure kind to an HTTP status.
func statusFor(kind scan.Kind) int {
	switch kind {
	case scan.KindInvalidKey, scan.KindInvalidRequest:
		return http.StatusBadRequest
	case scan.KindNotFound:
		return http.StatusNotFound
	case scan.KindFetchFailure, scan.KindMalformedBlock, scan.KindReorgTooDeep:
		return http.StatusBadGateway
	case scan.KindCancelled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON body of at most maxBodySize bytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", scan.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: invalid JSON: %v", scan.ErrInvalidRequest, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// handleDecryptMemo serves POST /api/decrypt-memo.
func (s *Server) handleDecryptMemo(w http.ResponseWriter, r *http.Request) {
	var body MemoRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeMemoError(w, "", err)
		return
	}
	key := firstNonEmpty(body.UFVK, body.ViewingKey)
	txid := firstNonEmpty(body.TxID, body.TransactionID)
	if key == "" {
		s.writeMemoError(w, txid, fmt.Errorf("%w: ufvk is required", scan.ErrInvalidRequest))
		return
	}
	if txid == "" {
		s.writeMemoError(w, txid, fmt.Errorf("%w: txid is required", scan.ErrInvalidRequest))
		return
	}

	res, err := s.svc.DecryptMemo(r.Context(), scan.MemoRequest{
		ViewingKey: key,
		TxID:       txid,
		Server:     firstNonEmpty(body.LightwalletURL, body.ServerURL),
	})
	if err != nil {
		s.writeMemoError(w, txid, err)
		return
	}

	amount := res.Amount
	writeBody(w, http.StatusOK, MemoResponse{
		Success: true,
		Memo:    res.Memo,
		Amount:  &amount,
		TxID:    res.TxID.String(),
		Found:   res.Found,
		Height:  res.Height,
	})
}

func (s *Server) writeMemoError(w http.ResponseWriter, txid string, err error) {
	kind := scan.KindOf(err)
	s.logger.Warn().Err(err).Str("kind", string(kind)).Str("txid", txid).Msg("Decrypt memo failed")
	writeBody(w, statusFor(kind), MemoResponse{
		TxID:      txid,
		Error:     err.Error(),
		ErrorKind: kind,
	})
}

// handleScanTransactions serves POST /api/scan-transactions.
func (s *Server) handleScanTransactions(w http.ResponseWriter, r *http.Request) {
	var body ScanTransactionsRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeScanError(w, err)
		return
	}
	key := firstNonEmpty(body.UFVK, body.ViewingKey)
	switch {
	case key == "":
		s.writeScanError(w, fmt.Errorf("%w: ufvk is required", scan.ErrInvalidRequest))
		return
	case body.StartHeight == nil || body.EndHeight == nil:
		s.writeScanError(w, fmt.Errorf("%w: start_height and end_height are required", scan.ErrInvalidRequest))
		return
	}

	res, err := s.svc.Scan(r.Context(), scan.ScanRequest{
		ViewingKey: key,
		Start:      *body.StartHeight,
		End:        *body.EndHeight,
		Server:     firstNonEmpty(body.LightwalletURL, body.ServerURL),
	})
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	writeBody(w, http.StatusOK, ScanTransactionsResponse{
		Success:      true,
		Transactions: NewTransactionResults(res.Transactions),
		Balance:      NewBalanceResult(res.Balance),
		LastHeight:   res.LastHeight,
		ScanID:       res.ScanID,
	})
}

func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	resp := ScanTransactionsResponse{
		Transactions: []TransactionResult{},
		Balance:      NewBalanceResult(wallet.Balance{}),
		Error:        err.Error(),
		ErrorKind:    scan.KindOf(err),
	}
	var se *scan.Error
	if errors.As(err, &se) {
		resp.ScanID = se.ScanID
		resp.LastHeight = se.LastHeight
	}
	s.logger.Warn().Err(err).Str("kind", string(resp.ErrorKind)).Str("scan_id", resp.ScanID).Msg("Scan failed")
	writeBody(w, statusFor(resp.ErrorKind), resp)
}
