package wallet

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// TxKind tells whether a transaction moved value into or out of the wallet.
type TxKind uint8

const (
	TxReceived TxKind = iota
	TxSent
)

// String returns the kind name.
func (k TxKind) String() string {
	if k == TxSent {
		return "sent"
	}
	return "received"
}

// MarshalText implements encoding.TextMarshaler.
func (k TxKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TxKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "received":
		*k = TxReceived
	case "sent":
		*k = TxSent
	default:
		return fmt.Errorf("unknown transaction kind %q", text)
	}
	return nil
}

// Transaction is the wallet's view of one transaction.
type Transaction struct {
	TxID      types.TxID `json:"txid"`
	Height    uint64     `json:"height"`
	Amount    int64      `json:"amount"`
	Received  int64      `json:"received"`
	Spent     int64      `json:"spent"`
	Memo      string     `json:"memo,omitempty"`
	Timestamp int64      `json:"timestamp"`
	Kind      TxKind     `json:"kind"`
	Notes     int        `json:"notes"`
}

// Transactions groups the notes received and the wallet spends revealed in
// [start, end] by transaction id. Amount is received minus spent; Memo is
// the first text memo among the received notes. Results are ordered by
// height, then txid.
func (s *Store) Transactions(start, end uint64) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes, err := s.notesInRange(start, end)
	if err != nil {
		return nil, err
	}
	spends, err := s.spendsInRange(start, end)
	if err != nil {
		return nil, err
	}

	byID := make(map[types.TxID]*Transaction)
	get := func(id types.TxID, height uint64) *Transaction {
		tx, ok := byID[id]
		if !ok {
			tx = &Transaction{TxID: id, Height: height}
			byID[id] = tx
		}
		return tx
	}

	for i := range notes {
		n := &notes[i]
		tx := get(n.TxID, n.Height)
		tx.Received += n.Value
		tx.Notes++
		if tx.Memo == "" && n.MemoKind == MemoText {
			tx.Memo = n.Memo
		}
		if tx.Timestamp == 0 {
			tx.Timestamp = n.Timestamp
		}
	}
	for _, sp := range spends {
		tx := get(sp.TxID, sp.Height)
		tx.Spent += sp.Value
		if tx.Timestamp == 0 {
			if meta, err := s.blockMeta(sp.Height); err == nil {
				tx.Timestamp = int64(meta.Time)
			}
		}
	}

	out := make([]Transaction, 0, len(byID))
	for _, tx := range byID {
		tx.Amount = tx.Received - tx.Spent
		if tx.Amount < 0 {
			tx.Kind = TxSent
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return compareTxID(out[i].TxID, out[j].TxID) < 0
	})
	return out, nil
}
