// Package wallet holds the notes discovered for one viewing key and derives
// balances and transaction history from them.
package wallet

import (
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// MaxMoney is the largest valid note value in zatoshi.
const MaxMoney int64 = 21_000_000 * 100_000_000

// Note is an incoming value event decrypted with the wallet's viewing key.
// Only the spent fields change after creation.
type Note struct {
	TxID        types.TxID      `json:"txid"`
	Pool        block.Pool      `json:"pool"`
	OutputIndex uint32          `json:"output_index"`
	TxIndex     uint64          `json:"tx_index"`
	Height      uint64          `json:"height"`
	Value       int64           `json:"value"`
	Memo        string          `json:"memo,omitempty"`
	MemoKind    MemoKind        `json:"memo_kind"`
	MemoRaw     []byte          `json:"memo_raw,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Nullifier   types.Nullifier `json:"nullifier"`
	Commitment  types.Hash      `json:"commitment"`

	Spent       bool       `json:"spent"`
	SpentHeight uint64     `json:"spent_height,omitempty"`
	SpentTxID   types.TxID `json:"spent_txid,omitempty"`
}

// NoteID uniquely identifies a note within a store.
type NoteID struct {
	TxID        types.TxID
	Pool        block.Pool
	OutputIndex uint32
}

// ID returns the note's identity.
func (n *Note) ID() NoteID {
	return NoteID{TxID: n.TxID, Pool: n.Pool, OutputIndex: n.OutputIndex}
}

// UnspentAt reports whether the note exists and is unspent at height h.
func (n *Note) UnspentAt(h uint64) bool {
	if n.Height > h {
		return false
	}
	return !n.Spent || n.SpentHeight > h
}

// Spend is a nullifier revealed by a transaction in a block.
type Spend struct {
	Nullifier types.Nullifier `json:"nullifier"`
	TxID      types.TxID      `json:"txid"`
	Height    uint64          `json:"height"`
}

// BlockMeta is the linkage record kept for each committed height.
type BlockMeta struct {
	Height   uint64     `json:"height"`
	Hash     types.Hash `json:"hash"`
	PrevHash types.Hash `json:"prev_hash"`
	Time     uint32     `json:"time"`
}

// MetaFromBlock extracts the linkage record of a compact block.
func MetaFromBlock(b *block.CompactBlock) BlockMeta {
	return BlockMeta{Height: b.Height, Hash: b.Hash, PrevHash: b.PrevHash, Time: b.Time}
}

// SpendsFromBlock collects every nullifier revealed in the block. The store
// ignores the ones that do not belong to the wallet.
func SpendsFromBlock(b *block.CompactBlock) []Spend {
	var out []Spend
	for _, tx := range b.Txs {
		for _, sp := range tx.Spends {
			out = append(out, Spend{Nullifier: sp.Nullifier, TxID: tx.Hash, Height: b.Height})
		}
	}
	return out
}
