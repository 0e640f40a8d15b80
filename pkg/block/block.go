// Package block defines the compact block representation a light client
// receives from a light-wallet server.
package block

import (
	"fmt"

	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Pool identifies a shielded value pool. The numeric order is the order
// outputs of one transaction are reported in.
type Pool uint8

const (
	PoolSapling Pool = 1
	PoolOrchard Pool = 2
)

// Pools lists the supported pools in canonical order.
var Pools = []Pool{PoolSapling, PoolOrchard}

// String returns the pool name.
func (p Pool) String() string {
	switch p {
	case PoolSapling:
		return "sapling"
	case PoolOrchard:
		return "orchard"
	}
	return fmt.Sprintf("pool(%d)", uint8(p))
}

// Valid reports whether p is a known pool.
func (p Pool) Valid() bool {
	return p == PoolSapling || p == PoolOrchard
}

// ParsePool converts a pool name into a Pool.
func ParsePool(s string) (Pool, error) {
	switch s {
	case "sapling":
		return PoolSapling, nil
	case "orchard":
		return PoolOrchard, nil
	}
	return 0, fmt.Errorf("unknown pool %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Pool) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pool) UnmarshalText(text []byte) error {
	parsed, err := ParsePool(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// CompactBlock carries only the data needed to detect incoming notes and
// spends.
type CompactBlock struct {
	ProtoVersion uint32       `json:"proto_version,omitempty"`
	Height       uint64       `json:"height"`
	Hash         types.Hash   `json:"hash"`
	PrevHash     types.Hash   `json:"prev_hash"`
	Time         uint32       `json:"time"`
	Header       []byte       `json:"header,omitempty"`
	Txs          []*CompactTx `json:"vtx"`
}

// CompactTx holds the shielded parts of one transaction.
type CompactTx struct {
	Index   uint64          `json:"index"`
	Hash    types.TxID      `json:"hash"`
	Fee     uint32          `json:"fee,omitempty"`
	Spends  []CompactSpend  `json:"spends,omitempty"`
	Outputs []CompactOutput `json:"outputs,omitempty"`
}

// CompactSpend reveals the nullifier of a spent note.
type CompactSpend struct {
	Pool      Pool            `json:"pool"`
	Nullifier types.Nullifier `json:"nf"`
}

// CompactOutput is a shielded output with the compact prefix of its note
// ciphertext.
type CompactOutput struct {
	Pool         Pool       `json:"pool"`
	Commitment   types.Hash `json:"cmu"`
	EphemeralKey []byte     `json:"epk"`
	Ciphertext   []byte     `json:"ciphertext"`
}

// OutputCount returns the number of shielded outputs in the block.
func (b *CompactBlock) OutputCount() int {
	n := 0
	for _, tx := range b.Txs {
		if tx != nil {
			n += len(tx.Outputs)
		}
	}
	return n
}

// FindTx returns the transaction with the given id, or nil.
func (b *CompactBlock) FindTx(id types.TxID) *CompactTx {
	for _, tx := range b.Txs {
		if tx != nil && tx.Hash == id {
			return tx
		}
	}
	return nil
}

// PoolIndexes returns, for each output of tx, its position among the tx's
// outputs of the same pool.
func (tx *CompactTx) PoolIndexes() []uint32 {
	counts := make(map[Pool]uint32, len(Pools))
	idx := make([]uint32, len(tx.Outputs))
	for i, out := range tx.Outputs {
		idx[i] = counts[out.Pool]
		counts[out.Pool]++
	}
	return idx
}
