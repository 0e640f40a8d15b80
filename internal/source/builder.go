package source

import (
	"encoding/binary"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// DefaultBlockTime is the spacing between built blocks, in seconds.
const DefaultBlockTime = 75

// ChainBuilder assembles a linked chain of compact blocks.
type ChainBuilder struct {
	blocks []*block.CompactBlock
	next   uint64
	time   uint32
	salt   []byte
}

// NewChainBuilder starts a chain whose first block has the given height.
func NewChainBuilder(start uint64) *ChainBuilder {
	return &ChainBuilder{next: start, time: 1_700_000_000}
}

// Fork returns a builder that shares the blocks below height and builds a
// different branch from there. salt makes the branch hashes distinct.
func (b *ChainBuilder) Fork(height uint64, salt string) *ChainBuilder {
	f := &ChainBuilder{next: height, time: b.time, salt: []byte(salt)}
	for _, blk := range b.blocks {
		if blk.Height >= height {
			f.time = blk.Time - DefaultBlockTime
			break
		}
		f.blocks = append(f.blocks, blk)
	}
	return f
}

// Tx creates a transaction with the given outputs that reveals the given
// nullifiers as sapling spends. Its index and id are assigned when it is
// added to a block.
func Tx(outputs []block.CompactOutput, spends ...types.Nullifier) *block.CompactTx {
	tx := &block.CompactTx{Outputs: outputs}
	for _, nf := range spends {
		tx.Spends = append(tx.Spends, block.CompactSpend{Pool: block.PoolSapling, Nullifier: nf})
	}
	return tx
}

// Block appends a block holding txs and returns it.
func (b *ChainBuilder) Block(txs ...*block.CompactTx) *block.CompactBlock {
	b.time += DefaultBlockTime
	blk := &block.CompactBlock{
		Height: b.next,
		Time:   b.time,
		Header: append([]byte(nil), b.salt...),
		Txs:    txs,
	}
	if n := len(b.blocks); n > 0 {
		blk.PrevHash = b.blocks[n-1].Hash
	}
	for i, tx := range txs {
		tx.Index = uint64(i)
		if tx.Hash.IsZero() {
			tx.Hash = txID(blk.Height, uint64(i), b.salt)
		}
	}
	blk.Hash = blk.ComputeHash()
	b.blocks = append(b.blocks, blk)
	b.next++
	return blk
}

// Empty appends n blocks without transactions.
func (b *ChainBuilder) Empty(n int) {
	for i := 0; i < n; i++ {
		b.Block()
	}
}

// Blocks returns the chain built so far.
func (b *ChainBuilder) Blocks() []*block.CompactBlock {
	return append([]*block.CompactBlock(nil), b.blocks...)
}

// From returns the built blocks at or above height.
func (b *ChainBuilder) From(height uint64) []*block.CompactBlock {
	var out []*block.CompactBlock
	for _, blk := range b.blocks {
		if blk.Height >= height {
			out = append(out, blk)
		}
	}
	return out
}

// Memory loads the built chain into a Memory source.
func (b *ChainBuilder) Memory() (*Memory, error) {
	return NewMemory(b.blocks...)
}

func txID(height, index uint64, salt []byte) types.TxID {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], height)
	binary.LittleEndian.PutUint64(buf[8:], index)
	return types.TxID(crypto.DeriveKey("shieldscan built txid", buf[:], salt))
}
