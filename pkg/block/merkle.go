package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// ComputeMerkleRoot calculates the merkle root of transaction hashes.
//
// Algorithm:
//   - 0 hashes: returns zero hash
//   - 1 hash: returns that hash
//   - Otherwise: pairwise hash, duplicating the last element if odd count,
//     then recurse on the resulting layer until one hash remains.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	if len(txHashes) == 0 {
		return types.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i][:], level[i+1][:])
		}
		level = next
	}

	return level[0]
}

// TxRoot returns the merkle root over the block's transaction ids.
func (b *CompactBlock) TxRoot() types.Hash {
	ids := make([]types.Hash, 0, len(b.Txs))
	for _, tx := range b.Txs {
		if tx != nil {
			ids = append(ids, types.Hash(tx.Hash))
		}
	}
	return ComputeMerkleRoot(ids)
}

// ComputeHash derives a block identity from height, parent, time and the
// transaction root. Used by locally built chains; blocks from a server carry
// the hash the server reports.
func (b *CompactBlock) ComputeHash() types.Hash {
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], b.Height)
	binary.LittleEndian.PutUint32(hdr[8:12], b.Time)
	binary.LittleEndian.PutUint32(hdr[12:16], b.ProtoVersion)
	root := b.TxRoot()
	return crypto.DeriveKey("shieldscan compact block hash", hdr[:], b.PrevHash[:], root[:], b.Header)
}
