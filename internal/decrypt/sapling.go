package decrypt

import (
	"encoding/binary"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// BLAKE3 derive-key contexts for the sapling pool.
const (
	saplingKDFContext    = "shieldscan sapling note kdf"
	saplingCommitContext = "shieldscan sapling note commitment"
)

// Sapling returns the sapling pool: secp256k1 key agreement with BLAKE3
// derivations.
func Sapling() Pool {
	return &scheme{
		id:        block.PoolSapling,
		epkSize:   crypto.Secp256k1PointSize,
		publicKey: crypto.Secp256k1PublicKey,
		agree:     crypto.Secp256k1SharedSecret,
		ephemeral: crypto.RandomSecp256k1Scalar,
		kdf: func(shared, epk []byte) types.Hash {
			return crypto.DeriveKey(saplingKDFContext, shared, epk)
		},
		commit: func(pkd []byte, value uint64, rseed []byte) types.Hash {
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], value)
			return crypto.DeriveKey(saplingCommitContext, pkd, v[:], rseed)
		},
		nullifier: func(nk [32]byte, cm types.Hash) types.Nullifier {
			return types.Nullifier(crypto.KeyedHash(types.Hash(nk), cm[:]))
		},
	}
}
