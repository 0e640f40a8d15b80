package decrypt

import (
	"encoding/binary"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// BLAKE2b personalizations for the orchard pool.
var (
	orchardKDFKey    = []byte("Zcash_OrchardKDF")
	orchardCommitKey = []byte("Zcash_OrchardNoteCm")
)

// Orchard returns the orchard pool: X25519 key agreement with keyed BLAKE2b
// derivations.
func Orchard() Pool {
	return &scheme{
		id:        block.PoolOrchard,
		epkSize:   crypto.X25519PointSize,
		publicKey: crypto.X25519PublicKey,
		agree:     crypto.X25519SharedSecret,
		ephemeral: func() ([]byte, error) { return crypto.RandomBytes(crypto.ScalarSize) },
		kdf: func(shared, epk []byte) types.Hash {
			return crypto.Blake2bKeyed(orchardKDFKey, shared, epk)
		},
		commit: func(pkd []byte, value uint64, rseed []byte) types.Hash {
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], value)
			return crypto.Blake2bKeyed(orchardCommitKey, pkd, v[:], rseed)
		},
		nullifier: func(nk [32]byte, cm types.Hash) types.Nullifier {
			return types.Nullifier(crypto.Blake2bKeyed(nk[:], cm[:]))
		},
	}
}
