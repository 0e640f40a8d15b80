// Package crypto provides the hashing and key agreement primitives used by
// the shielded pools.
package crypto

import (
	"github.com/Klingon-tech/shieldscan/pkg/types"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashConcat hashes the concatenation of the given parts.
func HashConcat(parts ...[]byte) types.Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveKey runs BLAKE3 in key derivation mode with a domain context string.
func DeriveKey(context string, parts ...[]byte) types.Hash {
	h := blake3.NewDeriveKey(context)
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// KeyedHash runs BLAKE3 in keyed mode.
func KeyedHash(key types.Hash, parts ...[]byte) types.Hash {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only returned for keys that are not 32 bytes.
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Blake2bKeyed computes a 256-bit keyed BLAKE2b digest. Keys longer than 64
// bytes are rejected by blake2b, so callers pass short personalization tags or
// 32-byte secrets.
func Blake2bKeyed(key []byte, parts ...[]byte) types.Hash {
	h, err := blake2b.New256(key)
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
