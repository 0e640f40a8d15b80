package wallet

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Key prefixes for the wallet store.
var (
	prefixNote  = []byte("n/") // n/<height8><txid32><pool1><index4> -> Note JSON
	prefixID    = []byte("i/") // i/<txid32><pool1><index4> -> height8
	prefixNf    = []byte("f/") // f/<nullifier32> -> note key
	prefixSpend = []byte("s/") // s/<height8><txid32><nullifier32> -> SpendRecord JSON
	prefixBlock = []byte("b/") // b/<height8> -> BlockMeta JSON

	keyCheckpoint = []byte("m/checkpoint") // height8
	keyBirthday   = []byte("m/birthday")   // height8
)

const noteIDSize = types.HashSize + 1 + 4

func heightBytes(h uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return b[:]
}

func withPrefix(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func encodeNoteID(id NoteID) []byte {
	b := make([]byte, noteIDSize)
	copy(b, id.TxID[:])
	b[types.HashSize] = byte(id.Pool)
	binary.BigEndian.PutUint32(b[types.HashSize+1:], id.OutputIndex)
	return b
}

// noteKey builds "n/" + height(8) + txid(32) + pool(1) + index(4).
func noteKey(height uint64, id NoteID) []byte {
	return withPrefix(prefixNote, heightBytes(height), encodeNoteID(id))
}

// idKey builds "i/" + txid(32) + pool(1) + index(4).
func idKey(id NoteID) []byte {
	return withPrefix(prefixID, encodeNoteID(id))
}

func nullifierKey(nf types.Nullifier) []byte {
	return withPrefix(prefixNf, nf[:])
}

// spendKey builds "s/" + height(8) + txid(32) + nullifier(32).
func spendKey(sp Spend) []byte {
	return withPrefix(prefixSpend, heightBytes(sp.Height), sp.TxID[:], sp.Nullifier[:])
}

func blockKey(h uint64) []byte {
	return withPrefix(prefixBlock, heightBytes(h))
}

// heightFromKey reads the big-endian height following a two-byte prefix.
func heightFromKey(key []byte) (uint64, error) {
	if len(key) < 10 {
		return 0, fmt.Errorf("key too short: %d bytes", len(key))
	}
	return binary.BigEndian.Uint64(key[2:10]), nil
}

func decodeHeight(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("height value must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Namespace returns the storage prefix that isolates the state of the
// viewing key with the given fingerprint.
func Namespace(fingerprint types.Hash) []byte {
	return []byte("w/" + hex.EncodeToString(fingerprint[:]) + "/")
}
