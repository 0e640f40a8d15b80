// Package types defines core primitive types shared by the scanner packages.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a hash in bytes.
const HashSize = 32

// Hash represents a 256-bit hash value.
type Hash [HashSize]byte

// TxID identifies a transaction.
type TxID Hash

// Nullifier is revealed on-chain when a note is spent.
type Nullifier Hash

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	parsed, err := HexToHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HexToHash converts a hex string to a Hash.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// BytesToHash copies b into a Hash. b must be exactly HashSize bytes.
func BytesToHash(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// IsZero returns true if the transaction id is all zeros.
func (t TxID) IsZero() bool {
	return Hash(t).IsZero()
}

// String returns the hex-encoded transaction id.
func (t TxID) String() string {
	return Hash(t).String()
}

// MarshalJSON encodes the transaction id as a hex string.
func (t TxID) MarshalJSON() ([]byte, error) {
	return Hash(t).MarshalJSON()
}

// UnmarshalJSON decodes a hex string into a transaction id.
func (t *TxID) UnmarshalJSON(data []byte) error {
	return (*Hash)(t).UnmarshalJSON(data)
}

// HexToTxID parses a 64-character hex transaction id.
func HexToTxID(s string) (TxID, error) {
	h, err := HexToHash(s)
	if err != nil {
		return TxID{}, fmt.Errorf("invalid txid: %w", err)
	}
	return TxID(h), nil
}

// IsZero returns true if the nullifier is all zeros.
func (n Nullifier) IsZero() bool {
	return Hash(n).IsZero()
}

// String returns the hex-encoded nullifier.
func (n Nullifier) String() string {
	return Hash(n).String()
}

// MarshalJSON encodes the nullifier as a hex string.
func (n Nullifier) MarshalJSON() ([]byte, error) {
	return Hash(n).MarshalJSON()
}

// UnmarshalJSON decodes a hex string into a nullifier.
func (n *Nullifier) UnmarshalJSON(data []byte) error {
	return (*Hash)(n).UnmarshalJSON(data)
}
