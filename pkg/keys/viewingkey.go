// Package keys parses and encodes shielded viewing keys.
//
// A unified viewing key is a bech32m string whose payload is a sequence of
// items, each encoded as uvarint(typecode) | uvarint(length) | data, followed
// by the HRP zero-padded to 16 bytes. Items with unknown typecodes are
// skipped. Legacy sapling viewing keys are bech32 strings carrying a single
// sapling component.
package keys

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// ErrInvalidKey is returned for any viewing key that cannot be used.
var ErrInvalidKey = errors.New("invalid viewing key")

// Item typecodes.
const (
	TypecodeSapling = 0x02
	TypecodeOrchard = 0x03
)

// ComponentSize is the encoded size of one pool component.
const ComponentSize = 64

const paddingSize = 16

// Component holds the incoming viewing key and nullifier key for one pool.
type Component struct {
	IVK [32]byte
	NK  [32]byte
}

// Bytes encodes the component as ivk | nk.
func (c Component) Bytes() []byte {
	out := make([]byte, 0, ComponentSize)
	out = append(out, c.IVK[:]...)
	return append(out, c.NK[:]...)
}

func componentFromBytes(b []byte) (Component, error) {
	if len(b) != ComponentSize {
		return Component{}, fmt.Errorf("component must be %d bytes, got %d", ComponentSize, len(b))
	}
	var c Component
	copy(c.IVK[:], b[:32])
	copy(c.NK[:], b[32:])
	return c, nil
}

func (c Component) validate(pool block.Pool) error {
	if c.NK == ([32]byte{}) {
		return fmt.Errorf("%s nullifier key is zero", pool)
	}
	switch pool {
	case block.PoolSapling:
		if _, err := crypto.Secp256k1Scalar(c.IVK[:]); err != nil {
			return fmt.Errorf("sapling ivk: %w", err)
		}
	case block.PoolOrchard:
		if c.IVK == ([32]byte{}) {
			return fmt.Errorf("orchard ivk is zero")
		}
	}
	return nil
}

// ViewingKey is a validated, immutable viewing key.
type ViewingKey struct {
	network    types.Network
	components map[block.Pool]Component
	encoded    string
}

// New builds a viewing key from components. Nil components are omitted.
func New(network types.Network, sapling, orchard *Component) (*ViewingKey, error) {
	vk := &ViewingKey{network: network, components: make(map[block.Pool]Component)}
	if sapling != nil {
		vk.components[block.PoolSapling] = *sapling
	}
	if orchard != nil {
		vk.components[block.PoolOrchard] = *orchard
	}
	if err := vk.validate(); err != nil {
		return nil, err
	}
	enc, err := vk.encodeUnified()
	if err != nil {
		return nil, err
	}
	vk.encoded = enc
	return vk, nil
}

func (vk *ViewingKey) validate() error {
	if len(vk.components) == 0 {
		return fmt.Errorf("%w: no supported pool component", ErrInvalidKey)
	}
	for pool, c := range vk.components {
		if err := c.validate(pool); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	}
	return nil
}

// Parse decodes and validates a unified or legacy sapling viewing key.
func Parse(s string) (*ViewingKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	hrp, data, enc, err := types.DecodeAny(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	vk := &ViewingKey{components: make(map[block.Pool]Component)}
	switch hrp {
	case types.MainnetViewingKeyHRP, types.TestnetViewingKeyHRP:
		if enc != types.Bech32m {
			return nil, fmt.Errorf("%w: unified key must use bech32m", ErrInvalidKey)
		}
		vk.network = types.Mainnet
		if hrp == types.TestnetViewingKeyHRP {
			vk.network = types.Testnet
		}
		if err := vk.decodeItems(hrp, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	case types.MainnetSaplingViewingKeyHRP, types.TestnetSaplingViewingKeyHRP:
		vk.network = types.Mainnet
		if hrp == types.TestnetSaplingViewingKeyHRP {
			vk.network = types.Testnet
		}
		c, err := componentFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		vk.components[block.PoolSapling] = c
	default:
		return nil, fmt.Errorf("%w: unknown prefix %q", ErrInvalidKey, hrp)
	}

	if err := vk.validate(); err != nil {
		return nil, err
	}
	vk.encoded = strings.ToLower(s)
	return vk, nil
}

func (vk *ViewingKey) decodeItems(hrp string, data []byte) error {
	if len(data) < paddingSize {
		return fmt.Errorf("payload too short")
	}
	body, pad := data[:len(data)-paddingSize], data[len(data)-paddingSize:]
	if !bytes.Equal(pad, hrpPadding(hrp)) {
		return fmt.Errorf("bad padding")
	}

	var lastType uint64
	for first := true; len(body) > 0; first = false {
		typecode, n := binary.Uvarint(body)
		if n <= 0 {
			return fmt.Errorf("bad item typecode")
		}
		body = body[n:]
		length, n := binary.Uvarint(body)
		if n <= 0 || length > uint64(len(body)-n) {
			return fmt.Errorf("bad item length")
		}
		body = body[n:]
		item := body[:length]
		body = body[length:]

		if !first && typecode <= lastType {
			return fmt.Errorf("items not in ascending typecode order")
		}
		lastType = typecode

		var pool block.Pool
		switch typecode {
		case TypecodeSapling:
			pool = block.PoolSapling
		case TypecodeOrchard:
			pool = block.PoolOrchard
		default:
			continue
		}
		c, err := componentFromBytes(item)
		if err != nil {
			return fmt.Errorf("%s item: %w", pool, err)
		}
		vk.components[pool] = c
	}
	return nil
}

func hrpPadding(hrp string) []byte {
	pad := make([]byte, paddingSize)
	copy(pad, hrp)
	return pad
}

func (vk *ViewingKey) encodeUnified() (string, error) {
	hrp := vk.network.ViewingKeyHRP()
	var payload []byte
	for _, item := range []struct {
		pool     block.Pool
		typecode uint64
	}{{block.PoolSapling, TypecodeSapling}, {block.PoolOrchard, TypecodeOrchard}} {
		c, ok := vk.components[item.pool]
		if !ok {
			continue
		}
		payload = binary.AppendUvarint(payload, item.typecode)
		payload = binary.AppendUvarint(payload, ComponentSize)
		payload = append(payload, c.Bytes()...)
	}
	payload = append(payload, hrpPadding(hrp)...)
	return types.Bech32mEncode(hrp, payload)
}

// Network returns the network the key belongs to.
func (vk *ViewingKey) Network() types.Network {
	return vk.network
}

// Component returns the component for pool.
func (vk *ViewingKey) Component(pool block.Pool) (Component, bool) {
	c, ok := vk.components[pool]
	return c, ok
}

// Pools returns the pools the key can scan, in canonical order.
func (vk *ViewingKey) Pools() []block.Pool {
	var out []block.Pool
	for _, p := range block.Pools {
		if _, ok := vk.components[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Encode returns the key string as parsed, or the unified encoding for keys
// built with New.
func (vk *ViewingKey) Encode() string {
	return vk.encoded
}

// EncodeUnified returns the unified bech32m encoding regardless of the
// form the key was parsed from.
func (vk *ViewingKey) EncodeUnified() (string, error) {
	return vk.encodeUnified()
}

// Fingerprint returns a stable identifier for the key material. It names
// the key's persisted state without revealing the key.
func (vk *ViewingKey) Fingerprint() types.Hash {
	parts := [][]byte{{byte(vk.network)}}
	for _, p := range vk.Pools() {
		c := vk.components[p]
		parts = append(parts, []byte{byte(p)}, c.Bytes())
	}
	return crypto.DeriveKey("shieldscan viewing key fingerprint", parts...)
}

// Redacted returns a shortened form safe for logs.
func (vk *ViewingKey) Redacted() string {
	s := vk.encoded
	if len(s) <= 20 {
		return s
	}
	return s[:12] + "..." + s[len(s)-6:]
}

// String implements fmt.Stringer with the redacted form.
func (vk *ViewingKey) String() string {
	return vk.Redacted()
}
