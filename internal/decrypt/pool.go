// Package decrypt trial-decrypts shielded outputs with a viewing key.
package decrypt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Trial decryption outcomes.
var (
	// ErrNotForKey means the output belongs to someone else. It is the
	// common case and is never logged.
	ErrNotForKey = errors.New("output not decryptable by this key")
	// ErrMalformedOutput means the output cannot be a valid note for any key.
	ErrMalformedOutput = errors.New("malformed output")
	// ErrDecryptPanic is returned for a block when a pool implementation
	// panicked while decrypting one of its outputs.
	ErrDecryptPanic = errors.New("panic during trial decryption")
	// ErrNoComponent means the viewing key has nothing for the pool.
	ErrNoComponent = errors.New("viewing key has no component for pool")
)

// Note plaintext layout: lead(1) | value(8, LE) | rseed(32) | memo(512).
const (
	LeadByte              = 0x02
	CompactPlaintextSize  = 1 + 8 + 32
	PlaintextSize         = CompactPlaintextSize + wallet.MemoSize
	CompactCiphertextSize = CompactPlaintextSize
	FullCiphertextSize    = PlaintextSize + chacha20poly1305.Overhead
)

// Each epk is fresh, so the note key is used once and a zero nonce is safe.
var zeroNonce [chacha20poly1305.NonceSize]byte

// DetectionKey is the per-pool material a viewing key yields for scanning.
type DetectionKey struct {
	Pool block.Pool
	IVK  [32]byte
	NK   [32]byte
	// PkD is the diversified transmission key of the default address.
	PkD []byte
}

// Plaintext is a successfully decrypted output.
type Plaintext struct {
	Value     int64
	Rseed     [32]byte
	Memo      []byte // nil when only the compact ciphertext was available
	Nullifier types.Nullifier
}

// Pool is the capability set the engine needs from a shielded pool.
type Pool interface {
	ID() block.Pool
	DeriveDetectionKey(vk *keys.ViewingKey) (*DetectionKey, error)
	TryDecryptOutput(dk *DetectionKey, out *block.CompactOutput) (*Plaintext, error)
	// Address returns the transmission key outputs are sealed to.
	Address(dk *DetectionKey) []byte
	// Seal builds a full output paying value to pkd.
	Seal(pkd []byte, value int64, memo [wallet.MemoSize]byte) (block.CompactOutput, error)
}

// scheme is the control flow shared by every pool. Pools differ only in
// their key agreement and hash hooks.
type scheme struct {
	id      block.Pool
	epkSize int

	publicKey func(scalar []byte) ([]byte, error)
	agree     func(scalar, point []byte) ([]byte, error)
	ephemeral func() ([]byte, error)
	kdf       func(shared, epk []byte) types.Hash
	commit    func(pkd []byte, value uint64, rseed []byte) types.Hash
	nullifier func(nk [32]byte, cm types.Hash) types.Nullifier
}

func (s *scheme) ID() block.Pool { return s.id }

func (s *scheme) DeriveDetectionKey(vk *keys.ViewingKey) (*DetectionKey, error) {
	c, ok := vk.Component(s.id)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoComponent, s.id)
	}
	pkd, err := s.publicKey(c.IVK[:])
	if err != nil {
		return nil, fmt.Errorf("%s address: %w", s.id, err)
	}
	return &DetectionKey{Pool: s.id, IVK: c.IVK, NK: c.NK, PkD: pkd}, nil
}

func (s *scheme) Address(dk *DetectionKey) []byte {
	return append([]byte(nil), dk.PkD...)
}

func (s *scheme) TryDecryptOutput(dk *DetectionKey, out *block.CompactOutput) (*Plaintext, error) {
	if dk.Pool != s.id || out.Pool != s.id {
		return nil, fmt.Errorf("%w: pool %s output with %s key", ErrMalformedOutput, out.Pool, dk.Pool)
	}
	if len(out.EphemeralKey) != s.epkSize {
		return nil, fmt.Errorf("%w: epk is %d bytes, want %d", ErrMalformedOutput, len(out.EphemeralKey), s.epkSize)
	}
	var compact bool
	switch len(out.Ciphertext) {
	case CompactCiphertextSize:
		compact = true
	case FullCiphertextSize:
	default:
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrMalformedOutput, len(out.Ciphertext))
	}

	shared, err := s.agree(dk.IVK[:], out.EphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	key := s.kdf(shared, out.EphemeralKey)

	var plain []byte
	if compact {
		plain, err = openCompact(key, out.Ciphertext)
		if err != nil {
			return nil, err
		}
		if plain[0] != LeadByte {
			return nil, ErrNotForKey
		}
	} else {
		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, fmt.Errorf("note cipher: %w", err)
		}
		plain, err = aead.Open(nil, zeroNonce[:], out.Ciphertext, nil)
		if err != nil {
			return nil, ErrNotForKey
		}
		if plain[0] != LeadByte {
			return nil, fmt.Errorf("%w: lead byte 0x%02x", ErrMalformedOutput, plain[0])
		}
	}

	value := binary.LittleEndian.Uint64(plain[1:9])
	var pt Plaintext
	copy(pt.Rseed[:], plain[9:CompactPlaintextSize])

	if cm := s.commit(dk.PkD, value, pt.Rseed[:]); cm != out.Commitment {
		if compact {
			return nil, ErrNotForKey
		}
		return nil, fmt.Errorf("%w: commitment mismatch", ErrMalformedOutput)
	}
	if value > uint64(wallet.MaxMoney) {
		return nil, fmt.Errorf("%w: value %d exceeds max money", ErrMalformedOutput, value)
	}

	pt.Value = int64(value)
	pt.Nullifier = s.nullifier(dk.NK, out.Commitment)
	if !compact {
		pt.Memo = append([]byte(nil), plain[CompactPlaintextSize:]...)
	}
	return &pt, nil
}

func (s *scheme) Seal(pkd []byte, value int64, memo [wallet.MemoSize]byte) (block.CompactOutput, error) {
	if value < 0 || value > wallet.MaxMoney {
		return block.CompactOutput{}, fmt.Errorf("value %d out of range", value)
	}
	esk, err := s.ephemeral()
	if err != nil {
		return block.CompactOutput{}, err
	}
	epk, err := s.publicKey(esk)
	if err != nil {
		return block.CompactOutput{}, fmt.Errorf("ephemeral key: %w", err)
	}
	shared, err := s.agree(esk, pkd)
	if err != nil {
		return block.CompactOutput{}, fmt.Errorf("recipient key: %w", err)
	}
	rseed, err := crypto.RandomBytes(32)
	if err != nil {
		return block.CompactOutput{}, err
	}

	plain := make([]byte, 0, PlaintextSize)
	plain = append(plain, LeadByte)
	plain = binary.LittleEndian.AppendUint64(plain, uint64(value))
	plain = append(plain, rseed...)
	plain = append(plain, memo[:]...)

	key := s.kdf(shared, epk)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return block.CompactOutput{}, fmt.Errorf("note cipher: %w", err)
	}
	return block.CompactOutput{
		Pool:         s.id,
		Commitment:   s.commit(pkd, uint64(value), rseed),
		EphemeralKey: epk,
		Ciphertext:   aead.Seal(nil, zeroNonce[:], plain, nil),
	}, nil
}

// openCompact decrypts the compact prefix. The AEAD encrypts from block
// counter 1 (block 0 keys Poly1305), so the prefix is the raw stream there.
func openCompact(key types.Hash, ct []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], zeroNonce[:])
	if err != nil {
		return nil, fmt.Errorf("note stream: %w", err)
	}
	c.SetCounter(1)
	plain := make([]byte, len(ct))
	c.XORKeyStream(plain, ct)
	return plain, nil
}

// Compact returns out with its ciphertext cut to the compact prefix, as a
// light-wallet server sends it in a compact block.
func Compact(out block.CompactOutput) block.CompactOutput {
	if len(out.Ciphertext) > CompactCiphertextSize {
		out.Ciphertext = append([]byte(nil), out.Ciphertext[:CompactCiphertextSize]...)
	}
	return out
}
