package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/curve25519"
)

// ScalarSize is the size of secret scalars for both curves.
const ScalarSize = 32

// Point sizes.
const (
	Secp256k1PointSize = 33
	X25519PointSize    = 32
)

// Errors returned by key agreement.
var (
	ErrInvalidPoint  = errors.New("invalid curve point")
	ErrInvalidScalar = errors.New("invalid scalar")
)

// Secp256k1Scalar validates a 32-byte secp256k1 scalar. Zero and values not
// below the group order are rejected.
func Secp256k1Scalar(b []byte) (*secp256k1.PrivateKey, error) {
	if len(b) != ScalarSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidScalar, ScalarSize, len(b))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return nil, fmt.Errorf("%w: out of range", ErrInvalidScalar)
	}
	return secp256k1.NewPrivateKey(&s), nil
}

// Secp256k1PublicKey returns the compressed point scalar·G.
func Secp256k1PublicKey(scalar []byte) ([]byte, error) {
	priv, err := Secp256k1Scalar(scalar)
	if err != nil {
		return nil, err
	}
	return priv.PubKey().SerializeCompressed(), nil
}

// Secp256k1SharedSecret computes the x-coordinate of scalar·point.
func Secp256k1SharedSecret(scalar, point []byte) ([]byte, error) {
	priv, err := Secp256k1Scalar(scalar)
	if err != nil {
		return nil, err
	}
	if len(point) != Secp256k1PointSize {
		return nil, fmt.Errorf("%w: secp256k1 point must be %d bytes, got %d", ErrInvalidPoint, Secp256k1PointSize, len(point))
	}
	pub, err := secp256k1.ParsePubKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return secp256k1.GenerateSharedSecret(priv, pub), nil
}

// X25519PublicKey returns scalar·basepoint.
func X25519PublicKey(scalar []byte) ([]byte, error) {
	if len(scalar) != ScalarSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidScalar, ScalarSize, len(scalar))
	}
	return curve25519.X25519(scalar, curve25519.Basepoint)
}

// X25519SharedSecret computes scalar·point. Low-order points are rejected.
func X25519SharedSecret(scalar, point []byte) ([]byte, error) {
	if len(scalar) != ScalarSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidScalar, ScalarSize, len(scalar))
	}
	if len(point) != X25519PointSize {
		return nil, fmt.Errorf("%w: x25519 point must be %d bytes, got %d", ErrInvalidPoint, X25519PointSize, len(point))
	}
	shared, err := curve25519.X25519(scalar, point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return shared, nil
}

// RandomSecp256k1Scalar returns a uniformly random valid secp256k1 scalar.
func RandomSecp256k1Scalar() ([]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate scalar: %w", err)
	}
	return priv.Serialize(), nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
