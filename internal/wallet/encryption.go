package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrWrongPassword is returned when decryption fails authentication.
var ErrWrongPassword = errors.New("wrong password or corrupted data")

// Encryption constants.
const (
	SaltSize = 32

	formatVersion = 1
	// Encrypted format: [version(1)][salt(32)][memory(4)][iterations(4)][parallelism(1)][nonce(24)][ciphertext...]
	headerSize = 1 + SaltSize + 4 + 4 + 1
)

// Upper bounds on stored Argon2 parameters so a tampered file cannot make
// Decrypt allocate unbounded memory.
const (
	maxMemoryKiB  = 1 << 21
	maxIterations = 64
)

// EncryptionParams holds Argon2id parameters.
type EncryptionParams struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns recommended Argon2id parameters. A viewing key is
// less sensitive than a spending key but still reveals the full history.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// deriveKey uses Argon2id to derive a 32-byte encryption key from password and salt.
func deriveKey(password, salt []byte, params EncryptionParams) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		chacha20poly1305.KeySize,
	)
}

// Encrypt encrypts data with password using Argon2id + XChaCha20-Poly1305.
// The header is bound to the ciphertext as associated data.
//
// Output format: version(1) | salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
func Encrypt(data, password []byte, params EncryptionParams) ([]byte, error) {
	if params.Memory == 0 || params.Memory > maxMemoryKiB || params.Iterations == 0 ||
		params.Iterations > maxIterations || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid encryption params %+v", params)
	}
	// Generate random salt.
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	// Derive encryption key.
	key := deriveKey(password, salt, params)

	// Create XChaCha20-Poly1305 AEAD.
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	// Generate random nonce.
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	header := make([]byte, 0, headerSize)
	header = append(header, formatVersion)
	header = append(header, salt...)
	header = binary.LittleEndian.AppendUint32(header, params.Memory)
	header = binary.LittleEndian.AppendUint32(header, params.Iterations)
	header = append(header, params.Parallelism)

	ciphertext := aead.Seal(nil, nonce, data, header)

	out := make([]byte, 0, headerSize+len(nonce)+len(ciphertext))
	out = append(out, header...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	// Zero the derived key.
	for i := range key {
		key[i] = 0
	}

	return out, nil
}

// Decrypt decrypts data encrypted by Encrypt with the given password.
func Decrypt(encrypted, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	minSize := headerSize + nonceSize + chacha20poly1305.Overhead
	if len(encrypted) < minSize {
		return nil, fmt.Errorf("encrypted data too short: %d bytes, need at least %d", len(encrypted), minSize)
	}

	if encrypted[0] != formatVersion {
		return nil, fmt.Errorf("unsupported encryption format %d", encrypted[0])
	}
	header := encrypted[:headerSize]
	salt := header[1 : 1+SaltSize]
	params := EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(header[1+SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[1+SaltSize+4:]),
		Parallelism: header[1+SaltSize+8],
	}
	if params.Memory == 0 || params.Memory > maxMemoryKiB || params.Iterations == 0 ||
		params.Iterations > maxIterations || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid encryption params in header")
	}

	// Parse nonce and ciphertext.
	nonce := encrypted[headerSize : headerSize+nonceSize]
	ciphertext := encrypted[headerSize+nonceSize:]

	// Derive key.
	key := deriveKey(password, salt, params)

	// Create AEAD and decrypt.
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		// Zero the derived key.
		for i := range key {
			key[i] = 0
		}
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, header)

	// Zero the derived key.
	for i := range key {
		key[i] = 0
	}

	if err != nil {
		return nil, ErrWrongPassword
	}

	return plaintext, nil
}
