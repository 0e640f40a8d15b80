package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Keystore errors.
var (
	ErrKeyExists   = errors.New("viewing key already exists")
	ErrKeyNotFound = errors.New("viewing key not found")
	ErrBadKeyName  = errors.New("invalid key name")
)

const keyFileExt = ".vkey"

var keyNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// keyFile is the on-disk JSON format for an encrypted viewing key.
type keyFile struct {
	Version      int           `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	Network      types.Network `json:"network"`
	Fingerprint  types.Hash    `json:"fingerprint"`
	Birthday     uint64        `json:"birthday"`
	EncryptedKey []byte        `json:"encrypted_key"`
}

// KeyInfo is the public metadata of a stored key.
type KeyInfo struct {
	Name        string        `json:"name"`
	CreatedAt   time.Time     `json:"created_at"`
	Network     types.Network `json:"network"`
	Fingerprint types.Hash    `json:"fingerprint"`
	Birthday    uint64        `json:"birthday"`
}

// Keystore keeps password-encrypted viewing keys on disk so the CLI does not
// need the key on the command line.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) keyPath(name string) (string, error) {
	if !keyNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrBadKeyName, name)
	}
	return filepath.Join(ks.path, name+keyFileExt), nil
}

// Import encrypts vk with password and stores it under name.
func (ks *Keystore) Import(name string, vk *keys.ViewingKey, birthday uint64, password []byte, params EncryptionParams) error {
	path, err := ks.keyPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %q", ErrKeyExists, name)
	}

	encrypted, err := Encrypt([]byte(vk.Encode()), password, params)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}

	kf := keyFile{
		Version:      1,
		CreatedAt:    time.Now().UTC(),
		Network:      vk.Network(),
		Fingerprint:  vk.Fingerprint(),
		Birthday:     birthday,
		EncryptedKey: encrypted,
	}
	return ks.writeFile(path, &kf)
}

// Load decrypts and parses the key stored under name.
func (ks *Keystore) Load(name string, password []byte) (*keys.ViewingKey, *KeyInfo, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, nil, err
	}
	plain, err := Decrypt(kf.EncryptedKey, password)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt key %q: %w", name, err)
	}
	vk, err := keys.Parse(string(plain))
	if err != nil {
		return nil, nil, err
	}
	if vk.Fingerprint() != kf.Fingerprint {
		return nil, nil, fmt.Errorf("key %q: fingerprint mismatch", name)
	}
	return vk, kf.info(name), nil
}

// Info returns the metadata of a stored key without decrypting it.
func (ks *Keystore) Info(name string) (*KeyInfo, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return kf.info(name), nil
}

// List returns the names of all stored keys.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == keyFileExt {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a stored key.
func (ks *Keystore) Delete(name string) error {
	path, err := ks.keyPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, name)
	}
	return os.Remove(path)
}

func (kf *keyFile) info(name string) *KeyInfo {
	return &KeyInfo{
		Name:        name,
		CreatedAt:   kf.CreatedAt,
		Network:     kf.Network,
		Fingerprint: kf.Fingerprint,
		Birthday:    kf.Birthday,
	}
}

func (ks *Keystore) read(name string) (*keyFile, error) {
	path, err := ks.keyPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	return &kf, nil
}

func (ks *Keystore) writeFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}
