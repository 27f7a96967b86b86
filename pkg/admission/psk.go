package admission

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// PSKPrefix marks an encoded pre-shared key.
	PSKPrefix = "cmpsk_"

	// KeyLength is the pre-shared key length in bytes.
	KeyLength = 32
)

// Argon2id parameters for PassphraseKey.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

var (
	// ErrInvalidKey is returned for keys that do not decode to KeyLength bytes.
	ErrInvalidKey = errors.New("admission: invalid pre-shared key")
)

// Key is a mesh pre-shared key.
type Key []byte

// GenerateKey returns a new random key.
func GenerateKey() (Key, error) {
	k := make([]byte, KeyLength)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("admission: generate key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a "cmpsk_" string.
func ParseKey(s string) (Key, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(s), PSKPrefix)
	if !ok {
		return nil, ErrInvalidKey
	}
	k, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(k) != KeyLength {
		return nil, ErrInvalidKey
	}
	return k, nil
}

// PassphraseKey stretches a passphrase into a key with Argon2id. The mesh
// name is the salt, so every participant of one mesh derives the same key.
func PassphraseKey(passphrase, mesh string) (Key, error) {
	if passphrase == "" {
		return nil, ErrInvalidKey
	}
	salt := sha256.Sum256([]byte("constellation/" + mesh))
	return argon2.IDKey([]byte(passphrase), salt[:16], argon2Time, argon2Memory, argon2Threads, KeyLength), nil
}

// String returns the "cmpsk_" encoding.
func (k Key) String() string {
	return PSKPrefix + base64.RawURLEncoding.EncodeToString(k)
}

// Subkey derives a purpose-specific key with HKDF-SHA256.
func (k Key) Subkey(info string, length int) ([]byte, error) {
	if len(k) != KeyLength {
		return nil, ErrInvalidKey
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("admission: derive subkey: %w", err)
	}
	return out, nil
}

// GossipKey derives the 32-byte memberlist encryption key.
func (k Key) GossipKey() ([]byte, error) {
	return k.Subkey("constellation gossip v1", 32)
}
