// Package crypto implements Argon2id hashing and verification of the operator key.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the salt size produced by NewKeyHash.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashKey returns the Argon2id hash of key using the provided salt.
func HashKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyKey verifies key against the expected Argon2id hash and salt.
func VerifyKey(key, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashKey(key, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// KeyHash is a salted operator key hash as stored in configuration.
type KeyHash struct {
	Salt []byte
	Hash []byte
}

// NewKeyHash hashes key under a fresh random salt.
func NewKeyHash(key string) (KeyHash, error) {
	salt, err := RandBytes(SaltLen)
	if err != nil {
		return KeyHash{}, err
	}
	return KeyHash{Salt: salt, Hash: HashKey([]byte(key), salt)}, nil
}

// ParseKeyHash decodes the hex salt and hash from configuration.
func ParseKeyHash(saltHex, hashHex string) (KeyHash, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return KeyHash{}, fmt.Errorf("decode key salt: %w", err)
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return KeyHash{}, fmt.Errorf("decode key hash: %w", err)
	}
	if len(salt) == 0 || len(hash) != int(argonKeyLen) {
		return KeyHash{}, fmt.Errorf("key hash: want non-empty salt and %d-byte hash", argonKeyLen)
	}
	return KeyHash{Salt: salt, Hash: hash}, nil
}

// Verify reports whether key matches.
func (k KeyHash) Verify(key string) bool {
	return VerifyKey([]byte(key), k.Salt, k.Hash)
}

// SaltHex returns the salt in configuration form.
func (k KeyHash) SaltHex() string { return hex.EncodeToString(k.Salt) }

// HashHex returns the hash in configuration form.
func (k KeyHash) HashHex() string { return hex.EncodeToString(k.Hash) }
