// Package identity derives anonymized, non-reversible tokens from platform
// user ids. Ledgers key on these tokens, never on raw ids; rotating the key
// makes every prior token permanently unresolvable.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the length of generated key material.
const KeySize = 32

type Hasher struct {
	mu  sync.RWMutex
	key []byte
}

// NewHasher creates a keyed hasher. Key length must fit blake2b (1..64 bytes).
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) == 0 || len(key) > 64 {
		return nil, fmt.Errorf("identity key must be 1..64 bytes, got %d", len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Hasher{key: k}, nil
}

// GenerateKey returns fresh random key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return key, nil
}

// ParseKey decodes operator-supplied hex key material.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode identity key: %w", err)
	}
	if len(key) == 0 || len(key) > 64 {
		return nil, fmt.Errorf("identity key must be 1..64 bytes, got %d", len(key))
	}
	return key, nil
}

// Hash derives the anonymized token for a raw user id. Deterministic for a
// fixed key; not invertible without it.
func (h *Hasher) Hash(rawID int64) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is validated at construction and rotation
		panic(fmt.Sprintf("identity: blake2b init: %v", err))
	}
	mac.Write([]byte(strconv.FormatInt(rawID, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Rotate swaps the key material. The caller is responsible for purging
// ledgers keyed on tokens from the old key.
func (h *Hasher) Rotate(key []byte) error {
	if len(key) == 0 || len(key) > 64 {
		return fmt.Errorf("identity key must be 1..64 bytes, got %d", len(key))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = make([]byte, len(key))
	copy(h.key, key)
	return nil
}
