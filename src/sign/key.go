package sign

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

// Key is a 32 byte shared signing secret.
type Key = frame.SecretKey

// ParseKey decodes a 64 character hex key, with or without a 0x prefix.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("signing key: %v", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("signing key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromPassphrase derives a key as SHA-256 of the passphrase, the way
// ground station software usually does.
func KeyFromPassphrase(passphrase string) Key {
	return Key(sha256.Sum256([]byte(passphrase)))
}

// GenerateKey ...
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// EncodeKey ...
func EncodeKey(k Key) string {
	return hex.EncodeToString(k[:])
}
