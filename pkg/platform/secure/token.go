// Package secure generates high-entropy tokens and compares secrets in constant time.
package secure

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes is the amount of randomness behind every session, CSRF, and
// verification token. Hex encoding doubles it to 64 characters.
const TokenBytes = 32

// RandomSource supplies cryptographic randomness. crypto/rand.Reader in production,
// a deterministic reader in tests.
type RandomSource = io.Reader

// DefaultRandom is the production random source.
var DefaultRandom RandomSource = rand.Reader

// Token reads TokenBytes from src and returns them hex-encoded.
func Token(src RandomSource) (string, error) {
	if src == nil {
		src = DefaultRandom
	}
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Equal compares two secrets without short-circuiting on the first differing byte.
// Empty values never match.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
