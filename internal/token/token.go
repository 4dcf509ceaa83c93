// Package token issues the random path segments that authorize a transfer.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinBytes is the smallest accepted entropy size (32 bits).
const MinBytes = 4

var ErrTokenLength = errors.New("token too short")

// New returns n random bytes encoded as lowercase hex.
func New(n int) (string, error) {
	if n < MinBytes {
		return "", fmt.Errorf("%w: %d bytes, need at least %d", ErrTokenLength, n, MinBytes)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Valid reports whether s can be embedded as a single URL path segment.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '~':
		default:
			return false
		}
	}
	return s != "." && s != ".."
}
