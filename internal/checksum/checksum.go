// Package checksum derives the content digests used as the equality proxy
// for synced documents.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the lowercase hex SHA-256 digest of content.
func Sum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether a and b have the same digest.
func Equal(a, b string) bool {
	return Sum(a) == Sum(b)
}

// Matches reports whether content hashes to digest.
func Matches(content, digest string) bool {
	return Sum(content) == digest
}
