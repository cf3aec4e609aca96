// Package auth implements the shared-secret authorization rule for orders
// and trades: an entity with no stored hash is open to any caller, an entity
// with a stored hash requires the caller's secret to digest to the identical
// value.
package auth

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hasher digests a secret into its stored form. The digest algorithm sits
// behind this interface so it can be swapped without touching call sites.
type Hasher interface {
	Hash(secret string) string
}

// SHA3 is the default Hasher, producing hex-encoded SHA3-256 digests.
type SHA3 struct{}

// Hash returns the hex-encoded SHA3-256 digest of secret.
func (SHA3) Hash(secret string) string {
	sum := sha3.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashSecret digests a caller-supplied secret for storage. An empty secret
// means no restriction and is stored as an empty hash.
func HashSecret(h Hasher, secret string) string {
	if secret == "" {
		return ""
	}
	return h.Hash(secret)
}

// Verify reports whether a caller holding secret is authorized against
// storedHash. No stored hash means open access, including to callers with an
// empty secret. A non-empty stored hash never accepts an empty secret.
func Verify(h Hasher, storedHash, secret string) bool {
	if storedHash == "" {
		return true
	}
	if secret == "" {
		return false
	}
	return h.Hash(secret) == storedHash
}
