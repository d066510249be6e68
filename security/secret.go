package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a client has no stored hash so the
// failure path costs the same bcrypt work as a real comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ErrInvalidClientSecret is returned when a client secret does not verify.
var ErrInvalidClientSecret = errors.New("invalid client credentials")

// HashClientSecret returns the bcrypt hash of secret.
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("client secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// VerifyClientSecret compares secret with hash. An empty hash (unknown
// client, or a confidential client without a secret) always fails, after
// the same amount of work as a real comparison.
func VerifyClientSecret(hash, secret string) error {
	compareTo := hash
	if compareTo == "" {
		compareTo = dummyHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(compareTo), []byte(secret))
	if hash == "" || err != nil {
		return ErrInvalidClientSecret
	}
	return nil
}
