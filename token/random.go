package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultByteLength is the entropy used for codes, access and refresh tokens.
const DefaultByteLength = 32

// RandomToken returns byteLength cryptographically random bytes encoded as
// unpadded base64url.
func RandomToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("token: byte length must be positive, got %d", byteLength)
	}
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
