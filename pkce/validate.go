package pkce

import "fmt"

// ValidateVerifier checks verifier length and alphabet before any hashing.
func ValidateVerifier(verifier string) error {
	return validateFormat(verifier)
}

// ValidateChallenge checks challenge length and alphabet. A base64url S256
// challenge is 43 characters and always passes.
func ValidateChallenge(challenge string) error {
	return validateFormat(challenge)
}

func validateFormat(value string) error {
	if len(value) < MinLength || len(value) > MaxLength {
		return fmt.Errorf("%w: got %d", ErrInvalidLength, len(value))
	}
	for i := 0; i < len(value); i++ {
		if !isUnreserved(value[i]) {
			return fmt.Errorf("%w at position %d", ErrInvalidFormat, i)
		}
	}
	return nil
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
