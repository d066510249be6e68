package pkce

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/oauth2"
)

// PKCE parameters (RFC 7636 Section 4.1)
const (
	MinLength = 43
	MaxLength = 128

	// DefaultVerifierLength is used by GeneratePair when no length is given.
	DefaultVerifierLength = 64

	MethodS256  = "S256"
	MethodPlain = "plain"
)

// unreserved is the RFC 3986 unreserved character set allowed in verifiers.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

var (
	// ErrInvalidLength is returned when a verifier length is outside [43,128].
	ErrInvalidLength = errors.New("pkce: length must be between 43 and 128")

	// ErrUnsupportedMethod is returned for challenge methods other than S256 and plain.
	ErrUnsupportedMethod = errors.New("pkce: unsupported code challenge method")

	// ErrInvalidFormat is returned when a verifier or challenge contains
	// characters outside the unreserved alphabet.
	ErrInvalidFormat = errors.New("pkce: invalid characters")
)

// Pair is a verifier and its derived challenge.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// GenerateVerifier returns a random verifier of the given length drawn from
// the unreserved alphabet.
func GenerateVerifier(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}

	alphabetSize := big.NewInt(int64(len(unreserved)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("pkce: failed to read random bytes: %w", err)
		}
		buf[i] = unreserved[n.Int64()]
	}
	return string(buf), nil
}

// ComputeChallenge derives the code challenge for verifier with method.
func ComputeChallenge(verifier, method string) (string, error) {
	switch method {
	case MethodS256:
		return oauth2.S256ChallengeFromVerifier(verifier), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// VerifyChallenge reports whether verifier matches challenge under method.
// Malformed verifiers and unknown methods never verify.
func VerifyChallenge(verifier, challenge, method string) bool {
	if ValidateVerifier(verifier) != nil {
		return false
	}
	computed, err := ComputeChallenge(verifier, method)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GeneratePair creates a fresh verifier of length (DefaultVerifierLength
// when zero) and its S256 challenge.
func GeneratePair(length int) (*Pair, error) {
	if length == 0 {
		length = DefaultVerifierLength
	}
	verifier, err := GenerateVerifier(length)
	if err != nil {
		return nil, err
	}
	challenge, err := ComputeChallenge(verifier, MethodS256)
	if err != nil {
		return nil, err
	}
	return &Pair{Verifier: verifier, Challenge: challenge, Method: MethodS256}, nil
}

// IsSupportedMethod reports whether method is S256 or plain.
func IsSupportedMethod(method string) bool {
	return method == MethodS256 || method == MethodPlain
}
