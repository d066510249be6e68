package token

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Supported HMAC algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"
)

// Verification failures. Callers use errors.Is to tell them apart.
var (
	ErrTokenExpired           = errors.New("token: expired")
	ErrTokenInvalidSignature  = errors.New("token: invalid signature")
	ErrTokenMalformed         = errors.New("token: malformed")
	ErrUnsupportedAlgorithm   = errors.New("token: unsupported signing algorithm")
	ErrMissingSigningSecret   = errors.New("token: signing secret is required")
	errReservedClaimOverwrite = errors.New("token: iat and exp are set by the signer")
)

// Claims is the JWT payload.
type Claims map[string]any

// Signer signs and verifies HMAC JWTs. It owns the iat and exp claims.
type Signer struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewSigner returns a Signer for secret and algorithm (HS256 when empty).
func NewSigner(secret, algorithm string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSigningSecret
	}
	if algorithm == "" {
		algorithm = AlgorithmHS256
	}
	method, err := signingMethod(algorithm)
	if err != nil {
		return nil, err
	}
	return &Signer{secret: []byte(secret), method: method, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Algorithm returns the JWS alg value.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Sign returns a compact JWT carrying claims plus iat and exp=iat+ttl.
func (s *Signer) Sign(claims Claims, ttl time.Duration) (string, error) {
	if _, ok := claims["iat"]; ok {
		return "", errReservedClaimOverwrite
	}
	if _, ok := claims["exp"]; ok {
		return "", errReservedClaimOverwrite
	}

	issuedAt := s.now()
	payload := jwt.MapClaims{}
	maps.Copy(payload, claims)
	payload["iat"] = jwt.NewNumericDate(issuedAt)
	payload["exp"] = jwt.NewNumericDate(issuedAt.Add(ttl))

	signed, err := jwt.NewWithClaims(s.method, payload).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: failed to sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the payload.
func (s *Signer) Verify(tokenString string) (Claims, error) {
	parsed, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrTokenInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return Claims(mc), nil
}

// SignJWT is a one-shot Sign with a throwaway Signer.
func SignJWT(claims Claims, secret, algorithm string, ttl time.Duration) (string, error) {
	s, err := NewSigner(secret, algorithm)
	if err != nil {
		return "", err
	}
	return s.Sign(claims, ttl)
}

// VerifyJWT is a one-shot Verify with a throwaway Signer.
func VerifyJWT(tokenString, secret, algorithm string) (Claims, error) {
	s, err := NewSigner(secret, algorithm)
	if err != nil {
		return nil, err
	}
	return s.Verify(tokenString)
}

// IsSupportedAlgorithm reports whether alg can be used by a Signer.
func IsSupportedAlgorithm(alg string) bool {
	_, err := signingMethod(alg)
	return err == nil
}

// LooksLikeJWT reports whether s has the three dot-separated segments of a
// compact JWS. It does not validate anything.
func LooksLikeJWT(s string) bool {
	dots := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			dots++
		}
	}
	return dots == 2
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case AlgorithmHS256:
		return jwt.SigningMethodHS256, nil
	case AlgorithmHS384:
		return jwt.SigningMethodHS384, nil
	case AlgorithmHS512:
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Int64Claim reads a numeric claim (JSON numbers decode as float64).
func (c Claims) Int64Claim(name string) (int64, bool) {
	switch v := c[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case *jwt.NumericDate:
		return v.Unix(), true
	}
	return 0, false
}

// StringClaim reads a string claim.
func (c Claims) StringClaim(name string) string {
	v, _ := c[name].(string)
	return v
}
