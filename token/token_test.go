package token

import (
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestRandomToken(t *testing.T) {
	tok, err := RandomToken(DefaultByteLength)
	if err != nil {
		t.Fatalf("RandomToken() error = %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != DefaultByteLength {
		t.Errorf("decoded length = %d, want %d", len(raw), DefaultByteLength)
	}

	other, _ := RandomToken(DefaultByteLength)
	if other == tok {
		t.Error("RandomToken() returned the same value twice")
	}

	if _, err := RandomToken(0); err == nil {
		t.Error("RandomToken(0) expected error")
	}
}

func TestSigner_SignVerify(t *testing.T) {
	for _, alg := range []string{AlgorithmHS256, AlgorithmHS384, AlgorithmHS512} {
		t.Run(alg, func(t *testing.T) {
			s, err := NewSigner(testSecret, alg)
			if err != nil {
				t.Fatalf("NewSigner() error = %v", err)
			}

			signed, err := s.Sign(Claims{"sub": "user-1", "aud": "https://api.example.com"}, time.Hour)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !LooksLikeJWT(signed) {
				t.Fatalf("Sign() output is not a compact JWS: %q", signed)
			}

			claims, err := s.Verify(signed)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got := claims.StringClaim("sub"); got != "user-1" {
				t.Errorf("sub = %q, want user-1", got)
			}
			iat, ok := claims.Int64Claim("iat")
			if !ok {
				t.Fatal("iat claim missing")
			}
			exp, ok := claims.Int64Claim("exp")
			if !ok {
				t.Fatal("exp claim missing")
			}
			if exp-iat != 3600 {
				t.Errorf("exp - iat = %d, want 3600", exp-iat)
			}
		})
	}
}

func TestSigner_ReservedClaims(t *testing.T) {
	s, _ := NewSigner(testSecret, "")
	if _, err := s.Sign(Claims{"exp": 1}, time.Minute); err == nil {
		t.Error("Sign() with caller exp expected error")
	}
	if _, err := s.Sign(Claims{"iat": 1}, time.Minute); err == nil {
		t.Error("Sign() with caller iat expected error")
	}
}

func TestSigner_VerifyErrors(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer, _ := NewSigner(testSecret, AlgorithmHS256)
	issuer.WithClock(func() time.Time { return past })
	expired, err := issuer.Sign(Claims{"sub": "u"}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	valid, _ := NewSigner(testSecret, AlgorithmHS256)
	fresh, _ := valid.Sign(Claims{"sub": "u"}, time.Hour)

	otherKey, _ := NewSigner("another-secret-another-secret-xx", AlgorithmHS256)
	otherAlg, _ := NewSigner(testSecret, AlgorithmHS512)
	otherAlgToken, _ := otherAlg.Sign(Claims{"sub": "u"}, time.Hour)

	tests := []struct {
		name    string
		verify  *Signer
		token   string
		wantErr error
	}{
		{name: "expired", verify: valid, token: expired, wantErr: ErrTokenExpired},
		{name: "wrong key", verify: otherKey, token: fresh, wantErr: ErrTokenInvalidSignature},
		{name: "algorithm mismatch", verify: valid, token: otherAlgToken, wantErr: ErrTokenInvalidSignature},
		{name: "garbage", verify: valid, token: "not-a-jwt", wantErr: ErrTokenMalformed},
		{name: "tampered payload", verify: valid, token: tamper(fresh), wantErr: ErrTokenInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verify.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// tamper swaps the payload for a different, well-formed one.
func tamper(signed string) string {
	parts := strings.Split(signed, ".")
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","exp":9999999999}`))
	return strings.Join(parts, ".")
}

func TestNewSigner_Errors(t *testing.T) {
	if _, err := NewSigner("", AlgorithmHS256); !errors.Is(err, ErrMissingSigningSecret) {
		t.Errorf("NewSigner(empty) error = %v", err)
	}
	if _, err := NewSigner(testSecret, "RS256"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("NewSigner(RS256) error = %v", err)
	}
	if IsSupportedAlgorithm("none") {
		t.Error("IsSupportedAlgorithm(none) = true")
	}
}

func TestSignJWT_VerifyJWT(t *testing.T) {
	signed, err := SignJWT(Claims{"client_id": "c1"}, testSecret, AlgorithmHS256, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT() error = %v", err)
	}
	claims, err := VerifyJWT(signed, testSecret, AlgorithmHS256)
	if err != nil {
		t.Fatalf("VerifyJWT() error = %v", err)
	}
	if claims.StringClaim("client_id") != "c1" {
		t.Errorf("client_id = %q", claims.StringClaim("client_id"))
	}
}

func TestScopeHelpers(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		allowed   string
		want      []string
	}{
		{name: "subset", requested: "read", allowed: "read write", want: []string{"read"}},
		{name: "partial overlap", requested: "read admin", allowed: "read write", want: []string{"read"}},
		{name: "no overlap", requested: "admin", allowed: "read write", want: nil},
		{name: "duplicates collapse", requested: "read read write", allowed: "read write", want: []string{"read", "write"}},
		{name: "extra spaces", requested: " read  write ", allowed: "write read", want: []string{"read", "write"}},
		{name: "empty request", requested: "", allowed: "read", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScopeIntersection(SplitScope(tt.requested), SplitScope(tt.allowed))
			if !slices.Equal(got, tt.want) {
				t.Errorf("ScopeIntersection() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := JoinScope([]string{"read", "write"}); got != "read write" {
		t.Errorf("JoinScope() = %q", got)
	}
	if !IsScopeSubset([]string{"read"}, []string{"read", "write"}) {
		t.Error("IsScopeSubset(read) = false")
	}
	if IsScopeSubset([]string{"admin"}, []string{"read"}) {
		t.Error("IsScopeSubset(admin) = true")
	}
}
