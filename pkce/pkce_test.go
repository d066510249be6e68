package pkce

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateVerifier(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{name: "minimum length", length: 43},
		{name: "default length", length: DefaultVerifierLength},
		{name: "maximum length", length: 128},
		{name: "too short", length: 42, wantErr: true},
		{name: "too long", length: 129, wantErr: true},
		{name: "zero", length: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := GenerateVerifier(tt.length)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidLength) {
					t.Fatalf("GenerateVerifier() error = %v, want ErrInvalidLength", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateVerifier() error = %v", err)
			}
			if len(v) != tt.length {
				t.Errorf("len(verifier) = %d, want %d", len(v), tt.length)
			}
			if err := ValidateVerifier(v); err != nil {
				t.Errorf("generated verifier failed validation: %v", err)
			}
		})
	}
}

func TestGenerateVerifier_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v, err := GenerateVerifier(MinLength)
		if err != nil {
			t.Fatalf("GenerateVerifier() error = %v", err)
		}
		if seen[v] {
			t.Fatalf("duplicate verifier generated: %s", v)
		}
		seen[v] = true
	}
}

func TestComputeChallenge(t *testing.T) {
	// RFC 7636 Appendix B
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const want = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	got, err := ComputeChallenge(verifier, MethodS256)
	if err != nil {
		t.Fatalf("ComputeChallenge() error = %v", err)
	}
	if got != want {
		t.Errorf("ComputeChallenge(S256) = %q, want %q", got, want)
	}

	plain, err := ComputeChallenge(verifier, MethodPlain)
	if err != nil {
		t.Fatalf("ComputeChallenge() error = %v", err)
	}
	if plain != verifier {
		t.Errorf("ComputeChallenge(plain) = %q, want verifier", plain)
	}

	if _, err := ComputeChallenge(verifier, "S512"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("ComputeChallenge(S512) error = %v, want ErrUnsupportedMethod", err)
	}
}

func TestVerifyChallenge_RoundTrip(t *testing.T) {
	for _, length := range []int{43, 64, 100, 128} {
		v, err := GenerateVerifier(length)
		if err != nil {
			t.Fatalf("GenerateVerifier() error = %v", err)
		}
		challenge, err := ComputeChallenge(v, MethodS256)
		if err != nil {
			t.Fatalf("ComputeChallenge() error = %v", err)
		}
		if !VerifyChallenge(v, challenge, MethodS256) {
			t.Fatalf("VerifyChallenge() = false for matching pair (length %d)", length)
		}

		// every single-character mutation must fail
		for i := 0; i < len(challenge); i++ {
			replacement := byte('A')
			if challenge[i] == 'A' {
				replacement = 'B'
			}
			mutated := challenge[:i] + string(replacement) + challenge[i+1:]
			if VerifyChallenge(v, mutated, MethodS256) {
				t.Fatalf("VerifyChallenge() = true for challenge mutated at %d", i)
			}
		}
	}
}

func TestVerifyChallenge_Rejects(t *testing.T) {
	good := strings.Repeat("a", 43)

	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    string
	}{
		{name: "plain mismatch", verifier: good, challenge: strings.Repeat("b", 43), method: MethodPlain},
		{name: "short verifier", verifier: "abc", challenge: "abc", method: MethodPlain},
		{name: "invalid characters", verifier: strings.Repeat("a", 42) + "!", challenge: strings.Repeat("a", 42) + "!", method: MethodPlain},
		{name: "unknown method", verifier: good, challenge: good, method: "S1"},
		{name: "empty method", verifier: good, challenge: good, method: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyChallenge(tt.verifier, tt.challenge, tt.method) {
				t.Errorf("VerifyChallenge() = true, want false")
			}
		})
	}

	if !VerifyChallenge(good, good, MethodPlain) {
		t.Errorf("VerifyChallenge(plain) = false for equal verifier and challenge")
	}
}

func TestValidateVerifier(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{name: "valid unreserved", value: strings.Repeat("aZ0-._~", 7)[:43]},
		{name: "too short", value: strings.Repeat("a", 42), wantErr: ErrInvalidLength},
		{name: "too long", value: strings.Repeat("a", 129), wantErr: ErrInvalidLength},
		{name: "space", value: strings.Repeat("a", 42) + " ", wantErr: ErrInvalidFormat},
		{name: "plus sign", value: strings.Repeat("a", 42) + "+", wantErr: ErrInvalidFormat},
		{name: "slash", value: strings.Repeat("a", 42) + "/", wantErr: ErrInvalidFormat},
		{name: "non ascii", value: strings.Repeat("a", 41) + "é", wantErr: ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVerifier(tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateVerifier() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateVerifier() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGeneratePair(t *testing.T) {
	p, err := GeneratePair(0)
	if err != nil {
		t.Fatalf("GeneratePair() error = %v", err)
	}
	if len(p.Verifier) != DefaultVerifierLength {
		t.Errorf("len(Verifier) = %d, want %d", len(p.Verifier), DefaultVerifierLength)
	}
	if p.Method != MethodS256 {
		t.Errorf("Method = %q, want S256", p.Method)
	}
	if err := ValidateChallenge(p.Challenge); err != nil {
		t.Errorf("ValidateChallenge() error = %v", err)
	}
	if !VerifyChallenge(p.Verifier, p.Challenge, p.Method) {
		t.Error("generated pair does not verify")
	}

	if _, err := GeneratePair(10); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("GeneratePair(10) error = %v, want ErrInvalidLength", err)
	}
}
