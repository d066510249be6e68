package security

import (
	"errors"
	"testing"
)

func TestClientSecret(t *testing.T) {
	hash, err := HashClientSecret("s3cr3t")
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	if hash == "s3cr3t" {
		t.Fatal("hash equals plaintext")
	}

	if err := VerifyClientSecret(hash, "s3cr3t"); err != nil {
		t.Errorf("VerifyClientSecret() error = %v", err)
	}
	if err := VerifyClientSecret(hash, "wrong"); !errors.Is(err, ErrInvalidClientSecret) {
		t.Errorf("VerifyClientSecret(wrong) error = %v", err)
	}
	if err := VerifyClientSecret("", "test"); !errors.Is(err, ErrInvalidClientSecret) {
		t.Errorf("VerifyClientSecret with empty hash error = %v, want failure even for the dummy password", err)
	}
	if _, err := HashClientSecret(""); err == nil {
		t.Error("HashClientSecret(\"\") expected error")
	}
}
