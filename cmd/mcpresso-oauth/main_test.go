package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcpresso/mcpresso-oauth/pkce"
	"github.com/mcpresso/mcpresso-oauth/server"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/storage/sqlstore"
)

var testSecret = strings.Repeat("s", server.MinJWTSecretLength)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPKCEGenerate(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantLength int
		wantMethod string
	}{
		{name: "default", wantLength: pkce.MinLength, wantMethod: pkce.MethodS256},
		{name: "length", args: []string{"--length", "96"}, wantLength: 96, wantMethod: pkce.MethodS256},
		{name: "plain", args: []string{"--method", "plain"}, wantLength: pkce.MinLength, wantMethod: pkce.MethodPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, append([]string{"--json", "pkce", "generate"}, tt.args...)...)
			if err != nil {
				t.Fatalf("pkce generate error = %v", err)
			}
			var pair pkcePairOutput
			if err := json.Unmarshal([]byte(out), &pair); err != nil {
				t.Fatalf("json.Unmarshal() error = %v (output %q)", err, out)
			}
			if len(pair.Verifier) != tt.wantLength || pair.Method != tt.wantMethod {
				t.Errorf("verifier length %d method %q, want %d %q", len(pair.Verifier), pair.Method, tt.wantLength, tt.wantMethod)
			}
			if !pkce.VerifyChallenge(pair.Verifier, pair.Challenge, pair.Method) {
				t.Error("generated challenge does not verify")
			}

			if _, err := runCommand(t, "pkce", "verify", "--method", pair.Method, pair.Verifier, pair.Challenge); err != nil {
				t.Errorf("pkce verify error = %v", err)
			}
		})
	}
}

func TestPKCE_Errors(t *testing.T) {
	pair, err := pkce.GeneratePair(0)
	if err != nil {
		t.Fatalf("GeneratePair() error = %v", err)
	}

	for _, args := range [][]string{
		{"pkce", "generate", "--length", "10"},
		{"pkce", "generate", "--method", "S512"},
		{"pkce", "verify", pair.Verifier, pair.Challenge + "x"},
		{"pkce", "verify", "short", pair.Challenge},
	} {
		if _, err := runCommand(t, args...); err == nil {
			t.Errorf("%v error = nil", args)
		}
	}
}

func TestTokenSignVerify(t *testing.T) {
	signed, err := runCommand(t, "token", "sign", "--secret", testSecret,
		"--sub", "user-1", "--aud", "https://api.example.com", "--ttl", "5m", "--claim", "tenant=acme")
	if err != nil {
		t.Fatalf("token sign error = %v", err)
	}
	signed = strings.TrimSpace(signed)

	out, err := runCommand(t, "--json", "token", "verify", "--secret", testSecret, signed)
	if err != nil {
		t.Fatalf("token verify error = %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal([]byte(out), &claims); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if claims["sub"] != "user-1" || claims["aud"] != "https://api.example.com" || claims["tenant"] != "acme" {
		t.Errorf("claims = %v", claims)
	}
	if claims["jti"] == "" || claims["iss"] != nil {
		t.Errorf("jti %v iss %v", claims["jti"], claims["iss"])
	}

	// The secret falls back to the environment.
	t.Setenv(server.EnvJWTSecret, testSecret)
	if _, err := runCommand(t, "token", "verify", signed); err != nil {
		t.Errorf("token verify with env secret error = %v", err)
	}

	if _, err := runCommand(t, "token", "verify", "--secret", strings.Repeat("x", 32), signed); err == nil {
		t.Error("token verify with wrong secret error = nil")
	}
	if _, err := runCommand(t, "token", "verify", "not-a-jwt"); err == nil {
		t.Error("token verify of opaque token error = nil")
	}
	if _, err := runCommand(t, "token", "sign", "--claim", "novalue"); err == nil {
		t.Error("token sign with malformed claim error = nil")
	}

	t.Setenv(server.EnvJWTSecret, "")
	if _, err := runCommand(t, "token", "sign"); err == nil {
		t.Error("token sign without secret error = nil")
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, valid, "issuer: https://auth.example.com\njwt_secret: "+testSecret+"\n")
	writeFile(t, invalid, "issuer: http://auth.example.com\n")

	out, err := runCommand(t, "config", "validate", valid)
	if err != nil {
		t.Fatalf("config validate error = %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("config validate output = %q", out)
	}

	if _, err := runCommand(t, "config", "validate", invalid); err == nil {
		t.Error("config validate of http issuer error = nil")
	}

	out, err = runCommand(t, "config", "show", valid)
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(out, testSecret) || !strings.Contains(out, redacted) {
		t.Errorf("config show did not redact the secret:\n%s", out)
	}
	if !strings.Contains(out, "access_token_lifetime: 3600") {
		t.Errorf("config show missing defaults:\n%s", out)
	}
}

func TestCleanupCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "oauth.db")
	seedExpiredToken(t, dsn)

	out, err := runCommand(t, "--json", "cleanup", "--driver", "sqlite", "--dsn", dsn, "--dry-run")
	if err != nil {
		t.Fatalf("cleanup --dry-run error = %v", err)
	}
	var report cleanupOutput
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if report.Removed != nil || report.Stats.AccessTokens != 1 {
		t.Fatalf("dry run report = %s", out)
	}

	out, err = runCommand(t, "--json", "cleanup", "--driver", "sqlite", "--dsn", dsn)
	if err != nil {
		t.Fatalf("cleanup error = %v", err)
	}
	report = cleanupOutput{}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if report.Removed == nil || report.Removed.AccessTokens != 1 || report.Stats.AccessTokens != 0 {
		t.Errorf("cleanup report = %s", out)
	}

	if _, err := runCommand(t, "cleanup", "--driver", "memory"); err != nil {
		t.Errorf("cleanup --driver memory error = %v", err)
	}
	if _, err := runCommand(t, "cleanup", "--driver", "mysql"); err == nil {
		t.Error("cleanup with unknown driver error = nil")
	}
	if _, err := runCommand(t, "cleanup", "--driver", "sqlite"); err == nil {
		t.Error("cleanup without dsn error = nil")
	}
	if _, err := runCommand(t, "--log-level", "loud", "cleanup", "--driver", "memory"); err == nil {
		t.Error("cleanup with bad log level error = nil")
	}
}

func seedExpiredToken(t *testing.T, dsn string) {
	t.Helper()

	store, err := sqlstore.Open(sqlstore.DriverSQLite, dsn, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	past := time.Now().Add(-time.Hour)
	if err := store.CreateAccessToken(context.Background(), &storage.AccessToken{
		Token:     "expired-token",
		ClientID:  "app",
		Scope:     "read",
		CreatedAt: past.Add(-time.Hour),
		ExpiresAt: past,
	}); err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}
