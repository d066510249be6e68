package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mcpresso/mcpresso-oauth/internal/testutil"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/storage/storagetest"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("mcptest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	// Clean up test keys before and after test
	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	if err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestKeyHelpers(t *testing.T) {
	s := &Store{prefix: "p:"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"client", s.clientKey("c1"), "p:client:c1"},
		{"user", s.userKey("u1"), "p:user:u1"},
		{"username", s.usernameKey("alice"), "p:username:alice"},
		{"code", s.codeKey("abc"), "p:code:abc"},
		{"access", s.accessTokenKey("at"), "p:access:at"},
		{"refresh", s.refreshTokenKey("rt"), "p:refresh:rt"},
		{"link", s.refreshByAccessKey("at"), "p:access_refresh:at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestRecordTTL(t *testing.T) {
	s := &Store{retention: time.Hour}

	if got := s.recordTTL(time.Now().Add(-time.Minute)); got != time.Hour {
		t.Errorf("recordTTL(past) = %v, want %v", got, time.Hour)
	}
	got := s.recordTTL(time.Now().Add(10 * time.Minute))
	if got <= time.Hour || got > time.Hour+10*time.Minute {
		t.Errorf("recordTTL(future) = %v, want in (1h, 1h10m]", got)
	}
}

// ============================================================
// Store Tests
// ============================================================

func TestConformance(t *testing.T) {
	storagetest.TestStore(t, func(t *testing.T) storage.Store {
		return testStore(t)
	})
}

func TestStore_RejectsOversizedInput(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := testutil.NewPublicClient(strings.Repeat("x", MaxIDLength+1))
	if err := s.CreateClient(ctx, client); !errors.Is(err, errInputTooLarge) {
		t.Errorf("CreateClient() error = %v, want errInputTooLarge", err)
	}

	code := &storage.AuthorizationCode{
		Code:      strings.Repeat("c", MaxTokenLength+1),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := s.CreateAuthorizationCode(ctx, code); !errors.Is(err, errInputTooLarge) {
		t.Errorf("CreateAuthorizationCode() error = %v, want errInputTooLarge", err)
	}
}

func TestStore_ExpiredRecordsRemainReadable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	code := &storage.AuthorizationCode{
		Code:      "expired-code",
		ClientID:  "c1",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	}
	if err := s.CreateAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}

	ttl, err := s.client.Do(ctx, s.client.B().Pttl().Key(s.codeKey(code.Code)).Build()).AsInt64()
	if err != nil {
		t.Fatalf("PTTL error = %v", err)
	}
	if ttl <= 0 || time.Duration(ttl)*time.Millisecond > DefaultExpiredRetention {
		t.Errorf("PTTL = %dms, want within retention window", ttl)
	}

	if _, err := s.GetAuthorizationCode(ctx, code.Code); err != nil {
		t.Errorf("GetAuthorizationCode() error = %v, want expired record", err)
	}
}

func TestStore_ConsumeRefreshTokenUnlinks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, tok := range []string{"rt-a", "rt-b"} {
		err := s.CreateRefreshToken(ctx, &storage.RefreshToken{
			Token:         tok,
			AccessTokenID: "at-1",
			ClientID:      "c1",
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateRefreshToken() error = %v", err)
		}
	}

	if _, err := s.ConsumeRefreshToken(ctx, "rt-a"); err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}

	members, err := s.members(ctx, s.refreshByAccessKey("at-1"))
	if err != nil {
		t.Fatalf("members() error = %v", err)
	}
	if len(members) != 1 || members[0] != "rt-b" {
		t.Errorf("link set = %v, want [rt-b]", members)
	}

	n, err := s.DeleteRefreshTokensByAccessToken(ctx, "at-1")
	if err != nil {
		t.Fatalf("DeleteRefreshTokensByAccessToken() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteRefreshTokensByAccessToken() = %d, want 1", n)
	}
}
