package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/mcpresso/mcpresso-oauth/storage"
)

// Factory returns a new, empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) storage.Store

// cmpOpts tolerates backends that round timestamps or return empty
// collections as nil.
var cmpOpts = []cmp.Option{
	cmpopts.EquateApproxTime(time.Second),
	cmpopts.EquateEmpty(),
}

// TestStore runs the full conformance suite against stores built by newStore.
func TestStore(t *testing.T, newStore Factory) {
	t.Run("Clients", func(t *testing.T) { testClients(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("AuthorizationCodes", func(t *testing.T) { testAuthorizationCodes(t, newStore(t)) })
	t.Run("ConcurrentCodeConsume", func(t *testing.T) { testConcurrentCodeConsume(t, newStore(t)) })
	t.Run("AccessTokens", func(t *testing.T) { testAccessTokens(t, newStore(t)) })
	t.Run("RefreshTokens", func(t *testing.T) { testRefreshTokens(t, newStore(t)) })
	t.Run("ConcurrentRefreshConsume", func(t *testing.T) { testConcurrentRefreshConsume(t, newStore(t)) })
	t.Run("Cleanup", func(t *testing.T) { testCleanup(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func testClients(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()

	client := &storage.Client{
		ID:           "client-a",
		SecretHash:   "$2a$10$abcdefghijklmnopqrstuv",
		Name:         "Client A",
		Type:         storage.ClientTypeConfidential,
		RedirectURIs: []string{"https://a.example.com/cb", "http://localhost:8080/cb"},
		Scopes:       []string{"read", "write"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	if err := s.CreateClient(ctx, client); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("CreateClient() duplicate error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if diff := cmp.Diff(client, got, cmpOpts...); diff != "" {
		t.Errorf("GetClient() mismatch (-want +got):\n%s", diff)
	}

	// Mutating the returned record must not affect the stored one.
	got.RedirectURIs[0] = "https://evil.example.com"
	again, err := s.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if again.RedirectURIs[0] != "https://a.example.com/cb" {
		t.Errorf("stored client was mutated through returned pointer: %v", again.RedirectURIs)
	}

	if _, err := s.GetClient(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrNotFound", err)
	}

	updated := *client
	updated.Name = "Client A v2"
	if err := s.UpdateClient(ctx, &updated); err != nil {
		t.Fatalf("UpdateClient() error = %v", err)
	}
	got, err = s.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Name != "Client A v2" {
		t.Errorf("Name = %q, want %q", got.Name, "Client A v2")
	}

	missing := *client
	missing.ID = "missing"
	if err := s.UpdateClient(ctx, &missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateClient(missing) error = %v, want ErrNotFound", err)
	}

	second := *client
	second.ID = "client-b"
	second.Type = storage.ClientTypePublic
	second.SecretHash = ""
	if err := s.CreateClient(ctx, &second); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	list, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	var ids []string
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"client-a", "client-b"}, ids, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("ListClients() ids mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteClient(ctx, client.ID); err != nil {
		t.Fatalf("DeleteClient() error = %v", err)
	}
	if _, err := s.GetClient(ctx, client.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteClient(ctx, client.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteClient() twice error = %v, want ErrNotFound", err)
	}
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()

	user := &storage.User{
		ID:        "user-1",
		Username:  "alice",
		Email:     "alice@example.com",
		Scopes:    []string{"read", "profile"},
		Profile:   map[string]string{"name": "Alice"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreateUser(ctx, user); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("CreateUser() duplicate error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if diff := cmp.Diff(user, got, cmpOpts...); diff != "" {
		t.Errorf("GetUser() mismatch (-want +got):\n%s", diff)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("GetUserByUsername() ID = %q, want %q", byName.ID, user.ID)
	}
	if _, err := s.GetUserByUsername(ctx, "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUserByUsername(bob) error = %v, want ErrNotFound", err)
	}

	renamed := *user
	renamed.Username = "alice2"
	if err := s.UpdateUser(ctx, &renamed); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if _, err := s.GetUserByUsername(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUserByUsername(old name) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByUsername(ctx, "alice2"); err != nil {
		t.Errorf("GetUserByUsername(new name) error = %v", err)
	}

	list, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListUsers() len = %d, want 1", len(list))
	}

	if err := s.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, err := s.GetUser(ctx, user.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUser() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteUser(ctx, user.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteUser() twice error = %v, want ErrNotFound", err)
	}
}

func newCode(code string, now time.Time, ttl time.Duration) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            "client-a",
		UserID:              "user-1",
		RedirectURI:         "https://a.example.com/cb",
		Scope:               "read write",
		Resource:            "https://api.example.com",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}
}

func testAuthorizationCodes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()

	code := newCode("code-1", now, 10*time.Minute)
	if err := s.CreateAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}

	got, err := s.GetAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if diff := cmp.Diff(code, got, cmpOpts...); diff != "" {
		t.Errorf("GetAuthorizationCode() mismatch (-want +got):\n%s", diff)
	}

	consumed, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if diff := cmp.Diff(code, consumed, cmpOpts...); diff != "" {
		t.Errorf("ConsumeAuthorizationCode() mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ConsumeAuthorizationCode() second call error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAuthorizationCode() after consume error = %v, want ErrNotFound", err)
	}

	// Expired codes are still returned; the caller decides.
	expired := newCode("code-expired", now.Add(-time.Hour), time.Minute)
	if err := s.CreateAuthorizationCode(ctx, expired); err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}
	got, err = s.GetAuthorizationCode(ctx, expired.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode(expired) error = %v", err)
	}
	if !got.IsExpired(now) {
		t.Errorf("IsExpired() = false for code expiring at %v", got.ExpiresAt)
	}

	if err := s.DeleteAuthorizationCode(ctx, expired.Code); err != nil {
		t.Fatalf("DeleteAuthorizationCode() error = %v", err)
	}
	if err := s.DeleteAuthorizationCode(ctx, expired.Code); err != nil {
		t.Errorf("DeleteAuthorizationCode() of absent code error = %v, want nil", err)
	}
}

func testConcurrentCodeConsume(t *testing.T, s storage.Store) {
	ctx := context.Background()
	code := newCode("code-race", baseTime(), 10*time.Minute)
	if err := s.CreateAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, storage.ErrNotFound):
				failures.Add(1)
			default:
				t.Errorf("ConsumeAuthorizationCode() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", got)
	}
	if got := failures.Load(); got != workers-1 {
		t.Errorf("not-found consumes = %d, want %d", got, workers-1)
	}
}

func newAccessToken(tok string, now time.Time, ttl time.Duration) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     tok,
		ClientID:  "client-a",
		UserID:    "user-1",
		Scope:     "read",
		Audience:  "https://api.example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func newRefreshToken(tok, accessToken string, now time.Time, ttl time.Duration) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:         tok,
		AccessTokenID: accessToken,
		ClientID:      "client-a",
		UserID:        "user-1",
		Scope:         "read",
		Audience:      "https://api.example.com",
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

func testAccessTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()

	at := newAccessToken("at-1", now, time.Hour)
	if err := s.CreateAccessToken(ctx, at); err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
	if err := s.CreateAccessToken(ctx, at); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("CreateAccessToken() duplicate error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetAccessToken(ctx, at.Token)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if diff := cmp.Diff(at, got, cmpOpts...); diff != "" {
		t.Errorf("GetAccessToken() mismatch (-want +got):\n%s", diff)
	}

	// client_credentials tokens have no user
	cc := newAccessToken("at-cc", now, time.Hour)
	cc.UserID = ""
	if err := s.CreateAccessToken(ctx, cc); err != nil {
		t.Fatalf("CreateAccessToken(no user) error = %v", err)
	}
	got, err = s.GetAccessToken(ctx, cc.Token)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got.UserID != "" {
		t.Errorf("UserID = %q, want empty", got.UserID)
	}

	if err := s.DeleteAccessToken(ctx, at.Token); err != nil {
		t.Fatalf("DeleteAccessToken() error = %v", err)
	}
	if _, err := s.GetAccessToken(ctx, at.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAccessToken() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteAccessToken(ctx, at.Token); err != nil {
		t.Errorf("DeleteAccessToken() of absent token error = %v, want nil", err)
	}
}

func testRefreshTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()

	rt := newRefreshToken("rt-1", "at-1", now, time.Hour)
	if err := s.CreateRefreshToken(ctx, rt); err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	got, err := s.GetRefreshToken(ctx, rt.Token)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if diff := cmp.Diff(rt, got, cmpOpts...); diff != "" {
		t.Errorf("GetRefreshToken() mismatch (-want +got):\n%s", diff)
	}

	consumed, err := s.ConsumeRefreshToken(ctx, rt.Token)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	if consumed.AccessTokenID != "at-1" {
		t.Errorf("AccessTokenID = %q, want %q", consumed.AccessTokenID, "at-1")
	}
	if _, err := s.ConsumeRefreshToken(ctx, rt.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ConsumeRefreshToken() second call error = %v, want ErrNotFound", err)
	}

	// Cascade by access token
	for i := 0; i < 3; i++ {
		tok := newRefreshToken(fmt.Sprintf("rt-cascade-%d", i), "at-2", now, time.Hour)
		if err := s.CreateRefreshToken(ctx, tok); err != nil {
			t.Fatalf("CreateRefreshToken() error = %v", err)
		}
	}
	other := newRefreshToken("rt-other", "at-3", now, time.Hour)
	if err := s.CreateRefreshToken(ctx, other); err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	n, err := s.DeleteRefreshTokensByAccessToken(ctx, "at-2")
	if err != nil {
		t.Fatalf("DeleteRefreshTokensByAccessToken() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteRefreshTokensByAccessToken() = %d, want 3", n)
	}
	if _, err := s.GetRefreshToken(ctx, "rt-cascade-0"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRefreshToken() after cascade error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRefreshToken(ctx, other.Token); err != nil {
		t.Errorf("GetRefreshToken(unrelated) error = %v, want nil", err)
	}

	n, err = s.DeleteRefreshTokensByAccessToken(ctx, "at-unknown")
	if err != nil {
		t.Fatalf("DeleteRefreshTokensByAccessToken(unknown) error = %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteRefreshTokensByAccessToken(unknown) = %d, want 0", n)
	}

	if err := s.DeleteRefreshToken(ctx, other.Token); err != nil {
		t.Fatalf("DeleteRefreshToken() error = %v", err)
	}
	if err := s.DeleteRefreshToken(ctx, other.Token); err != nil {
		t.Errorf("DeleteRefreshToken() of absent token error = %v, want nil", err)
	}
}

func testConcurrentRefreshConsume(t *testing.T, s storage.Store) {
	ctx := context.Background()
	rt := newRefreshToken("rt-race", "at-race", baseTime(), time.Hour)
	if err := s.CreateRefreshToken(ctx, rt); err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeRefreshToken(ctx, rt.Token); err == nil {
				successes.Add(1)
			} else if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("ConsumeRefreshToken() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", got)
	}
}

func testCleanup(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()
	past := now.Add(-2 * time.Hour)

	mustNil := func(name string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s() error = %v", name, err)
		}
	}

	mustNil("CreateAuthorizationCode", s.CreateAuthorizationCode(ctx, newCode("code-live", now, 10*time.Minute)))
	mustNil("CreateAuthorizationCode", s.CreateAuthorizationCode(ctx, newCode("code-dead", past, 10*time.Minute)))
	mustNil("CreateAccessToken", s.CreateAccessToken(ctx, newAccessToken("at-live", now, time.Hour)))
	mustNil("CreateAccessToken", s.CreateAccessToken(ctx, newAccessToken("at-dead", past, time.Hour)))
	mustNil("CreateRefreshToken", s.CreateRefreshToken(ctx, newRefreshToken("rt-live", "at-live", now, time.Hour)))
	mustNil("CreateRefreshToken", s.CreateRefreshToken(ctx, newRefreshToken("rt-dead", "at-dead", past, time.Hour)))

	// A record expiring exactly at now counts as expired.
	mustNil("CreateAccessToken", s.CreateAccessToken(ctx, newAccessToken("at-edge", now.Add(-time.Hour), time.Hour)))

	n, err := s.CleanupExpiredAuthorizationCodes(ctx, now)
	mustNil("CleanupExpiredAuthorizationCodes", err)
	if n != 1 {
		t.Errorf("CleanupExpiredAuthorizationCodes() = %d, want 1", n)
	}
	n, err = s.CleanupExpiredAccessTokens(ctx, now)
	mustNil("CleanupExpiredAccessTokens", err)
	if n != 2 {
		t.Errorf("CleanupExpiredAccessTokens() = %d, want 2", n)
	}
	n, err = s.CleanupExpiredRefreshTokens(ctx, now)
	mustNil("CleanupExpiredRefreshTokens", err)
	if n != 1 {
		t.Errorf("CleanupExpiredRefreshTokens() = %d, want 1", n)
	}

	if _, err := s.GetAuthorizationCode(ctx, "code-dead"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAuthorizationCode(code-dead) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, "code-live"); err != nil {
		t.Errorf("GetAuthorizationCode(code-live) error = %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "at-live"); err != nil {
		t.Errorf("GetAccessToken(at-live) error = %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "rt-live"); err != nil {
		t.Errorf("GetRefreshToken(rt-live) error = %v", err)
	}

	// Second pass finds nothing.
	n, err = s.CleanupExpiredAccessTokens(ctx, now)
	mustNil("CleanupExpiredAccessTokens", err)
	if n != 0 {
		t.Errorf("CleanupExpiredAccessTokens() second pass = %d, want 0", n)
	}
}

func testStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := baseTime()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if diff := cmp.Diff(storage.Stats{}, stats); diff != "" {
		t.Errorf("Stats() of empty store mismatch (-want +got):\n%s", diff)
	}

	if err := s.CreateClient(ctx, &storage.Client{ID: "c1", Type: storage.ClientTypePublic, CreatedAt: now}); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	if err := s.CreateUser(ctx, &storage.User{ID: "u1", Username: "u1", CreatedAt: now}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreateAuthorizationCode(ctx, newCode("code-s", now, time.Minute)); err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}
	if err := s.CreateAccessToken(ctx, newAccessToken("at-s1", now, time.Hour)); err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
	if err := s.CreateAccessToken(ctx, newAccessToken("at-s2", now, time.Hour)); err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
	if err := s.CreateRefreshToken(ctx, newRefreshToken("rt-s", "at-s1", now, time.Hour)); err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := storage.Stats{Clients: 1, Users: 1, AuthorizationCodes: 1, AccessTokens: 2, RefreshTokens: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}
