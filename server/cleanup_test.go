package server

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpresso/mcpresso-oauth/internal/testutil"
	"github.com/mcpresso/mcpresso-oauth/storage/memory"
	"github.com/mcpresso/mcpresso-oauth/storage/mock"
)

func TestCleanup(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()

	f.issue(t)
	f.authorize(t, publicClientID, newPair(t))

	result, err := f.srv.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.Total() != 0 {
		t.Fatalf("Cleanup() removed %+v before expiry", result)
	}

	f.clock.Advance(2 * time.Hour)
	result, err = f.srv.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.AuthorizationCodes != 1 || result.AccessTokens != 1 || result.RefreshTokens != 1 {
		t.Errorf("Cleanup() = %+v, want one of each", result)
	}

	stats, err := f.srv.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.AuthorizationCodes != 0 || stats.AccessTokens != 0 || stats.RefreshTokens != 0 {
		t.Errorf("GetStats() = %+v after cleanup", stats)
	}
	if stats.Clients != 2 || stats.Users != 1 {
		t.Errorf("GetStats() clients %d users %d, want 2 and 1", stats.Clients, stats.Users)
	}
}

func TestCleanupScheduler(t *testing.T) {
	f := newTestServer(t, nil)
	f.issue(t)
	f.clock.Advance(2 * time.Hour)

	sched := NewCleanupScheduler(f.srv, 10*time.Millisecond)
	sched.Start(context.Background())
	sched.Start(context.Background())
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, err := f.store.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.AccessTokens == 0 && stats.RefreshTokens == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not clean up: %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}

	sched.Stop()
	sched.Stop()

	if got := NewCleanupScheduler(f.srv, 0).Interval(); got != DefaultCleanupInterval {
		t.Errorf("Interval() = %v, want %v", got, DefaultCleanupInterval)
	}
}

func TestHandlerMetrics(t *testing.T) {
	reader := testutil.NewMetricReader(t)
	store := memory.New(nil)

	clock := testutil.NewMockTime(time.Now())
	cfg := DefaultConfig(testIssuer)
	cfg.Now = clock.Now
	if err := store.CreateClient(context.Background(), testutil.NewConfidentialClient(t, confClientID, confSecret)); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	srv, err := New(store, cfg, slog.New(slog.DiscardHandler), WithInstrumentation(reader.Instrumentation(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	req := &TokenRequest{GrantType: GrantTypeClientCredentials, ClientID: confClientID, ClientSecret: confSecret, Resource: "R"}
	resp, err := srv.HandleTokenRequest(ctx, req)
	if err != nil {
		t.Fatalf("HandleTokenRequest() error = %v", err)
	}
	srv.IntrospectToken(ctx, resp.AccessToken)

	req.ClientSecret = "wrong"
	if _, err := srv.HandleTokenRequest(ctx, req); err == nil {
		t.Fatal("HandleTokenRequest(bad secret) error = nil")
	}

	if got := reader.Sum(t, "oauth.token.issued", attribute.String("grant_type", GrantTypeClientCredentials)); got != 1 {
		t.Errorf("oauth.token.issued = %d, want 1", got)
	}
	if got := reader.Sum(t, "oauth.introspection.total", attribute.Bool("active", true)); got != 1 {
		t.Errorf("oauth.introspection.total = %d, want 1", got)
	}
	if got := reader.Sum(t, "oauth.errors.total", attribute.String("error", ErrorCodeInvalidClient)); got != 1 {
		t.Errorf("oauth.errors.total = %d, want 1", got)
	}
}

func TestStorageFaults(t *testing.T) {
	errBackend := errors.New("connection refused")

	tests := []struct {
		name string
		op   string
		call func(t *testing.T, f *fixture) error
	}{
		{
			name: "authorize get client",
			op:   mock.OpGetClient,
			call: func(t *testing.T, f *fixture) error {
				_, err := f.srv.HandleAuthorizationRequest(context.Background(), f.authRequest(publicClientID, newPair(t)))
				return err
			},
		},
		{
			name: "authorize create code",
			op:   mock.OpCreateAuthorizationCode,
			call: func(t *testing.T, f *fixture) error {
				_, err := f.srv.HandleAuthorizationRequest(context.Background(), f.authRequest(publicClientID, newPair(t)))
				return err
			},
		},
		{
			name: "client credentials create token",
			op:   mock.OpCreateAccessToken,
			call: func(t *testing.T, f *fixture) error {
				_, err := f.srv.HandleTokenRequest(context.Background(), &TokenRequest{
					GrantType: GrantTypeClientCredentials, ClientID: confClientID, ClientSecret: confSecret, Resource: "R",
				})
				return err
			},
		},
		{
			name: "revoke lookup",
			op:   mock.OpGetAccessToken,
			call: func(t *testing.T, f *fixture) error {
				_, err := f.srv.RevokeToken(context.Background(), "tok", publicClientID)
				return err
			},
		},
		{
			name: "cleanup",
			op:   mock.OpCleanupExpiredAccessTokens,
			call: func(t *testing.T, f *fixture) error {
				_, err := f.srv.Cleanup(context.Background())
				return err
			},
		},
		{
			name: "stats",
			op:   mock.OpStats,
			call: func(t *testing.T, f *fixture) error {
				_, err := f.srv.GetStats(context.Background())
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.New(nil)
			f := newTestServerWithStore(t, store, nil)
			store.FailOn(tt.op, errBackend)

			err := tt.call(t, f)
			if !errors.Is(err, errBackend) {
				t.Fatalf("error = %v, want wrapped backend error", err)
			}
			if _, ok := AsError(err); ok {
				t.Fatalf("storage fault surfaced as OAuth error: %v", err)
			}
		})
	}
}

func TestIntrospectToken_StorageFault(t *testing.T) {
	store := mock.New(nil)
	f := newTestServerWithStore(t, store, nil)
	resp := f.issue(t)

	store.FailOn(mock.OpGetAccessToken, errors.New("timeout"))
	if got := f.srv.IntrospectToken(context.Background(), resp.AccessToken); got.Active {
		t.Error("IntrospectToken() active during storage fault")
	}
	if store.CallCount(mock.OpGetAccessToken) == 0 {
		t.Error("access token store not consulted")
	}
}
