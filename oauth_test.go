package oauth_test

import (
	"context"
	"log/slog"
	"testing"

	oauth "github.com/mcpresso/mcpresso-oauth"
	"github.com/mcpresso/mcpresso-oauth/internal/testutil"
	"github.com/mcpresso/mcpresso-oauth/pkce"
	"github.com/mcpresso/mcpresso-oauth/storage/memory"
)

func TestAuthorizationCodeFlow(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	store := memory.New(logger)
	if err := store.CreateClient(ctx, testutil.NewPublicClient("app")); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	if err := store.CreateUser(ctx, testutil.NewUser("alice")); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	srv, err := oauth.New(store, oauth.DefaultConfig("https://auth.example.com"), logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	pair, err := pkce.GeneratePair(0)
	if err != nil {
		t.Fatalf("GeneratePair() error = %v", err)
	}

	auth, err := srv.HandleAuthorizationRequest(ctx, &oauth.AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            "app",
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "read",
		CodeChallenge:       pair.Challenge,
		CodeChallengeMethod: pair.Method,
		State:               "xyz",
		UserID:              "alice",
	})
	if err != nil {
		t.Fatalf("HandleAuthorizationRequest() error = %v", err)
	}

	tok, err := srv.HandleTokenRequest(ctx, &oauth.TokenRequest{
		GrantType:    oauth.GrantTypeAuthorizationCode,
		Code:         auth.Code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "app",
		CodeVerifier: pair.Verifier,
	})
	if err != nil {
		t.Fatalf("HandleTokenRequest() error = %v", err)
	}
	if tok.Scope != "read" || tok.RefreshToken == "" {
		t.Errorf("token response scope %q refresh %q", tok.Scope, tok.RefreshToken)
	}

	if got := srv.IntrospectToken(ctx, tok.AccessToken); !got.Active || got.Sub != "alice" {
		t.Errorf("IntrospectToken() = %+v", got)
	}

	_, err = srv.HandleTokenRequest(ctx, &oauth.TokenRequest{
		GrantType:    oauth.GrantTypeAuthorizationCode,
		Code:         auth.Code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "app",
		CodeVerifier: pair.Verifier,
	})
	if oauth.ErrorCode(err) != oauth.ErrorCodeInvalidGrant {
		t.Fatalf("second exchange error = %v, want invalid_grant", err)
	}
	oauthErr, ok := oauth.AsError(err)
	if !ok || oauthErr.Status != 400 {
		t.Errorf("AsError() = %+v, %v", oauthErr, ok)
	}
}

func TestNew_NilStore(t *testing.T) {
	if _, err := oauth.New(nil, nil, nil); err == nil {
		t.Fatal("New(nil store) error = nil")
	}
}
