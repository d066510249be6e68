package server

import (
	"context"
	"testing"
	"time"

	"github.com/mcpresso/mcpresso-oauth/internal/testutil"
)

func TestIntrospectToken(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	resp := f.issue(t)

	got := f.srv.IntrospectToken(ctx, resp.AccessToken)
	if !got.Active {
		t.Fatalf("IntrospectToken() = %+v, want active", got)
	}
	if got.ClientID != publicClientID || got.Aud != testResource {
		t.Errorf("client_id %q aud %q", got.ClientID, got.Aud)
	}
	if got.Sub != testUserID || got.Username != testUserID+"-name" {
		t.Errorf("sub %q username %q", got.Sub, got.Username)
	}
	if got.TokenType != TokenKindAccess || got.Iss != testIssuer {
		t.Errorf("token_type %q iss %q", got.TokenType, got.Iss)
	}
	wantExp := f.clock.Now().Add(time.Hour).Unix()
	if got.Exp != wantExp {
		t.Errorf("exp = %d, want %d", got.Exp, wantExp)
	}

	refresh := f.srv.IntrospectToken(ctx, resp.RefreshToken)
	if !refresh.Active || refresh.TokenType != TokenKindRefresh {
		t.Errorf("IntrospectToken(refresh) = %+v, want active refresh token", refresh)
	}
}

func TestIntrospectToken_Inactive(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()

	for _, tok := range []string{"", "never-issued", "a.b.c"} {
		got := f.srv.IntrospectToken(ctx, tok)
		if got.Active || got.ClientID != "" || got.Scope != "" {
			t.Errorf("IntrospectToken(%q) = %+v, want bare inactive", tok, got)
		}
	}

	resp := f.issue(t)
	f.clock.Advance(time.Hour)
	if got := f.srv.IntrospectToken(ctx, resp.AccessToken); got.Active {
		t.Error("IntrospectToken(expired) active, want inactive")
	}
}

func TestIntrospectToken_TamperedJWT(t *testing.T) {
	f := newTestServer(t, func(c *Config) { c.JWTSecret = testutil.GenerateRandomString(40) })
	ctx := context.Background()
	resp := f.issue(t)

	at, err := f.store.GetAccessToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	// Store a copy signed under a different key.
	forged := *at
	forged.Token = resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if err := f.store.CreateAccessToken(ctx, &forged); err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}

	if got := f.srv.IntrospectToken(ctx, forged.Token); got.Active {
		t.Error("IntrospectToken(forged) active, want inactive")
	}
}

func TestRevokeToken(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	resp := f.issue(t)

	for i := range 2 {
		result, err := f.srv.RevokeToken(ctx, resp.AccessToken, publicClientID)
		if err != nil {
			t.Fatalf("RevokeToken() #%d error = %v", i, err)
		}
		if !result.Success {
			t.Fatalf("RevokeToken() #%d success = false, want true", i)
		}
	}

	if got := f.srv.IntrospectToken(ctx, resp.AccessToken); got.Active {
		t.Error("revoked access token still active")
	}
	if got := f.srv.IntrospectToken(ctx, resp.RefreshToken); got.Active {
		t.Error("refresh token survived revocation of its access token")
	}

	_, err := f.srv.HandleTokenRequest(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: resp.RefreshToken,
		ClientID:     publicClientID,
	})
	wantOAuthError(t, err, ErrorCodeInvalidGrant, "")
}

func TestRevokeToken_Ownership(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	resp := f.issue(t)

	for _, tok := range []string{resp.AccessToken, resp.RefreshToken} {
		result, err := f.srv.RevokeToken(ctx, tok, confClientID)
		if err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if result.Success {
			t.Error("RevokeToken() by another client succeeded")
		}
		if got := f.srv.IntrospectToken(ctx, tok); !got.Active {
			t.Error("token revoked by another client")
		}
	}
}

func TestRevokeToken_ExpiredByAnotherClient(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	resp := f.issue(t)
	f.clock.Advance(2 * time.Hour)

	for _, tok := range []string{resp.AccessToken, resp.RefreshToken} {
		result, err := f.srv.RevokeToken(ctx, tok, confClientID)
		if err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if !result.Success {
			t.Error("RevokeToken(expired) success = false, want true")
		}
	}
}

func TestRevokeToken_RefreshToken(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	resp := f.issue(t)

	result, err := f.srv.RevokeToken(ctx, resp.RefreshToken, publicClientID)
	if err != nil || !result.Success {
		t.Fatalf("RevokeToken(refresh) = %+v, %v", result, err)
	}
	if got := f.srv.IntrospectToken(ctx, resp.RefreshToken); got.Active {
		t.Error("revoked refresh token still active")
	}
	if got := f.srv.IntrospectToken(ctx, resp.AccessToken); !got.Active {
		t.Error("revoking the refresh token revoked the access token")
	}
}

func TestRevokeToken_UnknownAndEmpty(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()

	result, err := f.srv.RevokeToken(ctx, "never-issued", publicClientID)
	if err != nil || !result.Success {
		t.Errorf("RevokeToken(unknown) = %+v, %v, want success", result, err)
	}

	_, err = f.srv.RevokeToken(ctx, "", publicClientID)
	wantOAuthError(t, err, ErrorCodeInvalidRequest, "")
}

func TestGetUserInfo(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	resp := f.issue(t)

	info, err := f.srv.GetUserInfo(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("GetUserInfo() error = %v", err)
	}
	if info.Sub != testUserID || info.Email != testUserID+"@example.com" || info.Scope != resp.Scope {
		t.Errorf("GetUserInfo() = %+v", info)
	}
	if info.Profile["name"] != "Test "+testUserID {
		t.Errorf("Profile = %v", info.Profile)
	}

	cc, err := f.srv.HandleTokenRequest(ctx, &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     confClientID,
		ClientSecret: confSecret,
		Resource:     testResource,
	})
	if err != nil {
		t.Fatalf("HandleTokenRequest() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"unknown", "nope"},
		{"no user", cc.AccessToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.srv.GetUserInfo(ctx, tt.token)
			wantOAuthError(t, err, ErrorCodeInvalidToken, "")
		})
	}

	f.clock.Advance(time.Hour)
	_, err = f.srv.GetUserInfo(ctx, resp.AccessToken)
	wantOAuthError(t, err, ErrorCodeInvalidToken, "")
}
