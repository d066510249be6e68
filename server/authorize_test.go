package server

import (
	"context"
	"net/url"
	"testing"

	"github.com/mcpresso/mcpresso-oauth/pkce"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

func TestHandleAuthorizationRequest(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()
	pair := newPair(t)

	result, err := f.srv.HandleAuthorizationRequest(ctx, f.authRequest(publicClientID, pair))
	if err != nil {
		t.Fatalf("HandleAuthorizationRequest() error = %v", err)
	}

	u, err := url.Parse(result.RedirectURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if got := u.Query().Get("code"); got != result.Code || got == "" {
		t.Errorf("redirect code = %q, want %q", got, result.Code)
	}
	if got := u.Query().Get("state"); got != "xyz" {
		t.Errorf("redirect state = %q, want xyz", got)
	}

	code, err := f.store.GetAuthorizationCode(ctx, result.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if code.ClientID != publicClientID || code.UserID != testUserID {
		t.Errorf("code bound to client %q user %q", code.ClientID, code.UserID)
	}
	if code.Resource != testResource || code.RedirectURI != testRedirectURI {
		t.Errorf("code resource %q redirect %q", code.Resource, code.RedirectURI)
	}
	if code.CodeChallenge != pair.Challenge || code.CodeChallengeMethod != pkce.MethodS256 {
		t.Errorf("code challenge %q method %q", code.CodeChallenge, code.CodeChallengeMethod)
	}
	if got, want := code.ExpiresAt.Sub(code.CreatedAt), f.srv.Config.authorizationCodeTTL(); got != want {
		t.Errorf("code lifetime = %v, want %v", got, want)
	}
}

func TestHandleAuthorizationRequest_Defaults(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()

	verifier, err := pkce.GenerateVerifier(pkce.MinLength)
	if err != nil {
		t.Fatalf("GenerateVerifier() error = %v", err)
	}

	req := f.authRequest(publicClientID, &pkce.Pair{Challenge: verifier})
	req.Resource = ""
	req.Scope = ""
	req.State = ""

	result, err := f.srv.HandleAuthorizationRequest(ctx, req)
	if err != nil {
		t.Fatalf("HandleAuthorizationRequest() error = %v", err)
	}

	u, _ := url.Parse(result.RedirectURL)
	if u.Query().Has("state") {
		t.Errorf("redirect %q carries state, want none", result.RedirectURL)
	}

	code, err := f.store.GetAuthorizationCode(ctx, result.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if code.Resource != f.srv.Config.ServerURL {
		t.Errorf("resource = %q, want server URL %q", code.Resource, f.srv.Config.ServerURL)
	}
	if code.Scope != "read write" {
		t.Errorf("scope = %q, want client scopes", code.Scope)
	}
	if code.CodeChallengeMethod != pkce.MethodPlain {
		t.Errorf("method = %q, want plain default", code.CodeChallengeMethod)
	}
}

func TestHandleAuthorizationRequest_ScopeDownscoped(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()

	req := f.authRequest(publicClientID, newPair(t))
	req.Scope = "read admin"

	result, err := f.srv.HandleAuthorizationRequest(ctx, req)
	if err != nil {
		t.Fatalf("HandleAuthorizationRequest() error = %v", err)
	}
	code, err := f.store.GetAuthorizationCode(ctx, result.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if code.Scope != "read" {
		t.Errorf("scope = %q, want read", code.Scope)
	}
}

func TestHandleAuthorizationRequest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		modify   func(*AuthorizationRequest)
		wantCode string
		wantDesc string
	}{
		{
			name:     "unsupported response type",
			modify:   func(r *AuthorizationRequest) { r.ResponseType = "token" },
			wantCode: ErrorCodeUnsupportedResponseType,
		},
		{
			name:     "unknown client",
			modify:   func(r *AuthorizationRequest) { r.ClientID = "nope" },
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name:     "unregistered redirect uri",
			modify:   func(r *AuthorizationRequest) { r.RedirectURI = "https://evil.example.com/cb" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "redirect uri prefix is not a match",
			modify:   func(r *AuthorizationRequest) { r.RedirectURI = testRedirectURI + "/extra" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "resource required",
			mutate:   func(c *Config) { c.RequireResourceIndicator = true },
			modify:   func(r *AuthorizationRequest) { r.Resource = "" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "resource parameter is required",
		},
		{
			name:     "pkce required",
			modify:   func(r *AuthorizationRequest) { r.CodeChallenge = ""; r.CodeChallengeMethod = "" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "code_challenge parameter is required",
		},
		{
			name:     "unsupported challenge method",
			modify:   func(r *AuthorizationRequest) { r.CodeChallengeMethod = "S512" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "plain disabled",
			mutate:   func(c *Config) { c.SupportedCodeChallengeMethods = []string{pkce.MethodS256} },
			modify:   func(r *AuthorizationRequest) { r.CodeChallengeMethod = pkce.MethodPlain },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "malformed challenge",
			modify:   func(r *AuthorizationRequest) { r.CodeChallenge = "short" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "scope not allowed",
			modify:   func(r *AuthorizationRequest) { r.Scope = "admin" },
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name:     "missing user",
			modify:   func(r *AuthorizationRequest) { r.UserID = "" },
			wantCode: ErrorCodeAccessDenied,
		},
		{
			name:     "unknown user",
			modify:   func(r *AuthorizationRequest) { r.UserID = "ghost" },
			wantCode: ErrorCodeAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestServer(t, tt.mutate)
			req := f.authRequest(publicClientID, newPair(t))
			tt.modify(req)

			result, err := f.srv.HandleAuthorizationRequest(context.Background(), req)
			if result != nil {
				t.Errorf("result = %+v, want nil on error", result)
			}
			wantOAuthError(t, err, tt.wantCode, tt.wantDesc)

			stats, err := f.store.Stats(context.Background())
			if err != nil {
				t.Fatalf("Stats() error = %v", err)
			}
			if stats.AuthorizationCodes != 0 {
				t.Errorf("stored %d codes after rejection", stats.AuthorizationCodes)
			}
		})
	}
}

func TestHandleAuthorizationRequest_ClientWithoutGrant(t *testing.T) {
	f := newTestServer(t, nil)
	ctx := context.Background()

	client := &storage.Client{
		ID:           "machine",
		Type:         storage.ClientTypePublic,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"read"},
		GrantTypes:   []string{GrantTypeClientCredentials},
	}
	if err := f.store.CreateClient(ctx, client); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	_, err := f.srv.HandleAuthorizationRequest(ctx, f.authRequest("machine", newPair(t)))
	wantOAuthError(t, err, ErrorCodeUnauthorizedClient, "")
}

func TestBuildRedirectURL(t *testing.T) {
	got, err := buildRedirectURL("https://app.example.com/cb?foo=bar", "c0de", "s t")
	if err != nil {
		t.Fatalf("buildRedirectURL() error = %v", err)
	}
	u, _ := url.Parse(got)
	q := u.Query()
	if q.Get("foo") != "bar" || q.Get("code") != "c0de" || q.Get("state") != "s t" {
		t.Errorf("buildRedirectURL() = %q", got)
	}
}
