package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// HandleTokenRequest dispatches a token request on its grant type.
//
// Protocol failures are *Error values; other errors are storage faults.
func (s *Server) HandleTokenRequest(ctx context.Context, req *TokenRequest) (resp *TokenResponse, err error) {
	ctx, span, done := s.startSpan(ctx, "server.token", "token")
	defer func() { done(err) }()

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	if req.GrantType == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "grant_type parameter is required")
	}
	if !s.Config.SupportsGrantType(req.GrantType) {
		return nil, errorf(ErrorCodeUnsupportedGrantType, "grant_type %q is not supported", req.GrantType)
	}
	if s.Config.RequireResourceIndicator && req.Resource == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "resource parameter is required")
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		resp, err = s.exchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		resp, err = s.refreshAccessToken(ctx, req)
	case GrantTypeClientCredentials:
		resp, err = s.clientCredentials(ctx, req)
	default:
		return nil, errorf(ErrorCodeUnsupportedGrantType, "grant_type %q is not supported", req.GrantType)
	}
	if err != nil {
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", resp.Scope)
	s.metrics.RecordTokenIssued(ctx, req.GrantType, req.ClientID)
	return resp, nil
}

// exchangeAuthorizationCode redeems a code (authorization_code grant).
// The code is validated first and then consumed atomically, so of two
// concurrent exchanges only one can succeed.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "code parameter is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if err := s.requireGrantType(ctx, client, GrantTypeAuthorizationCode); err != nil {
		return nil, err
	}

	code, err := s.store.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure(ctx, "", client.ID, "unknown_authorization_code")
			return nil, NewError(ErrorCodeInvalidGrant, "Invalid authorization code")
		}
		return nil, s.storageFault(ctx, "get authorization code", err)
	}

	if code.IsExpired(s.now()) {
		if err := s.store.DeleteAuthorizationCode(ctx, code.Code); err != nil {
			s.Logger.WarnContext(ctx, "Failed to delete expired authorization code", "error", err)
		}
		return nil, NewError(ErrorCodeInvalidGrant, "Authorization code expired")
	}
	if code.ClientID != client.ID {
		s.Auditor.LogAuthFailure(ctx, code.UserID, client.ID, "authorization_code_client_mismatch")
		return nil, NewError(ErrorCodeInvalidGrant, "Authorization code was issued to another client")
	}
	if req.RedirectURI == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "redirect_uri parameter is required")
	}
	if req.RedirectURI != code.RedirectURI {
		return nil, NewError(ErrorCodeInvalidGrant, "Redirect URI mismatch")
	}
	if req.Resource != "" && req.Resource != code.Resource {
		return nil, NewError(ErrorCodeInvalidGrant, "Resource indicator mismatch")
	}

	if err := s.verifyCodeVerifier(code, req.CodeVerifier); err != nil {
		s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		s.Auditor.LogInvalidPKCE(ctx, code.UserID, client.ID, code.CodeChallengeMethod)
		// A failed redemption invalidates the code.
		if delErr := s.store.DeleteAuthorizationCode(ctx, code.Code); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			s.Logger.WarnContext(ctx, "Failed to delete authorization code after PKCE failure", "error", delErr)
		}
		return nil, err
	}

	if _, err := s.store.ConsumeAuthorizationCode(ctx, code.Code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Another exchange consumed the code between Get and Consume.
			s.metrics.RecordCodeReuseDetected(ctx)
			s.Auditor.LogCodeReuseDetected(ctx, code.UserID, client.ID)
			s.Logger.WarnContext(ctx, "Authorization code reuse detected",
				"client_id", client.ID,
				"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
			return nil, NewError(ErrorCodeInvalidGrant, "Authorization code has already been used")
		}
		return nil, s.storageFault(ctx, "consume authorization code", err)
	}

	resp, err := s.issueTokens(ctx, client.ID, code.UserID, code.Scope, code.Resource, s.refreshAllowed(client))
	if err != nil {
		return nil, err
	}
	s.Auditor.LogTokenIssued(ctx, code.UserID, client.ID, GrantTypeAuthorizationCode, code.Scope)
	return resp, nil
}

// refreshAccessToken implements the refresh_token grant. The presented token
// is consumed atomically and replaced, or re-linked to the new access token
// when rotation is disabled.
func (s *Server) refreshAccessToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "refresh_token parameter is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if err := s.requireGrantType(ctx, client, GrantTypeRefreshToken); err != nil {
		return nil, err
	}

	rt, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError(ErrorCodeInvalidGrant, "Invalid refresh token")
		}
		return nil, s.storageFault(ctx, "get refresh token", err)
	}

	if rt.IsExpired(s.now()) {
		if err := s.store.DeleteRefreshToken(ctx, rt.Token); err != nil {
			s.Logger.WarnContext(ctx, "Failed to delete expired refresh token", "error", err)
		}
		return nil, NewError(ErrorCodeInvalidGrant, "Refresh token expired")
	}
	if rt.ClientID != client.ID {
		s.Auditor.LogAuthFailure(ctx, rt.UserID, client.ID, "refresh_token_client_mismatch")
		return nil, NewError(ErrorCodeInvalidGrant, "Refresh token was issued to another client")
	}
	if req.Resource != "" && rt.Audience != "" && req.Resource != rt.Audience {
		return nil, NewError(ErrorCodeInvalidGrant, "Resource indicator mismatch")
	}

	scope := rt.Scope
	if req.Scope != "" {
		narrowed := token.ScopeIntersection(token.SplitScope(req.Scope), token.SplitScope(rt.Scope))
		if len(narrowed) == 0 {
			return nil, errorf(ErrorCodeInvalidScope, "requested scope %q exceeds the original grant", req.Scope)
		}
		scope = token.JoinScope(narrowed)
	}

	rotate := !s.Config.DisableRefreshTokenRotation
	if _, err := s.store.ConsumeRefreshToken(ctx, rt.Token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure(ctx, rt.UserID, client.ID, "refresh_token_reuse")
			return nil, NewError(ErrorCodeInvalidGrant, "Refresh token has already been used")
		}
		return nil, s.storageFault(ctx, "consume refresh token", err)
	}
	// Any other refresh token still paired with the old access token
	// goes too, so at most one stays live per access token.
	if _, err := s.store.DeleteRefreshTokensByAccessToken(ctx, rt.AccessTokenID); err != nil {
		return nil, s.storageFault(ctx, "delete refresh tokens", err)
	}

	resp, err := s.issueTokens(ctx, client.ID, rt.UserID, scope, rt.Audience, rotate && s.refreshAllowed(client))
	if err != nil {
		return nil, err
	}
	if !rotate {
		// The same refresh token stays valid but now belongs to the new
		// access token, so revoking that access token cascades to it.
		relinked := *rt
		relinked.AccessTokenID = resp.AccessToken
		if err := s.store.CreateRefreshToken(ctx, &relinked); err != nil {
			return nil, s.storageFault(ctx, "relink refresh token", err)
		}
		resp.RefreshToken = rt.Token
	}

	s.metrics.RecordTokenRefresh(ctx, client.ID, rotate)
	s.Auditor.LogTokenRefreshed(ctx, rt.UserID, client.ID, rotate)
	return resp, nil
}

// clientCredentials implements the client_credentials grant for
// confidential clients. It never issues a refresh token.
func (s *Server) clientCredentials(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.IsConfidential() {
		return nil, NewError(ErrorCodeUnauthorizedClient, "Public clients cannot use the client_credentials grant")
	}
	if err := s.requireGrantType(ctx, client, GrantTypeClientCredentials); err != nil {
		return nil, err
	}
	if req.Resource == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "resource parameter is required")
	}

	scope, err := grantScope(req.Scope, s.allowedScopes(client, nil))
	if err != nil {
		return nil, err
	}

	resp, err := s.issueTokens(ctx, client.ID, "", scope, req.Resource, false)
	if err != nil {
		return nil, err
	}
	s.Auditor.LogTokenIssued(ctx, "", client.ID, GrantTypeClientCredentials, scope)
	return resp, nil
}
