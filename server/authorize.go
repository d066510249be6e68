package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// HandleAuthorizationRequest validates an authorization request and mints a
// single-use authorization code bound to the client, redirect URI, scope,
// resource and PKCE challenge. The user must already be resolved in
// req.UserID.
//
// Protocol failures are *Error values; other errors are storage faults.
func (s *Server) HandleAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (result *AuthorizationResult, err error) {
	ctx, span, done := s.startSpan(ctx, "server.authorize", "authorize")
	defer func() { done(err) }()

	if req.ResponseType != ResponseTypeCode || !s.Config.SupportsResponseType(req.ResponseType) {
		return nil, errorf(ErrorCodeUnsupportedResponseType, "response_type %q is not supported", req.ResponseType)
	}

	client, err := s.lookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if err := validateRedirectURI(client, req.RedirectURI); err != nil {
		s.Auditor.LogAuthFailure(ctx, req.UserID, client.ID, "redirect_uri_mismatch")
		return nil, err
	}
	if !s.Config.SupportsGrantType(GrantTypeAuthorizationCode) {
		return nil, NewError(ErrorCodeUnauthorizedClient, "authorization_code grant is disabled")
	}
	if err := s.requireGrantType(ctx, client, GrantTypeAuthorizationCode); err != nil {
		return nil, err
	}

	resource := req.Resource
	if resource == "" {
		if s.Config.RequireResourceIndicator {
			return nil, NewError(ErrorCodeInvalidRequest, "resource parameter is required")
		}
		resource = s.Config.ServerURL
	}

	method, err := s.validateChallengeParams(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		s.Auditor.LogAuthFailure(ctx, req.UserID, client.ID, "invalid_pkce_parameters")
		return nil, err
	}

	user, err := s.resolveUser(ctx, req.UserID, client.ID)
	if err != nil {
		return nil, err
	}

	scope, err := grantScope(req.Scope, s.allowedScopes(client, user))
	if err != nil {
		return nil, err
	}

	value, err := token.RandomToken(randomTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate authorization code: %w", err)
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                value,
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		Resource:            resource,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.authorizationCodeTTL()),
	}
	if err := s.store.CreateAuthorizationCode(ctx, code); err != nil {
		return nil, s.storageFault(ctx, "create authorization code", err)
	}

	redirectURL, err := buildRedirectURL(req.RedirectURI, code.Code, req.State)
	if err != nil {
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ID, user.ID, scope)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrResource, resource),
		attribute.String(instrumentation.AttrPKCEMethod, method))
	s.metrics.RecordAuthorizationCodeIssued(ctx, client.ID)
	s.Auditor.LogAuthorizationCodeIssued(ctx, user.ID, client.ID, scope)
	s.Logger.DebugContext(ctx, "Issued authorization code",
		"client_id", client.ID,
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))

	return &AuthorizationResult{
		RedirectURL: redirectURL,
		Code:        code.Code,
		State:       req.State,
	}, nil
}

// resolveUser loads the user the login collaborator bound to the request.
func (s *Server) resolveUser(ctx context.Context, userID, clientID string) (*storage.User, error) {
	if userID == "" {
		s.Auditor.LogAuthFailure(ctx, "", clientID, "missing_user")
		return nil, NewError(ErrorCodeAccessDenied, "user authentication is required")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure(ctx, userID, clientID, "unknown_user")
			return nil, NewError(ErrorCodeAccessDenied, "user not found")
		}
		return nil, s.storageFault(ctx, "get user", err)
	}
	return user, nil
}

// buildRedirectURL appends code and, when present, state to redirectURI,
// keeping any query the registered URI already carries.
func buildRedirectURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", errorf(ErrorCodeInvalidRequest, "redirect_uri is malformed: %v", err)
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
