package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// IntrospectToken reports whether tokenString is a live access or refresh
// token (RFC 7662). Unknown, expired and malformed tokens are inactive.
// It never fails: storage faults are logged and reported as inactive.
func (s *Server) IntrospectToken(ctx context.Context, tokenString string) *IntrospectionResponse {
	ctx, span, done := s.startSpan(ctx, "server.introspect", "introspect")
	defer done(nil)

	resp := s.introspect(ctx, tokenString)
	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrActive, resp.Active),
		attribute.String(instrumentation.AttrTokenType, resp.TokenType))
	s.metrics.RecordIntrospection(ctx, resp.Active, resp.TokenType)
	return resp
}

func (s *Server) introspect(ctx context.Context, tokenString string) *IntrospectionResponse {
	inactive := &IntrospectionResponse{Active: false}
	if tokenString == "" {
		return inactive
	}
	now := s.now()

	at, err := s.store.GetAccessToken(ctx, tokenString)
	switch {
	case err == nil:
		if at.IsExpired(now) || !s.verifySignature(ctx, at.Token) {
			return inactive
		}
		return &IntrospectionResponse{
			Active:    true,
			Scope:     at.Scope,
			ClientID:  at.ClientID,
			Username:  s.username(ctx, at.UserID),
			TokenType: TokenKindAccess,
			Exp:       at.ExpiresAt.Unix(),
			Iat:       at.CreatedAt.Unix(),
			Sub:       at.UserID,
			Aud:       at.Audience,
			Iss:       s.Config.Issuer,
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.Logger.ErrorContext(ctx, "Introspection lookup failed", "kind", TokenKindAccess, "error", err)
		return inactive
	}

	rt, err := s.store.GetRefreshToken(ctx, tokenString)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.ErrorContext(ctx, "Introspection lookup failed", "kind", TokenKindRefresh, "error", err)
		}
		return inactive
	}
	if rt.IsExpired(now) {
		return inactive
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     rt.Scope,
		ClientID:  rt.ClientID,
		Username:  s.username(ctx, rt.UserID),
		TokenType: TokenKindRefresh,
		Exp:       rt.ExpiresAt.Unix(),
		Iat:       rt.CreatedAt.Unix(),
		Sub:       rt.UserID,
		Aud:       rt.Audience,
		Iss:       s.Config.Issuer,
	}
}

// verifySignature checks stored JWT access tokens against the signing key.
// Opaque tokens, and every token when no key is configured, pass.
func (s *Server) verifySignature(ctx context.Context, value string) bool {
	if s.signer == nil || !token.LooksLikeJWT(value) {
		return true
	}
	if _, err := s.signer.Verify(value); err != nil {
		s.Logger.WarnContext(ctx, "Stored access token failed verification", "error", err)
		return false
	}
	return true
}

func (s *Server) username(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return user.Username
}
