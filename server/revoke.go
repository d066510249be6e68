package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// RevokeToken revokes an access token, cascading to its refresh tokens, or
// a single refresh token (RFC 7009). Only the client the token was issued
// to may revoke it; other callers get Success false and nothing changes.
// Unknown and already expired tokens report success.
//
// The error result is reserved for malformed requests and storage faults.
func (s *Server) RevokeToken(ctx context.Context, tokenString, clientID string) (result *RevocationResult, err error) {
	ctx, span, done := s.startSpan(ctx, "server.revoke", "revoke")
	defer func() { done(err) }()

	if tokenString == "" {
		return nil, NewError(ErrorCodeInvalidRequest, "token parameter is required")
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	at, err := s.store.GetAccessToken(ctx, tokenString)
	switch {
	case err == nil:
		return s.revokeAccessToken(ctx, at, clientID)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, s.storageFault(ctx, "get access token", err)
	}

	rt, err := s.store.GetRefreshToken(ctx, tokenString)
	switch {
	case err == nil:
		return s.revokeRefreshToken(ctx, rt, clientID)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, s.storageFault(ctx, "get refresh token", err)
	}

	s.Logger.DebugContext(ctx, "Revocation of unknown token",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(tokenString, tokenIDLogLength))
	return &RevocationResult{Success: true}, nil
}

func (s *Server) revokeAccessToken(ctx context.Context, at *storage.AccessToken, clientID string) (*RevocationResult, error) {
	if at.IsExpired(s.now()) {
		return &RevocationResult{Success: true}, nil
	}
	if at.ClientID != clientID {
		s.Auditor.LogRevocationDenied(ctx, clientID, at.ClientID)
		return &RevocationResult{Success: false}, nil
	}

	if err := s.store.DeleteAccessToken(ctx, at.Token); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, s.storageFault(ctx, "delete access token", err)
	}
	cascaded, err := s.store.DeleteRefreshTokensByAccessToken(ctx, at.Token)
	if err != nil {
		return nil, s.storageFault(ctx, "delete refresh tokens", err)
	}

	s.metrics.RecordTokenRevocation(ctx, TokenKindAccess)
	s.Auditor.LogTokenRevoked(ctx, at.UserID, at.ClientID, TokenKindAccess, cascaded)
	return &RevocationResult{Success: true}, nil
}

func (s *Server) revokeRefreshToken(ctx context.Context, rt *storage.RefreshToken, clientID string) (*RevocationResult, error) {
	if rt.IsExpired(s.now()) {
		return &RevocationResult{Success: true}, nil
	}
	if rt.ClientID != clientID {
		s.Auditor.LogRevocationDenied(ctx, clientID, rt.ClientID)
		return &RevocationResult{Success: false}, nil
	}

	if err := s.store.DeleteRefreshToken(ctx, rt.Token); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, s.storageFault(ctx, "delete refresh token", err)
	}

	s.metrics.RecordTokenRevocation(ctx, TokenKindRefresh)
	s.Auditor.LogTokenRevoked(ctx, rt.UserID, rt.ClientID, TokenKindRefresh, 0)
	return &RevocationResult{Success: true}, nil
}
