package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// refreshAllowed reports whether tokens issued to client may carry a
// refresh token.
func (s *Server) refreshAllowed(client *storage.Client) bool {
	return s.Config.AllowRefreshTokens &&
		s.Config.SupportsGrantType(GrantTypeRefreshToken) &&
		client.HasGrantType(GrantTypeRefreshToken)
}

// issueTokens persists a new access token and, when withRefresh is set, a
// refresh token paired with it.
func (s *Server) issueTokens(ctx context.Context, clientID, userID, scope, audience string, withRefresh bool) (*TokenResponse, error) {
	access, err := s.newAccessToken(ctx, clientID, userID, scope, audience)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: access.Token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   s.Config.AccessTokenLifetime,
		Scope:       access.Scope,
	}

	if withRefresh {
		refresh, err := s.newRefreshToken(ctx, access)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refresh.Token
	}

	return resp, nil
}

// newAccessToken mints an access token. With a signing secret configured
// the token is a JWT; otherwise it is opaque.
func (s *Server) newAccessToken(ctx context.Context, clientID, userID, scope, audience string) (*storage.AccessToken, error) {
	now := s.now()
	at := &storage.AccessToken{
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		Audience:  audience,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Config.accessTokenTTL()),
	}

	var err error
	if s.signer != nil {
		subject := userID
		if subject == "" {
			subject = clientID
		}
		at.Token, err = s.signer.Sign(token.Claims{
			"iss":       s.Config.Issuer,
			"sub":       subject,
			"aud":       audience,
			"jti":       uuid.NewString(),
			"scope":     scope,
			"client_id": clientID,
		}, s.Config.accessTokenTTL())
	} else {
		at.Token, err = token.RandomToken(randomTokenBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	if err := s.store.CreateAccessToken(ctx, at); err != nil {
		return nil, s.storageFault(ctx, "create access token", err)
	}
	s.Logger.DebugContext(ctx, "Issued access token",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(at.Token, tokenIDLogLength))
	return at, nil
}

func (s *Server) newRefreshToken(ctx context.Context, access *storage.AccessToken) (*storage.RefreshToken, error) {
	value, err := token.RandomToken(randomTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := s.now()
	rt := &storage.RefreshToken{
		Token:         value,
		AccessTokenID: access.Token,
		ClientID:      access.ClientID,
		UserID:        access.UserID,
		Scope:         access.Scope,
		Audience:      access.Audience,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.Config.refreshTokenTTL()),
	}
	if err := s.store.CreateRefreshToken(ctx, rt); err != nil {
		return nil, s.storageFault(ctx, "create refresh token", err)
	}
	return rt, nil
}
