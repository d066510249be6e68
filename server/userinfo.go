package server

import (
	"context"
	"errors"
	"maps"

	"github.com/mcpresso/mcpresso-oauth/storage"
)

// GetUserInfo returns the user an access token was issued for. Tokens that
// are unknown, expired, or not bound to a user are invalid_token.
func (s *Server) GetUserInfo(ctx context.Context, accessToken string) (info *UserInfo, err error) {
	ctx, _, done := s.startSpan(ctx, "server.userinfo", "userinfo")
	defer func() { done(err) }()

	if accessToken == "" {
		return nil, NewError(ErrorCodeInvalidToken, "access token is required")
	}

	at, err := s.store.GetAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError(ErrorCodeInvalidToken, "Invalid or expired token")
		}
		return nil, s.storageFault(ctx, "get access token", err)
	}
	if at.IsExpired(s.now()) || !s.verifySignature(ctx, at.Token) {
		return nil, NewError(ErrorCodeInvalidToken, "Invalid or expired token")
	}
	if at.UserID == "" {
		return nil, NewError(ErrorCodeInvalidToken, "Token does not contain user information")
	}

	user, err := s.store.GetUser(ctx, at.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError(ErrorCodeInvalidToken, "User not found")
		}
		return nil, s.storageFault(ctx, "get user", err)
	}

	return &UserInfo{
		Sub:      user.ID,
		Username: user.Username,
		Email:    user.Email,
		Scope:    at.Scope,
		Profile:  maps.Clone(user.Profile),
	}, nil
}
