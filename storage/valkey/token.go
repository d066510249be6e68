package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// accessTokenJSON is the JSON representation of an access token
type accessTokenJSON struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	Scope     string    `json:"scope"`
	Audience  string    `json:"audience,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// refreshTokenJSON is the JSON representation of a refresh token.
// access_token_id is read by the Lua scripts.
type refreshTokenJSON struct {
	Token         string    `json:"token"`
	AccessTokenID string    `json:"access_token_id"`
	ClientID      string    `json:"client_id"`
	UserID        string    `json:"user_id,omitempty"`
	Scope         string    `json:"scope"`
	Audience      string    `json:"audience,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Scope:     t.Scope,
		Audience:  t.Audience,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		Scope:     j.Scope,
		Audience:  j.Audience,
		CreatedAt: j.CreatedAt,
		ExpiresAt: j.ExpiresAt,
	}
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:         t.Token,
		AccessTokenID: t.AccessTokenID,
		ClientID:      t.ClientID,
		UserID:        t.UserID,
		Scope:         t.Scope,
		Audience:      t.Audience,
		CreatedAt:     t.CreatedAt,
		ExpiresAt:     t.ExpiresAt,
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:         j.Token,
		AccessTokenID: j.AccessTokenID,
		ClientID:      j.ClientID,
		UserID:        j.UserID,
		Scope:         j.Scope,
		Audience:      j.Audience,
		CreatedAt:     j.CreatedAt,
		ExpiresAt:     j.ExpiresAt,
	}
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// CreateAccessToken stores an issued access token.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("%w: access token is required", storage.ErrInvalidRecord)
	}
	// JWT access tokens are longer than opaque ones
	if err := validateStringLength(token.Token, 4*MaxTokenLength, "access_token"); err != nil {
		return err
	}

	err = s.createIndexed(ctx, s.accessTokenKey(token.Token), s.accessTokensIndexKey(), "", token.Token,
		token.ExpiresAt, toAccessTokenJSON(token))
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: access token", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.tracker.Start(ctx, "get_access_token")
	defer func() { done(err) }()

	var j accessTokenJSON
	if err := s.getJSON(ctx, s.accessTokenKey(token), &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: access token", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return fromAccessTokenJSON(&j), nil
}

// DeleteAccessToken removes an access token if present.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_access_token")
	defer func() { done(err) }()

	var j accessTokenJSON
	if err := s.consumeIndexed(ctx, s.accessTokenKey(token), s.accessTokensIndexKey(), token, "", &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// CleanupExpiredAccessTokens deletes access tokens that expired at or before now.
func (s *Store) CleanupExpiredAccessTokens(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "cleanup_access_tokens")
	defer func() { done(err) }()

	return s.cleanupExpired(ctx, s.accessTokensIndexKey(), s.accessTokenPrefix(), "", now)
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// CreateRefreshToken stores a refresh token and links it to its access token.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("%w: refresh token is required", storage.ErrInvalidRecord)
	}
	if err := validateStringLength(token.Token, MaxTokenLength, "refresh_token"); err != nil {
		return err
	}

	linkKey := ""
	if token.AccessTokenID != "" {
		linkKey = s.refreshByAccessKey(token.AccessTokenID)
	}

	err = s.createIndexed(ctx, s.refreshTokenKey(token.Token), s.refreshTokensIndexKey(), linkKey, token.Token,
		token.ExpiresAt, toRefreshTokenJSON(token))
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: refresh token", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.tracker.Start(ctx, "get_refresh_token")
	defer func() { done(err) }()

	var j refreshTokenJSON
	if err := s.getJSON(ctx, s.refreshTokenKey(token), &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: refresh token", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return fromRefreshTokenJSON(&j), nil
}

// ConsumeRefreshToken atomically retrieves and deletes a refresh token.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.tracker.Start(ctx, "consume_refresh_token")
	defer func() { done(err) }()

	var j refreshTokenJSON
	err = s.consumeIndexed(ctx, s.refreshTokenKey(token), s.refreshTokensIndexKey(), token, s.refreshByAccessPrefix(), &j)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrNotFound)
		}
		return nil, err
	}

	s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return fromRefreshTokenJSON(&j), nil
}

// DeleteRefreshToken removes a refresh token if present.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_refresh_token")
	defer func() { done(err) }()

	var j refreshTokenJSON
	err = s.consumeIndexed(ctx, s.refreshTokenKey(token), s.refreshTokensIndexKey(), token, s.refreshByAccessPrefix(), &j)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteRefreshTokensByAccessToken removes all refresh tokens paired with accessToken.
func (s *Store) DeleteRefreshTokensByAccessToken(ctx context.Context, accessToken string) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "delete_refresh_tokens_by_access_token")
	defer func() { done(err) }()

	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaDeleteRefreshByAccess).
			Numkeys(2).
			Key(s.refreshByAccessKey(accessToken), s.refreshTokensIndexKey()).
			Arg(s.refreshTokenPrefix()).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	return int(n), nil
}

// CleanupExpiredRefreshTokens deletes refresh tokens that expired at or before now.
func (s *Store) CleanupExpiredRefreshTokens(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "cleanup_refresh_tokens")
	defer func() { done(err) }()

	return s.cleanupExpired(ctx, s.refreshTokensIndexKey(), s.refreshTokenPrefix(), s.refreshByAccessPrefix(), now)
}
