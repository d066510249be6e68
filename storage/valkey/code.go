package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	Resource            string    `json:"resource,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		Resource:            code.Resource,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt,
		ExpiresAt:           code.ExpiresAt,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		Resource:            j.Resource,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           j.CreatedAt,
		ExpiresAt:           j.ExpiresAt,
	}
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// CreateAuthorizationCode stores a newly minted code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: authorization code is required", storage.ErrInvalidRecord)
	}
	if err := validateStringLength(code.Code, MaxTokenLength, "code"); err != nil {
		return err
	}

	err = s.createIndexed(ctx, s.codeKey(code.Code), s.codesIndexKey(), "", code.Code,
		code.ExpiresAt, toAuthorizationCodeJSON(code))
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: authorization code", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.tracker.Start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	var j authorizationCodeJSON
	if err := s.getJSON(ctx, s.codeKey(code), &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return fromAuthorizationCodeJSON(&j), nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes a code.
// Only ONE concurrent caller gets the record; the rest get storage.ErrNotFound.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.tracker.Start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	var j authorizationCodeJSON
	if err := s.consumeIndexed(ctx, s.codeKey(code), s.codesIndexKey(), code, "", &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
		}
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return fromAuthorizationCodeJSON(&j), nil
}

// DeleteAuthorizationCode removes a code if present.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	var j authorizationCodeJSON
	if err := s.consumeIndexed(ctx, s.codeKey(code), s.codesIndexKey(), code, "", &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// CleanupExpiredAuthorizationCodes deletes codes that expired at or before now.
func (s *Store) CleanupExpiredAuthorizationCodes(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "cleanup_authorization_codes")
	defer func() { done(err) }()

	return s.cleanupExpired(ctx, s.codesIndexKey(), s.codePrefix(), "", now)
}
