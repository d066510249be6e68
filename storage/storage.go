package storage

import (
	"context"
	"time"
)

// ClientStore manages OAuth client registrations.
// Get, Update and Delete return ErrNotFound for unknown ids.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID string) error
}

// UserStore exposes the identity store's users.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, userID string) error
}

// AuthorizationCodeStore persists authorization codes.
//
// Get and Consume return records regardless of expiry; callers check
// ExpiresAt. Delete of an absent code is not an error.
type AuthorizationCodeStore interface {
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically retrieves and deletes a code.
	// Concurrent callers for the same code: one gets the record, the rest ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	DeleteAuthorizationCode(ctx context.Context, code string) error

	// CleanupExpiredAuthorizationCodes deletes codes expiring at or before now.
	CleanupExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int, error)
}

// AccessTokenStore persists issued access tokens.
type AccessTokenStore interface {
	CreateAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
	DeleteAccessToken(ctx context.Context, token string) error
	CleanupExpiredAccessTokens(ctx context.Context, now time.Time) (int, error)
}

// RefreshTokenStore persists refresh tokens.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically retrieves and deletes a refresh token,
	// giving rotation the same exactly-once guarantee as code exchange.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	DeleteRefreshToken(ctx context.Context, token string) error

	// DeleteRefreshTokensByAccessToken removes every refresh token whose
	// AccessTokenID is accessToken and returns how many were removed.
	DeleteRefreshTokensByAccessToken(ctx context.Context, accessToken string) (int, error)

	CleanupExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error)
}

// StatsProvider reports record counts.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Store is the full contract consumed by the server.
type Store interface {
	ClientStore
	UserStore
	AuthorizationCodeStore
	AccessTokenStore
	RefreshTokenStore
	StatsProvider
}
