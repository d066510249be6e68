package storage

import (
	"slices"
	"time"
)

// ClientType distinguishes clients holding a secret from those that cannot.
type ClientType string

const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// Client is a registered OAuth client.
type Client struct {
	ID string
	// SecretHash is the bcrypt hash of the client secret; empty for public clients.
	SecretHash   string
	Name         string
	Type         ClientType
	RedirectURIs []string
	Scopes       []string
	GrantTypes   []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsConfidential reports whether the client must authenticate with a secret.
func (c *Client) IsConfidential() bool {
	return c.Type == ClientTypeConfidential
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// HasGrantType reports whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// User is an end user known to the external identity store.
type User struct {
	ID       string
	Username string
	Email    string
	// Scopes is the maximum set of scopes grantable on behalf of the user.
	Scopes    []string
	Profile   map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthorizationCode is a single-use code minted by the authorization endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	Resource            string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// IsExpired reports whether the code is past its expiry at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AccessToken is an issued bearer token. UserID is empty for client_credentials.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	Audience  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the token is past its expiry at now.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshToken is paired with the access token it was issued alongside.
type RefreshToken struct {
	Token string
	// AccessTokenID references AccessToken.Token. The reference is not
	// owning: the access token may already be gone.
	AccessTokenID string
	ClientID      string
	UserID        string
	Scope         string
	Audience      string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Stats counts stored records.
type Stats struct {
	Clients            int `json:"clients"`
	Users              int `json:"users"`
	AuthorizationCodes int `json:"authorization_codes"`
	AccessTokens       int `json:"access_tokens"`
	RefreshTokens      int `json:"refresh_tokens"`
}
