package sqlstore

import (
	"time"

	"github.com/mcpresso/mcpresso-oauth/storage"
)

type clientModel struct {
	ID           string `gorm:"primaryKey"`
	SecretHash   string
	Name         string
	Type         string
	RedirectURIs []string  `gorm:"type:text;serializer:json"`
	Scopes       []string  `gorm:"type:text;serializer:json"`
	GrantTypes   []string  `gorm:"type:text;serializer:json"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (clientModel) TableName() string { return "oauth_clients" }

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"index"`
	Email     string
	Scopes    []string          `gorm:"type:text;serializer:json"`
	Profile   map[string]string `gorm:"type:text;serializer:json"`
	CreatedAt time.Time         `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime:false"`
}

func (userModel) TableName() string { return "oauth_users" }

type authorizationCodeModel struct {
	Code                string `gorm:"primaryKey"`
	ClientID            string `gorm:"index"`
	UserID              string
	RedirectURI         string
	Scope               string
	Resource            string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt           time.Time `gorm:"index"`
}

func (authorizationCodeModel) TableName() string { return "oauth_authorization_codes" }

type accessTokenModel struct {
	Token     string `gorm:"primaryKey"`
	ClientID  string `gorm:"index"`
	UserID    string
	Scope     string
	Audience  string
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt time.Time `gorm:"index"`
}

func (accessTokenModel) TableName() string { return "oauth_access_tokens" }

type refreshTokenModel struct {
	Token         string `gorm:"primaryKey"`
	AccessTokenID string `gorm:"index"`
	ClientID      string `gorm:"index"`
	UserID        string
	Scope         string
	Audience      string
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt     time.Time `gorm:"index"`
}

func (refreshTokenModel) TableName() string { return "oauth_refresh_tokens" }

func allModels() []any {
	return []any{
		&clientModel{},
		&userModel{},
		&authorizationCodeModel{},
		&accessTokenModel{},
		&refreshTokenModel{},
	}
}

// Timestamps are stored in UTC so that expiry comparisons on text-backed
// time columns (SQLite) order correctly.

func fromStorageClient(c *storage.Client) *clientModel {
	return &clientModel{
		ID:           c.ID,
		SecretHash:   c.SecretHash,
		Name:         c.Name,
		Type:         string(c.Type),
		RedirectURIs: c.RedirectURIs,
		Scopes:       c.Scopes,
		GrantTypes:   c.GrantTypes,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
}

func toStorageClient(m *clientModel) *storage.Client {
	return &storage.Client{
		ID:           m.ID,
		SecretHash:   m.SecretHash,
		Name:         m.Name,
		Type:         storage.ClientType(m.Type),
		RedirectURIs: m.RedirectURIs,
		Scopes:       m.Scopes,
		GrantTypes:   m.GrantTypes,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func fromStorageUser(u *storage.User) *userModel {
	return &userModel{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Scopes:    u.Scopes,
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt.UTC(),
		UpdatedAt: u.UpdatedAt.UTC(),
	}
}

func toStorageUser(m *userModel) *storage.User {
	return &storage.User{
		ID:        m.ID,
		Username:  m.Username,
		Email:     m.Email,
		Scopes:    m.Scopes,
		Profile:   m.Profile,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func fromStorageCode(c *storage.AuthorizationCode) *authorizationCodeModel {
	return &authorizationCodeModel{
		Code:                c.Code,
		ClientID:            c.ClientID,
		UserID:              c.UserID,
		RedirectURI:         c.RedirectURI,
		Scope:               c.Scope,
		Resource:            c.Resource,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		CreatedAt:           c.CreatedAt.UTC(),
		ExpiresAt:           c.ExpiresAt.UTC(),
	}
}

func toStorageCode(m *authorizationCodeModel) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                m.Code,
		ClientID:            m.ClientID,
		UserID:              m.UserID,
		RedirectURI:         m.RedirectURI,
		Scope:               m.Scope,
		Resource:            m.Resource,
		CodeChallenge:       m.CodeChallenge,
		CodeChallengeMethod: m.CodeChallengeMethod,
		CreatedAt:           m.CreatedAt,
		ExpiresAt:           m.ExpiresAt,
	}
}

func fromStorageAccessToken(t *storage.AccessToken) *accessTokenModel {
	return &accessTokenModel{
		Token:     t.Token,
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Scope:     t.Scope,
		Audience:  t.Audience,
		CreatedAt: t.CreatedAt.UTC(),
		ExpiresAt: t.ExpiresAt.UTC(),
	}
}

func toStorageAccessToken(m *accessTokenModel) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     m.Token,
		ClientID:  m.ClientID,
		UserID:    m.UserID,
		Scope:     m.Scope,
		Audience:  m.Audience,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func fromStorageRefreshToken(t *storage.RefreshToken) *refreshTokenModel {
	return &refreshTokenModel{
		Token:         t.Token,
		AccessTokenID: t.AccessTokenID,
		ClientID:      t.ClientID,
		UserID:        t.UserID,
		Scope:         t.Scope,
		Audience:      t.Audience,
		CreatedAt:     t.CreatedAt.UTC(),
		ExpiresAt:     t.ExpiresAt.UTC(),
	}
}

func toStorageRefreshToken(m *refreshTokenModel) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:         m.Token,
		AccessTokenID: m.AccessTokenID,
		ClientID:      m.ClientID,
		UserID:        m.UserID,
		Scope:         m.Scope,
		Audience:      m.Audience,
		CreatedAt:     m.CreatedAt,
		ExpiresAt:     m.ExpiresAt,
	}
}
