package server

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Grant and response types.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"

	ResponseTypeCode = "code"

	TokenTypeBearer = "Bearer"
)

// Token endpoint authentication methods (RFC 7591 Section 2).
const (
	TokenEndpointAuthMethodNone  = "none"
	TokenEndpointAuthMethodBasic = "client_secret_basic"
	TokenEndpointAuthMethodPost  = "client_secret_post"
)

// Environment variables that override values read by LoadConfig.
const (
	EnvIssuer    = "MCPRESSO_OAUTH_ISSUER"
	EnvServerURL = "MCPRESSO_OAUTH_SERVER_URL"
	EnvJWTSecret = "MCPRESSO_OAUTH_JWT_SECRET" //nolint:gosec // variable name, not a credential
)

// Config holds OAuth server configuration.
//
// Boolean options default to false. DefaultConfig returns the recommended
// settings with PKCE required and refresh tokens enabled.
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string `yaml:"issuer"`

	// ServerURL is the protected resource URL used as the default audience.
	// Default: Issuer
	ServerURL string `yaml:"server_url"`

	// JWTSecret, when set, makes access tokens HMAC-signed JWTs.
	// When empty, access tokens are opaque random strings.
	JWTSecret string `yaml:"jwt_secret"`

	// JWTAlgorithm is one of HS256, HS384, HS512. Default: HS256
	JWTAlgorithm string `yaml:"jwt_algorithm"`

	// RequireResourceIndicator makes the resource parameter (RFC 8707)
	// mandatory on authorization and token requests.
	RequireResourceIndicator bool `yaml:"require_resource_indicator"`

	// RequirePKCE makes code_challenge mandatory on authorization requests.
	RequirePKCE bool `yaml:"require_pkce"`

	// AllowRefreshTokens enables refresh token issuance for clients whose
	// grant types include refresh_token.
	AllowRefreshTokens bool `yaml:"allow_refresh_tokens"`

	// DisableRefreshTokenRotation keeps the presented refresh token valid on
	// use instead of replacing it. Rotation is on unless this is set.
	DisableRefreshTokenRotation bool `yaml:"disable_refresh_token_rotation"`

	// AllowDynamicClientRegistration enables RegisterClient (RFC 7591).
	AllowDynamicClientRegistration bool `yaml:"allow_dynamic_client_registration"`

	// AllowInsecureHTTP permits a non-loopback http issuer and http
	// redirect URIs at registration. Development only.
	AllowInsecureHTTP bool `yaml:"allow_insecure_http"`

	// AccessTokenLifetime is how long access tokens are valid
	AccessTokenLifetime int64 `yaml:"access_token_lifetime"` // seconds, default: 3600 (1 hour)

	// RefreshTokenLifetime is how long refresh tokens are valid
	RefreshTokenLifetime int64 `yaml:"refresh_token_lifetime"` // seconds, default: 3600 (1 hour)

	// AuthorizationCodeLifetime is how long authorization codes are valid
	AuthorizationCodeLifetime int64 `yaml:"authorization_code_lifetime"` // seconds, default: 600 (10 minutes)

	SupportedGrantTypes           []string `yaml:"supported_grant_types"`
	SupportedResponseTypes        []string `yaml:"supported_response_types"`
	SupportedScopes               []string `yaml:"supported_scopes"`
	SupportedCodeChallengeMethods []string `yaml:"supported_code_challenge_methods"`

	// CleanupInterval is the period of the CleanupScheduler. Default: 5m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// AuditEnabled turns on security audit records.
	AuditEnabled bool `yaml:"audit_enabled"`

	// Now is the clock used for issuance and expiry checks. Default: time.Now
	Now func() time.Time `yaml:"-"`
}

// Defaults applied by applySecureDefaults.
const (
	DefaultAccessTokenLifetime       int64 = 3600
	DefaultRefreshTokenLifetime      int64 = 3600
	DefaultAuthorizationCodeLifetime int64 = 600
)

const (
	DefaultCleanupInterval = 5 * time.Minute
	MinJWTSecretLength     = 32
)

var (
	defaultSupportedScopes        = []string{"read", "write", "openid", "profile", "email"}
	defaultSupportedGrantTypes    = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials}
	defaultSupportedResponseTypes = []string{ResponseTypeCode}
	defaultChallengeMethods       = []string{"S256", "plain"}
)

// DefaultConfig returns the recommended configuration for issuer.
func DefaultConfig(issuer string) *Config {
	cfg := &Config{
		Issuer:             issuer,
		RequirePKCE:        true,
		AllowRefreshTokens: true,
		AuditEnabled:       true,
	}
	applySecureDefaults(cfg)
	return cfg
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig and
// then applies MCPRESSO_OAUTH_* environment overrides. The result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig("")

	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applySecureDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvIssuer); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.JWTSecret = v
	}
}

// SupportsGrantType reports whether grantType is enabled.
func (c *Config) SupportsGrantType(grantType string) bool {
	return slices.Contains(c.SupportedGrantTypes, grantType)
}

// SupportsResponseType reports whether responseType is enabled.
func (c *Config) SupportsResponseType(responseType string) bool {
	return slices.Contains(c.SupportedResponseTypes, responseType)
}

// SupportsChallengeMethod reports whether method is an enabled PKCE method.
func (c *Config) SupportsChallengeMethod(method string) bool {
	return slices.Contains(c.SupportedCodeChallengeMethods, method)
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenLifetime) * time.Second
}

func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenLifetime) * time.Second
}

func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeLifetime) * time.Second
}
