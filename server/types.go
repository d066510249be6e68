package server

// AuthorizationRequest is a decoded authorization endpoint request.
// UserID is the end user resolved by the login collaborator before the
// request reaches the server.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	Resource            string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	UserID              string
}

// AuthorizationResult is a successful authorization response.
type AuthorizationResult struct {
	// RedirectURL is the client redirect URI carrying code and state.
	RedirectURL string
	Code        string
	State       string
}

// TokenRequest is a decoded token endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Scope        string
	Resource     string
}

// TokenResponse is a successful token endpoint response (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token kinds reported by introspection and revocation.
const (
	TokenKindAccess  = "access_token"
	TokenKindRefresh = "refresh_token"
)

// IntrospectionResponse follows RFC 7662 Section 2.2. Inactive responses
// carry only Active.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// RevocationResult reports whether a revocation was accepted.
type RevocationResult struct {
	Success bool `json:"success"`
}

// UserInfo is the user info response for a bearer access token.
type UserInfo struct {
	Sub      string            `json:"sub"`
	Username string            `json:"name,omitempty"`
	Email    string            `json:"email,omitempty"`
	Scope    string            `json:"scope,omitempty"`
	Profile  map[string]string `json:"profile,omitempty"`
}

// ClientRegistrationRequest is an RFC 7591 registration request.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	ClientType              string   `json:"client_type,omitempty"`
}

// ClientRegistrationResponse is an RFC 7591 registration response.
// ClientSecret is only ever returned here; the server keeps its hash.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// CleanupResult counts records removed by one cleanup pass.
type CleanupResult struct {
	AuthorizationCodes int `json:"authorization_codes"`
	AccessTokens       int `json:"access_tokens"`
	RefreshTokens      int `json:"refresh_tokens"`
	AuditLimiterKeys   int `json:"audit_limiter_keys"`
}

// Total returns the number of storage records removed.
func (r CleanupResult) Total() int {
	return r.AuthorizationCodes + r.AccessTokens + r.RefreshTokens
}
