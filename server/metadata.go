package server

import (
	"slices"
	"strings"
)

// Endpoint paths relative to the issuer.
const (
	AuthorizationEndpointPath = "/authorize"
	TokenEndpointPath         = "/token"
	IntrospectionEndpointPath = "/introspect"
	RevocationEndpointPath    = "/revoke"
	UserInfoEndpointPath      = "/userinfo"
	RegistrationEndpointPath  = "/register"
	JWKSEndpointPath          = "/.well-known/jwks.json"
)

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ResourceIndicatorsSupported       bool     `json:"resource_indicators_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 document for ServerURL.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// AuthorizationServerMetadata returns the discovery document. The
// registration endpoint is listed only when registration is enabled.
func (s *Server) AuthorizationServerMetadata() *AuthorizationServerMetadata {
	base := strings.TrimSuffix(s.Config.Issuer, "/")

	md := &AuthorizationServerMetadata{
		Issuer:                 s.Config.Issuer,
		AuthorizationEndpoint:  base + AuthorizationEndpointPath,
		TokenEndpoint:          base + TokenEndpointPath,
		UserInfoEndpoint:       base + UserInfoEndpointPath,
		RevocationEndpoint:     base + RevocationEndpointPath,
		IntrospectionEndpoint:  base + IntrospectionEndpointPath,
		GrantTypesSupported:    slices.Clone(s.Config.SupportedGrantTypes),
		ResponseTypesSupported: slices.Clone(s.Config.SupportedResponseTypes),
		ScopesSupported:        slices.Clone(s.Config.SupportedScopes),
		TokenEndpointAuthMethodsSupported: []string{
			TokenEndpointAuthMethodBasic,
			TokenEndpointAuthMethodPost,
			TokenEndpointAuthMethodNone,
		},
		CodeChallengeMethodsSupported: slices.Clone(s.Config.SupportedCodeChallengeMethods),
		ResourceIndicatorsSupported:   s.Config.RequireResourceIndicator,
	}
	if s.signer != nil {
		md.JWKSURI = base + JWKSEndpointPath
	}
	if s.Config.AllowDynamicClientRegistration {
		md.RegistrationEndpoint = base + RegistrationEndpointPath
	}
	return md
}

// ProtectedResourceMetadata returns the metadata of the resource the
// server issues tokens for.
func (s *Server) ProtectedResourceMetadata() *ProtectedResourceMetadata {
	return &ProtectedResourceMetadata{
		Resource:               s.Config.ServerURL,
		AuthorizationServers:   []string{s.Config.Issuer},
		ScopesSupported:        slices.Clone(s.Config.SupportedScopes),
		BearerMethodsSupported: []string{"header"},
	}
}
