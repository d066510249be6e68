package server

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/mcpresso/mcpresso-oauth/security"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// RegisterClient performs dynamic client registration (RFC 7591).
// Confidential clients receive a generated secret exactly once; only its
// bcrypt hash is stored.
func (s *Server) RegisterClient(ctx context.Context, req *ClientRegistrationRequest) (resp *ClientRegistrationResponse, err error) {
	ctx, _, done := s.startSpan(ctx, "server.register", "register")
	defer func() { done(err) }()

	if !s.Config.AllowDynamicClientRegistration {
		return nil, NewError(ErrorCodeAccessDenied, "Dynamic client registration is not supported")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, NewError(ErrorCodeInvalidRedirectURI, "redirect_uris is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := s.validateRegistrationRedirectURI(uri); err != nil {
			if secErr, ok := err.(*RedirectURISecurityError); ok {
				s.Logger.WarnContext(ctx, "Rejected redirect URI at registration",
					"category", secErr.Category,
					"uri", secErr.URI,
					"reason", secErr.Reason)
			}
			return nil, NewError(ErrorCodeInvalidRedirectURI, err.Error())
		}
	}

	clientType, authMethod := resolveClientTypeAndAuthMethod(req.ClientType, req.TokenEndpointAuthMethod)

	grantTypes, err := s.registrationGrantTypes(req.GrantTypes, clientType)
	if err != nil {
		return nil, err
	}

	scopes := s.Config.SupportedScopes
	if req.Scope != "" {
		scopes = token.ScopeIntersection(token.SplitScope(req.Scope), s.Config.SupportedScopes)
		if len(scopes) == 0 {
			return nil, errorf(ErrorCodeInvalidClientMetadata, "scope %q contains no supported scopes", req.Scope)
		}
	}

	id := uuid.NewString()
	secret, hash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, err
	}

	name := req.ClientName
	if name == "" {
		name = "Dynamic Client " + id
	}

	now := s.now()
	client := &storage.Client{
		ID:           id,
		SecretHash:   hash,
		Name:         name,
		Type:         clientType,
		RedirectURIs: slices.Clone(req.RedirectURIs),
		Scopes:       slices.Clone(scopes),
		GrantTypes:   grantTypes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, s.storageFault(ctx, "create client", err)
	}

	s.metrics.RecordClientRegistration(ctx, string(clientType))
	s.Auditor.LogClientRegistered(ctx, id, string(clientType))

	return &ClientRegistrationResponse{
		ClientID:                id,
		ClientSecret:            secret,
		ClientIDIssuedAt:        now.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           []string{ResponseTypeCode},
		Scope:                   token.JoinScope(client.Scopes),
		TokenEndpointAuthMethod: authMethod,
	}, nil
}

// resolveClientTypeAndAuthMethod determines the client type and auth method.
// Per RFC 7591 Section 2: token_endpoint_auth_method determines client type.
func resolveClientTypeAndAuthMethod(clientType, tokenEndpointAuthMethod string) (storage.ClientType, string) {
	resolved := storage.ClientType(clientType)
	if tokenEndpointAuthMethod == TokenEndpointAuthMethodNone {
		resolved = storage.ClientTypePublic
	} else if resolved != storage.ClientTypePublic {
		resolved = storage.ClientTypeConfidential
	}

	if tokenEndpointAuthMethod == "" {
		if resolved == storage.ClientTypePublic {
			tokenEndpointAuthMethod = TokenEndpointAuthMethodNone
		} else {
			tokenEndpointAuthMethod = TokenEndpointAuthMethodBasic
		}
	}
	return resolved, tokenEndpointAuthMethod
}

// registrationGrantTypes filters requested grant types to the supported
// ones. Public clients never get client_credentials.
func (s *Server) registrationGrantTypes(requested []string, clientType storage.ClientType) ([]string, error) {
	if len(requested) == 0 {
		requested = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}

	var out []string
	for _, gt := range requested {
		if !s.Config.SupportsGrantType(gt) || slices.Contains(out, gt) {
			continue
		}
		if gt == GrantTypeClientCredentials && clientType == storage.ClientTypePublic {
			continue
		}
		out = append(out, gt)
	}
	if len(out) == 0 {
		return nil, errorf(ErrorCodeInvalidClientMetadata, "grant_types %v contains no supported grant type", requested)
	}
	return out, nil
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType storage.ClientType) (string, string, error) {
	if clientType != storage.ClientTypeConfidential {
		return "", "", nil
	}

	secret, err := token.RandomToken(randomTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	hash, err := security.HashClientSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}
