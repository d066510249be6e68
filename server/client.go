package server

import (
	"context"
	"errors"

	"github.com/mcpresso/mcpresso-oauth/security"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// lookupClient returns the client, invalid_client when it is unknown, or a
// storage fault.
func (s *Server) lookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, NewError(ErrorCodeInvalidClient, "client_id parameter is required")
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure(ctx, "", clientID, "unknown_client")
			return nil, NewError(ErrorCodeInvalidClient, "Client not found")
		}
		return nil, s.storageFault(ctx, "get client", err)
	}
	return client, nil
}

// authenticateClient looks the client up and, for confidential clients,
// verifies the presented secret with bcrypt. Public clients carry no secret.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, err := s.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if client.IsConfidential() {
		if err := security.VerifyClientSecret(client.SecretHash, clientSecret); err != nil {
			s.Auditor.LogAuthFailure(ctx, "", clientID, "invalid_client_secret")
			return nil, NewError(ErrorCodeInvalidClient, "Invalid client credentials")
		}
	}
	return client, nil
}

// requireGrantType rejects clients not registered for grantType.
func (s *Server) requireGrantType(ctx context.Context, client *storage.Client, grantType string) error {
	if client.HasGrantType(grantType) {
		return nil
	}
	s.Auditor.LogAuthFailure(ctx, "", client.ID, "grant_type_not_allowed:"+grantType)
	return errorf(ErrorCodeUnauthorizedClient, "Client not authorized for %s grant", grantType)
}

// GetClient returns a registered client. Unknown clients are invalid_client.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.lookupClient(ctx, clientID)
}

// ValidateClientCredentials authenticates a client without issuing anything.
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	_, err := s.authenticateClient(ctx, clientID, clientSecret)
	return err
}
