// Package oauth is the entry point of the mcpresso OAuth 2.1 authorization
// core. It re-exports the types of package server so that most callers only
// need a single import:
//
//	store := memory.New(logger)
//	srv, err := oauth.New(store, oauth.DefaultConfig("https://auth.example.com"), logger)
//	if err != nil {
//	    return err
//	}
//	resp, err := srv.HandleTokenRequest(ctx, &oauth.TokenRequest{...})
//
// Storage adapters live under storage/, PKCE and token helpers under pkce/
// and token/.
package oauth

import (
	"log/slog"

	"github.com/mcpresso/mcpresso-oauth/server"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

type (
	Server           = server.Server
	Config           = server.Config
	Option           = server.Option
	CleanupScheduler = server.CleanupScheduler

	AuthorizationRequest       = server.AuthorizationRequest
	AuthorizationResult        = server.AuthorizationResult
	TokenRequest               = server.TokenRequest
	TokenResponse              = server.TokenResponse
	IntrospectionResponse      = server.IntrospectionResponse
	RevocationResult           = server.RevocationResult
	UserInfo                   = server.UserInfo
	ClientRegistrationRequest  = server.ClientRegistrationRequest
	ClientRegistrationResponse = server.ClientRegistrationResponse
	CleanupResult              = server.CleanupResult
)

// New creates a Server over store. See server.New.
func New(store storage.Store, config *Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	return server.New(store, config, logger, opts...)
}

// DefaultConfig returns the recommended configuration for issuer.
func DefaultConfig(issuer string) *Config {
	return server.DefaultConfig(issuer)
}

// LoadConfig reads a YAML configuration file. See server.LoadConfig.
func LoadConfig(path string) (*Config, error) {
	return server.LoadConfig(path)
}

var (
	WithInstrumentation = server.WithInstrumentation
	WithAuditor         = server.WithAuditor
	NewCleanupScheduler = server.NewCleanupScheduler
)
