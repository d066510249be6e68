// Package server implements the OAuth 2.1 authorization core.
//
// A Server is built over an injected storage.Store and exposes transport
// independent handlers:
//
//   - HandleAuthorizationRequest mints PKCE-bound authorization codes
//   - HandleTokenRequest serves the authorization_code, refresh_token and
//     client_credentials grants
//   - IntrospectToken and RevokeToken (RFC 7662, RFC 7009)
//   - GetUserInfo, RegisterClient (RFC 7591) and the discovery documents
//   - Cleanup and CleanupScheduler for expired records
//
// Protocol failures are returned as *Error; callers distinguish them from
// storage faults with AsError:
//
//	resp, err := srv.HandleTokenRequest(ctx, req)
//	if oauthErr, ok := server.AsError(err); ok {
//	    // respond with oauthErr.Status and {error, error_description}
//	} else if err != nil {
//	    // internal failure, respond 500
//	}
//
// Authorization codes and rotated refresh tokens are redeemed through the
// store's atomic consume operations, so concurrent redemption of the same
// credential succeeds at most once.
package server
