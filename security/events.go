package security

// Event type constants for security audit logging.
const (
	// EventTokenIssued is logged when an access token is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is issued from a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by its client
	EventTokenRevoked = "token_revoked"

	// EventAuthorizationCodeIssued is logged when the authorization endpoint mints a code
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a code is presented
	// after another request consumed it
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventClientRegistered is logged when a client is registered dynamically
	EventClientRegistered = "client_registered"

	// EventAuthFailure is logged when client authentication or a grant check fails
	EventAuthFailure = "auth_failure"

	// EventInvalidPKCE is logged when a code verifier does not match its challenge
	EventInvalidPKCE = "invalid_pkce"

	// EventRevocationDenied is logged when a client tries to revoke another client's token
	EventRevocationDenied = "revocation_denied"
)
