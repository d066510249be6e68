package oauth

import "github.com/mcpresso/mcpresso-oauth/server"

// Error is an OAuth protocol error returned by the Server handlers.
type Error = server.Error

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeInvalidRedirectURI      = server.ErrorCodeInvalidRedirectURI
	ErrorCodeInvalidClientMetadata   = server.ErrorCodeInvalidClientMetadata
	ErrorCodeServerError             = server.ErrorCodeServerError
)

// AsError reports whether err is, or wraps, an OAuth protocol error.
func AsError(err error) (*Error, bool) {
	return server.AsError(err)
}

// ErrorCode returns the OAuth error code for err. Errors that are not
// protocol errors map to server_error.
func ErrorCode(err error) string {
	return server.ErrorCode(err)
}

// Grant types accepted by TokenRequest.GrantType.
const (
	GrantTypeAuthorizationCode = server.GrantTypeAuthorizationCode
	GrantTypeRefreshToken      = server.GrantTypeRefreshToken
	GrantTypeClientCredentials = server.GrantTypeClientCredentials
)
