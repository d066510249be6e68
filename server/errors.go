package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes (RFC 6749 Section 5.2, RFC 6750, RFC 7591).
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata   = "invalid_client_metadata"
	ErrorCodeServerError             = "server_error"
)

// Error is an OAuth protocol error. Handlers return it through their error
// result; any other error they return is a storage or internal fault.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	// Status is the HTTP status an HTTP binding should respond with.
	Status int `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewError returns an Error for code with the status that code maps to.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description, Status: statusForCode(code)}
}

func errorf(code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// AsError reports whether err is (or wraps) a protocol error and returns it.
func AsError(err error) (*Error, bool) {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr, true
	}
	return nil, false
}

// ErrorCode returns the OAuth error code carried by err. Errors that are not
// protocol errors map to server_error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if oauthErr, ok := AsError(err); ok {
		return oauthErr.Code
	}
	return ErrorCodeServerError
}

func statusForCode(code string) int {
	switch code {
	case ErrorCodeInvalidClient, ErrorCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
