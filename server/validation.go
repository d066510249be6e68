package server

import (
	"github.com/mcpresso/mcpresso-oauth/pkce"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// validateRedirectURI requires an exact match against the client's
// registered redirect URIs (OAuth 2.1 Section 4.1.1).
func validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return NewError(ErrorCodeInvalidRequest, "redirect_uri parameter is required")
	}
	if !client.HasRedirectURI(redirectURI) {
		return NewError(ErrorCodeInvalidRequest, "redirect_uri is not registered for this client")
	}
	return nil
}

// allowedScopes is the most a request for client on behalf of user may be
// granted: the client's scopes, limited to the supported scopes and, when
// the user carries any, to the user's scopes.
func (s *Server) allowedScopes(client *storage.Client, user *storage.User) []string {
	allowed := client.Scopes
	if len(s.Config.SupportedScopes) > 0 {
		allowed = token.ScopeIntersection(allowed, s.Config.SupportedScopes)
	}
	if user != nil && len(user.Scopes) > 0 {
		allowed = token.ScopeIntersection(allowed, user.Scopes)
	}
	return allowed
}

// grantScope resolves the requested scope string against allowed. An empty
// request grants everything allowed; a request sharing nothing with allowed
// is invalid_scope.
func grantScope(requested string, allowed []string) (string, error) {
	req := token.SplitScope(requested)
	if len(req) == 0 {
		return token.JoinScope(allowed), nil
	}

	granted := token.ScopeIntersection(req, allowed)
	if len(granted) == 0 {
		return "", errorf(ErrorCodeInvalidScope, "requested scope %q is not allowed", requested)
	}
	return token.JoinScope(granted), nil
}

// validateChallengeParams checks the PKCE parameters of an authorization
// request and returns the effective challenge method.
func (s *Server) validateChallengeParams(challenge, method string) (string, error) {
	if challenge == "" {
		if s.Config.RequirePKCE {
			return "", NewError(ErrorCodeInvalidRequest, "code_challenge parameter is required")
		}
		if method != "" {
			return "", NewError(ErrorCodeInvalidRequest, "code_challenge_method provided without code_challenge")
		}
		return "", nil
	}

	// RFC 7636 Section 4.3: the method defaults to plain when omitted.
	if method == "" {
		method = pkce.MethodPlain
	}
	if !s.Config.SupportsChallengeMethod(method) {
		return "", errorf(ErrorCodeInvalidRequest, "code_challenge_method %q is not supported", method)
	}
	if err := pkce.ValidateChallenge(challenge); err != nil {
		return "", errorf(ErrorCodeInvalidRequest, "code_challenge is malformed: %v", err)
	}
	return method, nil
}

// verifyCodeVerifier checks verifier against the code's stored challenge.
// Malformed verifiers are rejected before any comparison.
func (s *Server) verifyCodeVerifier(code *storage.AuthorizationCode, verifier string) error {
	if code.CodeChallenge == "" {
		if s.Config.RequirePKCE {
			return NewError(ErrorCodeInvalidGrant, "authorization code was issued without a code_challenge")
		}
		return nil
	}
	if verifier == "" {
		return NewError(ErrorCodeInvalidRequest, "code_verifier parameter is required")
	}
	if err := pkce.ValidateVerifier(verifier); err != nil {
		return errorf(ErrorCodeInvalidRequest, "code_verifier is malformed: %v", err)
	}
	if !pkce.VerifyChallenge(verifier, code.CodeChallenge, code.CodeChallengeMethod) {
		return NewError(ErrorCodeInvalidGrant, "Invalid code verifier")
	}
	return nil
}
