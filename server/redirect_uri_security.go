package server

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/mcpresso/mcpresso-oauth/internal/util"
)

// RedirectURISecurityError represents a redirect URI validation error
// with detailed information for operators while keeping error messages generic for clients.
type RedirectURISecurityError struct {
	// Category is the error category for logging/metrics
	Category string
	// URI is the offending redirect URI (sanitized for logging)
	URI string
	// Reason is the detailed internal reason (for logs, not returned to client)
	Reason string
	// ClientMessage is the message safe to return to clients
	ClientMessage string
}

func (e *RedirectURISecurityError) Error() string {
	return e.ClientMessage
}

// Redirect URI security error categories for metrics and logging.
const (
	RedirectURIErrorCategoryBlockedScheme   = "blocked_scheme"
	RedirectURIErrorCategoryPrivateIP       = "private_ip"
	RedirectURIErrorCategoryLinkLocal       = "link_local"
	RedirectURIErrorCategoryHTTPNotAllowed  = "http_not_allowed"
	RedirectURIErrorCategoryInvalidFormat   = "invalid_format"
	RedirectURIErrorCategoryFragment        = "fragment_not_allowed"
	RedirectURIErrorCategoryUnspecifiedAddr = "unspecified_address"
)

// customSchemePattern is the RFC 3986 scheme grammar:
// ALPHA *( ALPHA / DIGIT / "+" / "-" / "." )
var customSchemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// validateRegistrationRedirectURI checks a redirect URI offered at dynamic
// registration (OAuth 2.0 Security BCP Section 4.1, RFC 8252 for native
// apps). Exact matching at authorization time is separate.
func (s *Server) validateRegistrationRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        fmt.Sprintf("not an absolute URI: %v", err),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	// Fragments are prohibited (RFC 6749 Section 3.1.2)
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryFragment,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        "URI contains fragment",
			ClientMessage: "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if util.IsDangerousScheme(scheme) {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        fmt.Sprintf("scheme '%s' is blocked", scheme),
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is blocked for security reasons", scheme),
		}
	}

	if scheme == "http" || scheme == "https" {
		return s.validateHTTPRedirectURI(parsed)
	}

	if !customSchemePattern.MatchString(scheme) {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        "scheme does not follow RFC 3986",
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is not allowed", scheme),
		}
	}
	return nil
}

// validateHTTPRedirectURI allows https anywhere public and http only on
// loopback (RFC 8252 Section 7.3) unless AllowInsecureHTTP is set.
func (s *Server) validateHTTPRedirectURI(parsed *url.URL) error {
	hostname := parsed.Hostname()
	if hostname == "" {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           sanitizeURIForLogging(parsed.String()),
			Reason:        "missing host",
			ClientMessage: "redirect_uri: host is required",
		}
	}
	if util.IsLoopbackHostname(hostname) {
		return nil
	}

	if parsed.Scheme == "http" && !s.Config.AllowInsecureHTTP {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryHTTPNotAllowed,
			URI:           sanitizeURIForLogging(parsed.String()),
			Reason:        "http on a non-loopback host",
			ClientMessage: "redirect_uri: HTTPS is required (HTTP only allowed for localhost)",
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return s.validateIPAddress(ip, hostname)
	}
	return nil
}

// validateIPAddress rejects literal addresses that reach internal networks
// or cloud metadata services.
func (s *Server) validateIPAddress(ip net.IP, hostname string) error {
	if ip.IsUnspecified() {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryUnspecifiedAddr,
			Reason:        fmt.Sprintf("IP %s is unspecified", hostname),
			ClientMessage: "redirect_uri: unspecified addresses (0.0.0.0, ::) are not allowed",
		}
	}
	if s.Config.AllowInsecureHTTP {
		return nil
	}
	if ip.IsPrivate() {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryPrivateIP,
			Reason:        fmt.Sprintf("IP %s is in private range (RFC 1918)", hostname),
			ClientMessage: "redirect_uri: private IP addresses are not allowed",
		}
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryLinkLocal,
			Reason:        fmt.Sprintf("IP %s is link-local", hostname),
			ClientMessage: "redirect_uri: link-local addresses are not allowed",
		}
	}
	return nil
}

// sanitizeURIForLogging strips query, fragment and userinfo.
func sanitizeURIForLogging(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return util.SafeTruncate(uri, 100)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed.String()
}
