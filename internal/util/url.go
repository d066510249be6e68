package util

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// DangerousSchemes lists URI schemes that are never acceptable as redirect targets.
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// IsLoopbackHostname reports whether hostname (without port, as returned by
// url.URL.Hostname) is localhost or a loopback IP. 0.0.0.0 is not loopback.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	clean := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// IsSecureURL reports whether raw is an absolute https URL, or http on a
// loopback host.
func IsSecureURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		return IsLoopbackHostname(u.Hostname())
	}
	return false
}

// IsDangerousScheme reports whether scheme can execute or read local content.
func IsDangerousScheme(scheme string) bool {
	return slices.Contains(DangerousSchemes, strings.ToLower(scheme))
}
