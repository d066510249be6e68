// Package token provides the token codec used by the authorization server:
// random opaque values for codes and tokens, HMAC-signed JWT access tokens,
// and scope string helpers.
package token
