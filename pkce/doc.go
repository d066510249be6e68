// Package pkce implements Proof Key for Code Exchange (RFC 7636) helpers:
// verifier generation, challenge derivation and verification, and format
// validation of client supplied verifiers and challenges.
//
// Only the S256 and plain methods exist. Verification of S256 challenges uses
// a constant-time comparison.
package pkce
