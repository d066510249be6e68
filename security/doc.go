// Package security provides the security plumbing of the authorization
// server: the audit logger for security relevant events, the per-key rate
// limiter that keeps repeated failures from flooding the audit log, and
// bcrypt hashing and constant-time verification of client secrets.
//
// # Audit Logging
//
// Every record is logged at Info level under the message "security_audit".
// User identifiers are replaced by a truncated SHA-256 hash so logs can be
// correlated without carrying PII:
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.LogTokenIssued(ctx, userID, clientID, "authorization_code", scope)
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per key with LRU eviction at maxEntries.
// It has no goroutine of its own; idle limiters are dropped by Cleanup, which
// the server calls from its cleanup sweep.
package security
