package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	limiter *RateLimiter
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetRateLimiter throttles auth_failure and invalid_pkce records per client.
// Throttled records are counted instead of logged.
func (a *Auditor) SetRateLimiter(rl *RateLimiter) {
	a.limiter = rl
}

// SetMetrics enables audit event counters.
func (a *Auditor) SetMetrics(m *instrumentation.Metrics) {
	a.metrics = m
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if !a.enabled {
		return
	}

	if a.limiter != nil && isThrottled(event.Type) && !a.limiter.Allow(event.Type+":"+event.ClientID) {
		if a.metrics != nil {
			a.metrics.RecordAuditEventDropped(ctx, event.Type)
		}
		return
	}

	event.Timestamp = a.now()

	a.logger.InfoContext(ctx, "security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}
}

// LogAuthorizationCodeIssued logs when a code is minted
func (a *Auditor) LogAuthorizationCodeIssued(ctx context.Context, userID, clientID, scope string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(ctx context.Context, userID, clientID, grantType, scope string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(ctx context.Context, userID, clientID string, rotated bool) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(ctx context.Context, userID, clientID, tokenType string, cascaded int) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRevoked,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"token_type":             tokenType,
			"refresh_tokens_revoked": cascaded,
		},
	})
}

// LogRevocationDenied logs an attempt to revoke a token owned by another client
func (a *Auditor) LogRevocationDenied(ctx context.Context, callerClientID, ownerClientID string) {
	a.LogEvent(ctx, Event{
		Type:     EventRevocationDenied,
		ClientID: callerClientID,
		Details: map[string]any{
			"owner_client_id": ownerClientID,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(ctx context.Context, userID, clientID, reason string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthFailure,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidPKCE logs a failed code verifier check
func (a *Auditor) LogInvalidPKCE(ctx context.Context, userID, clientID, method string) {
	a.LogEvent(ctx, Event{
		Type:     EventInvalidPKCE,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"method": method,
		},
	})
}

// LogCodeReuseDetected logs a code that was consumed by a concurrent request
func (a *Auditor) LogCodeReuseDetected(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationCodeReuseDetected,
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(ctx context.Context, clientID, clientType string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientRegistered,
		ClientID: clientID,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

func isThrottled(eventType string) bool {
	return eventType == EventAuthFailure || eventType == EventInvalidPKCE
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
