package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments
type Metrics struct {
	// OAuth Flow Metrics
	AuthorizationCodeIssued metric.Int64Counter
	TokenIssued             metric.Int64Counter
	TokenRefreshed          metric.Int64Counter
	TokenRevoked            metric.Int64Counter
	Introspections          metric.Int64Counter
	OAuthErrors             metric.Int64Counter
	ClientRegistered        metric.Int64Counter
	CleanupRemoved          metric.Int64Counter

	// Security Metrics
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter
	AuditEventsDropped   metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal          metric.Int64Counter
	StorageOperationDuration       metric.Float64Histogram
	StorageClientsCount            metric.Int64ObservableGauge
	StorageUsersCount              metric.Int64ObservableGauge
	StorageAuthorizationCodesCount metric.Int64ObservableGauge
	StorageAccessTokensCount       metric.Int64ObservableGauge
	StorageRefreshTokensCount      metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}
	counters := []struct {
		dst   *metric.Int64Counter
		meter metric.Meter
		name  string
		desc  string
		unit  string
	}{
		{&m.AuthorizationCodeIssued, serverMeter, "oauth.authorization_code.issued", "Number of authorization codes issued", "{code}"},
		{&m.TokenIssued, serverMeter, "oauth.token.issued", "Number of access tokens issued", "{token}"},
		{&m.TokenRefreshed, serverMeter, "oauth.token.refreshed", "Number of tokens refreshed", "{refresh}"},
		{&m.TokenRevoked, serverMeter, "oauth.token.revoked", "Number of tokens revoked", "{revocation}"},
		{&m.Introspections, serverMeter, "oauth.introspection.total", "Number of token introspections", "{introspection}"},
		{&m.OAuthErrors, serverMeter, "oauth.errors.total", "Number of OAuth protocol errors returned", "{error}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.CleanupRemoved, serverMeter, "oauth.cleanup.removed", "Number of expired records removed by cleanup", "{record}"},
		{&m.PKCEValidationFailed, securityMeter, "oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"},
		{&m.CodeReuseDetected, securityMeter, "oauth.code.reuse_detected", "Number of authorization code reuse attempts detected", "{attempt}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Total number of audit events", "{event}"},
		{&m.AuditEventsDropped, securityMeter, "oauth.audit.events.dropped", "Audit events suppressed by the audit rate limiter", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
	}

	var err error
	for _, c := range counters {
		*c.dst, err = c.meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
	}{
		{&m.StorageClientsCount, "storage.clients.count", "Number of registered clients"},
		{&m.StorageUsersCount, "storage.users.count", "Number of stored users"},
		{&m.StorageAuthorizationCodesCount, "storage.authorization_codes.count", "Number of stored authorization codes"},
		{&m.StorageAccessTokensCount, "storage.access_tokens.count", "Number of stored access tokens"},
		{&m.StorageRefreshTokensCount, "storage.refresh_tokens.count", "Number of stored refresh tokens"},
	}
	for _, g := range gauges {
		*g.dst, err = storageMeter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("{record}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordAuthorizationCodeIssued records a code minted by the authorization endpoint
func (m *Metrics) RecordAuthorizationCodeIssued(ctx context.Context, clientID string) {
	m.AuthorizationCodeIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenIssued records an access token issued by grant type
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType, clientID string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRefresh records a token refresh operation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, tokenType string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", tokenType),
	))
}

// RecordIntrospection records an introspection and its outcome
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool, tokenType string) {
	m.Introspections.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("active", active),
		attribute.String("token_type", tokenType),
	))
}

// RecordOAuthError records a protocol error returned from an endpoint
func (m *Metrics) RecordOAuthError(ctx context.Context, endpoint, code string) {
	m.OAuthErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("error", code),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordCleanup records records removed by a cleanup sweep
func (m *Metrics) RecordCleanup(ctx context.Context, kind string, removed int) {
	if removed <= 0 {
		return
	}
	m.CleanupRemoved.Add(ctx, int64(removed), metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordAuditEventDropped records an audit event suppressed by rate limiting
func (m *Metrics) RecordAuditEventDropped(ctx context.Context, eventType string) {
	m.AuditEventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
