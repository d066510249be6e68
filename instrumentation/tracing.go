package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: never set these to credential values (tokens, codes,
// secrets, verifiers). Record metadata such as grant type, scope and result.
const (
	AttrClientID   = "oauth.client_id"
	AttrUserID     = "oauth.user_id"
	AttrScope      = "oauth.scope"
	AttrResource   = "oauth.resource"
	AttrPKCEMethod = "oauth.pkce.method"
	AttrGrantType  = "oauth.grant_type"
	AttrTokenType  = "oauth.token_type" //nolint:gosec // token kind, not the token
	AttrRotated    = "oauth.token.rotated"
	AttrActive     = "oauth.token.active"
	AttrError      = "oauth.error"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// StorageTracker instruments storage adapters. The zero value records nothing.
type StorageTracker struct {
	inst        *Instrumentation
	tracer      trace.Tracer
	storageType string
}

// NewStorageTracker returns a tracker for the adapter named storageType.
// A nil inst yields an inert tracker.
func NewStorageTracker(inst *Instrumentation, storageType string) StorageTracker {
	if inst == nil {
		return StorageTracker{storageType: storageType}
	}
	return StorageTracker{inst: inst, tracer: inst.Tracer("storage"), storageType: storageType}
}

// Start opens a span for operation and returns a function that ends it,
// recording the result and duration. Call it with the operation's error.
func (t StorageTracker) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	if t.tracer == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(AttrStorageOperation, operation),
			attribute.String(AttrStorageType, t.storageType),
		))

	return ctx, func(err error) {
		result := "success"
		if err != nil {
			result = "error"
			RecordError(span, err)
		} else {
			SetSpanSuccess(span)
		}
		span.SetAttributes(attribute.String(AttrStorageResult, result))
		span.End()

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		t.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
	}
}
