package instrumentation_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config instrumentation.Config
	}{
		{name: "disabled", config: instrumentation.Config{Enabled: false}},
		{name: "enabled with sdk providers", config: instrumentation.Config{Enabled: true, ServiceName: "test", ServiceVersion: "1.0.0"}},
		{name: "enabled with defaults", config: instrumentation.Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := instrumentation.New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Meter("server") == nil {
				t.Error("Meter() returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer() returned nil")
			}
			if inst.Metrics() == nil {
				t.Fatal("Metrics() returned nil")
			}

			// recording must never panic, enabled or not
			ctx := context.Background()
			m := inst.Metrics()
			m.RecordAuthorizationCodeIssued(ctx, "c1")
			m.RecordTokenIssued(ctx, "client_credentials", "c1")
			m.RecordTokenRefresh(ctx, "c1", true)
			m.RecordTokenRevocation(ctx, "access_token")
			m.RecordIntrospection(ctx, false, "")
			m.RecordOAuthError(ctx, "token", "invalid_grant")
			m.RecordCleanup(ctx, "access_tokens", 3)
			m.RecordPKCEValidationFailed(ctx, "S256")
			m.RecordCodeReuseDetected(ctx)
			m.RecordStorageOperation(ctx, "get_client", "success", 0.4)
		})
	}
}

func TestNewNoop(t *testing.T) {
	inst := instrumentation.NewNoop()
	if inst.Metrics() == nil {
		t.Fatal("NewNoop() returned no metrics")
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestMetrics_Recorded(t *testing.T) {
	reader := testutil.NewMetricReader(t)
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MeterProvider: reader.Provider})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordTokenIssued(ctx, "client_credentials", "c1")
	m.RecordTokenIssued(ctx, "client_credentials", "c2")
	m.RecordTokenIssued(ctx, "authorization_code", "c1")
	m.RecordCleanup(ctx, "authorization_codes", 4)
	m.RecordCleanup(ctx, "authorization_codes", 0)

	if got := reader.Sum(t, "oauth.token.issued"); got != 3 {
		t.Errorf("oauth.token.issued = %d, want 3", got)
	}
	if got := reader.Sum(t, "oauth.token.issued", attribute.String("grant_type", "client_credentials")); got != 2 {
		t.Errorf("oauth.token.issued{client_credentials} = %d, want 2", got)
	}
	if got := reader.Sum(t, "oauth.cleanup.removed", attribute.String("kind", "authorization_codes")); got != 4 {
		t.Errorf("oauth.cleanup.removed = %d, want 4", got)
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	reader := testutil.NewMetricReader(t)
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MeterProvider: reader.Provider})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizeCallbacks{
		Clients:      func() int64 { return 7 },
		AccessTokens: func() int64 { return 2 },
	})
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	if got := reader.Gauge(t, "storage.clients.count"); got != 7 {
		t.Errorf("storage.clients.count = %d, want 7", got)
	}
	if got := reader.Gauge(t, "storage.access_tokens.count"); got != 2 {
		t.Errorf("storage.access_tokens.count = %d, want 2", got)
	}
}

func TestStorageTracker(t *testing.T) {
	reader := testutil.NewMetricReader(t)
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MeterProvider: reader.Provider})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	tracker := instrumentation.NewStorageTracker(inst, "memory")
	_, done := tracker.Start(context.Background(), "get_client")
	done(nil)
	_, done = tracker.Start(context.Background(), "get_client")
	done(errors.New("boom"))

	if got := reader.Sum(t, "storage.operation.total", attribute.String("result", "success")); got != 1 {
		t.Errorf("success operations = %d, want 1", got)
	}
	if got := reader.Sum(t, "storage.operation.total", attribute.String("result", "error")); got != 1 {
		t.Errorf("error operations = %d, want 1", got)
	}

	// zero tracker is inert
	var inert instrumentation.StorageTracker
	_, done = inert.Start(context.Background(), "noop")
	done(nil)
}
