// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server and its storage adapters.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-authorization-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//		MeterProvider:  meterProvider, // optional, an SDK provider is built otherwise
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv, err := server.New(store, cfg, logger, server.WithInstrumentation(inst))
//
// # Available Metrics
//
// Server:
//   - oauth.authorization_code.issued{client_id}
//   - oauth.token.issued{grant_type, client_id}
//   - oauth.token.refreshed{client_id, rotated}
//   - oauth.token.revoked{token_type}
//   - oauth.introspection.total{active, token_type}
//   - oauth.errors.total{endpoint, error}
//   - oauth.client.registered{client_type}
//   - oauth.cleanup.removed{kind}
//
// Security:
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.audit.events.total{event_type}
//   - oauth.audit.events.dropped{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.clients.count, storage.users.count, storage.authorization_codes.count,
//     storage.access_tokens.count, storage.refresh_tokens.count
//
// # Tracing
//
// Spans are created for every handler (server.authorize, server.token,
// server.introspect, server.revoke, server.cleanup, ...) and for storage
// operations (storage.<operation>). Never put token, code or secret values
// on spans; the Attr* keys describe metadata only.
package instrumentation
