package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/security"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/token"
)

const (
	// tokenIDLogLength is how much of a token or code may appear in logs.
	tokenIDLogLength = 8

	// randomTokenBytes is the entropy of codes, opaque tokens and secrets.
	randomTokenBytes = 32

	// Audit throttling for repeated failures per client.
	auditEventsPerSecond = 1
	auditEventBurst      = 10
)

// Server implements the OAuth 2.1 authorization core on top of an injected
// storage.Store. It is safe for concurrent use.
type Server struct {
	store  storage.Store
	signer *token.Signer

	Auditor         *security.Auditor
	AuditLimiter    *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithInstrumentation records metrics and spans through inst.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Server) {
		s.Instrumentation = inst
	}
}

// WithAuditor replaces the default security auditor.
func WithAuditor(auditor *security.Auditor) Option {
	return func(s *Server) {
		s.Auditor = auditor
	}
}

// New creates a new OAuth server. A nil config uses DefaultConfig with an
// empty issuer, which fails validation.
func New(store storage.Store, config *Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = DefaultConfig("")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logSecurityWarnings(config, logger)

	srv := &Server{
		store:  store,
		Config: config,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(srv)
	}

	if srv.Instrumentation == nil {
		srv.Instrumentation = instrumentation.NewNoop()
	}
	srv.metrics = srv.Instrumentation.Metrics()
	srv.tracer = srv.Instrumentation.Tracer("server")

	if srv.Auditor == nil {
		srv.AuditLimiter = security.NewRateLimiter(auditEventsPerSecond, auditEventBurst, 0, logger)
		srv.Auditor = security.NewAuditor(logger, config.AuditEnabled)
		srv.Auditor.SetRateLimiter(srv.AuditLimiter)
		srv.Auditor.SetMetrics(srv.metrics)
	}

	if config.JWTSecret != "" {
		signer, err := token.NewSigner(config.JWTSecret, config.JWTAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("failed to create token signer: %w", err)
		}
		srv.signer = signer.WithClock(config.Now)
	}

	return srv, nil
}

// Store returns the storage backend the server was built with.
func (s *Server) Store() storage.Store {
	return s.store
}

func (s *Server) now() time.Time {
	return s.Config.Now()
}

// startSpan opens a handler span. The returned func ends it, recording err
// as a span error and OAuth error metric.
func (s *Server) startSpan(ctx context.Context, name, endpoint string) (context.Context, trace.Span, func(error)) {
	ctx, span := s.tracer.Start(ctx, name)
	return ctx, span, func(err error) {
		defer span.End()
		if err == nil {
			instrumentation.SetSpanSuccess(span)
			return
		}
		instrumentation.RecordError(span, err)
		s.metrics.RecordOAuthError(ctx, endpoint, ErrorCode(err))
	}
}

// storageFault wraps a storage error that is not a protocol outcome.
func (s *Server) storageFault(ctx context.Context, op string, err error) error {
	s.Logger.ErrorContext(ctx, "storage operation failed", "operation", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}
