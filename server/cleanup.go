package server

import (
	"context"
	"sync"
	"time"

	"github.com/mcpresso/mcpresso-oauth/security"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// Cleanup kinds reported in metrics and logs.
const (
	CleanupKindAuthorizationCode = "authorization_code"
	CleanupKindAccessToken       = "access_token"
	CleanupKindRefreshToken      = "refresh_token"
)

// Cleanup deletes expired authorization codes, access tokens and refresh
// tokens, and evicts idle audit limiter entries. Every read path checks
// expiry itself, so skipping or delaying cleanup never affects outcomes.
func (s *Server) Cleanup(ctx context.Context) (result CleanupResult, err error) {
	ctx, _, done := s.startSpan(ctx, "server.cleanup", "cleanup")
	defer func() { done(err) }()

	now := s.now()

	result.AuthorizationCodes, err = s.store.CleanupExpiredAuthorizationCodes(ctx, now)
	if err != nil {
		return result, s.storageFault(ctx, "cleanup authorization codes", err)
	}
	s.metrics.RecordCleanup(ctx, CleanupKindAuthorizationCode, result.AuthorizationCodes)

	result.AccessTokens, err = s.store.CleanupExpiredAccessTokens(ctx, now)
	if err != nil {
		return result, s.storageFault(ctx, "cleanup access tokens", err)
	}
	s.metrics.RecordCleanup(ctx, CleanupKindAccessToken, result.AccessTokens)

	result.RefreshTokens, err = s.store.CleanupExpiredRefreshTokens(ctx, now)
	if err != nil {
		return result, s.storageFault(ctx, "cleanup refresh tokens", err)
	}
	s.metrics.RecordCleanup(ctx, CleanupKindRefreshToken, result.RefreshTokens)

	if s.AuditLimiter != nil {
		result.AuditLimiterKeys = s.AuditLimiter.Cleanup(security.DefaultRateLimiterIdleTime)
	}

	if result.Total() > 0 {
		s.Logger.InfoContext(ctx, "Cleaned up expired records",
			"authorization_codes", result.AuthorizationCodes,
			"access_tokens", result.AccessTokens,
			"refresh_tokens", result.RefreshTokens)
	}
	return result, nil
}

// GetStats returns record counts from the store.
func (s *Server) GetStats(ctx context.Context) (storage.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return storage.Stats{}, s.storageFault(ctx, "stats", err)
	}
	return stats, nil
}

// CleanupScheduler runs Server.Cleanup on a fixed interval in a background
// goroutine. Stop halts the ticker and waits for a running pass to end.
type CleanupScheduler struct {
	server   *Server
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewCleanupScheduler returns a scheduler for srv. A non-positive interval
// uses the server's CleanupInterval.
func NewCleanupScheduler(srv *Server, interval time.Duration) *CleanupScheduler {
	if interval <= 0 {
		interval = srv.Config.CleanupInterval
	}
	return &CleanupScheduler{server: srv, interval: interval}
}

// Interval returns the sweep period.
func (c *CleanupScheduler) Interval() time.Duration {
	return c.interval
}

// Start begins periodic cleanup. Calling Start on a running scheduler does
// nothing.
func (c *CleanupScheduler) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})

	go c.run(ctx, c.stopped)

	c.server.Logger.Info("Started cleanup scheduler", "interval", c.interval)
}

// Stop ends periodic cleanup. It is safe to call more than once.
func (c *CleanupScheduler) Stop() {
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.cancel, c.stopped = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped

	c.server.Logger.Info("Stopped cleanup scheduler")
}

func (c *CleanupScheduler) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.server.Cleanup(ctx); err != nil && ctx.Err() == nil {
				c.server.Logger.Error("Cleanup pass failed", "error", err)
			}
		}
	}
}
