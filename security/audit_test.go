package security

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newBufferedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewAuditor(logger, enabled), &buf
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestAuditor_LogTokenIssued(t *testing.T) {
	a, buf := newBufferedAuditor(true)

	a.LogTokenIssued(context.Background(), "user-123", "client-1", "authorization_code", "read write")

	records := decodeRecords(t, buf)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec["msg"] != "security_audit" {
		t.Errorf("msg = %v, want security_audit", rec["msg"])
	}
	if rec["event_type"] != EventTokenIssued {
		t.Errorf("event_type = %v", rec["event_type"])
	}
	if rec["client_id"] != "client-1" {
		t.Errorf("client_id = %v", rec["client_id"])
	}
	if strings.Contains(buf.String(), "user-123") {
		t.Error("raw user id leaked into audit log")
	}
	if rec["user_id_hash"] != hashForLogging("user-123") {
		t.Errorf("user_id_hash = %v", rec["user_id_hash"])
	}
}

func TestAuditor_Disabled(t *testing.T) {
	a, buf := newBufferedAuditor(false)
	a.LogAuthFailure(context.Background(), "", "client-1", "bad secret")
	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote %q", buf.String())
	}
}

func TestAuditor_RateLimitsFailures(t *testing.T) {
	a, buf := newBufferedAuditor(true)
	a.SetRateLimiter(NewRateLimiter(0.0001, 2, 0, nil))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		a.LogAuthFailure(ctx, "", "client-1", "bad secret")
	}
	// unthrottled event types still pass
	a.LogTokenRevoked(ctx, "u", "client-1", "access_token", 1)

	records := decodeRecords(t, buf)
	failures := 0
	for _, r := range records {
		if r["event_type"] == EventAuthFailure {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("logged %d auth failures, want 2 (burst)", failures)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q", got)
	}
	h := hashForLogging("user")
	if len(h) != 16 {
		t.Errorf("len(hash) = %d, want 16", len(h))
	}
	if h != hashForLogging("user") {
		t.Error("hash is not deterministic")
	}
	if h == hashForLogging("other") {
		t.Error("different inputs hash equal")
	}
}
