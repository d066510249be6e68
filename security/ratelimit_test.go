package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, 0, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-1") {
			t.Fatalf("Allow() request %d should be allowed", i+1)
		}
	}
	if rl.Allow("client-1") {
		t.Error("Allow() should return false after burst")
	}
	if !rl.Allow("client-2") {
		t.Error("Allow() for a different key should be allowed")
	}

	now = now.Add(time.Second)
	if !rl.Allow("client-1") {
		t.Error("Allow() should refill after one second")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1, 3, nil)

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("key-%d", i))
	}

	stats := rl.GetStats()
	if stats.CurrentEntries != 3 {
		t.Errorf("CurrentEntries = %d, want 3", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 2 {
		t.Errorf("TotalEvictions = %d, want 2", stats.TotalEvictions)
	}
	if _, ok := rl.limiters["key-0"]; ok {
		t.Error("oldest key should have been evicted")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, 0, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("fresh")

	if removed := rl.Cleanup(30 * time.Minute); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, ok := rl.limiters["fresh"]; !ok {
		t.Error("fresh limiter should survive cleanup")
	}
	if stats := rl.GetStats(); stats.TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", stats.TotalCleanups)
	}
}
