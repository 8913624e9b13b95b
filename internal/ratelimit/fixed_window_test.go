package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowEnforcesQuota(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !limiter.Allow("client-a") {
			t.Fatalf("request %d should be within quota", i+1)
		}
	}
	if limiter.Allow("client-a") {
		t.Fatalf("request over quota should be rejected")
	}
	// Other keys have their own window.
	if !limiter.Allow("client-b") {
		t.Fatalf("distinct key should not share quota")
	}
}

func TestFixedWindowFailsClosedOnRedisOutage(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv.Close()
	if limiter.Allow("client-a") {
		t.Fatalf("expected fail-closed on redis outage")
	}
}

func TestNewLimiterValidatesArguments(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "p", 1, time.Minute); err == nil {
		t.Fatalf("expected error for missing addr")
	}
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "p", 0, time.Minute); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
}
