package http

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	limiter := newRateLimiter(2, 20*time.Millisecond)
	stop := make(chan struct{})
	defer close(stop)
	limiter.startReset(stop)

	if !limiter.allow() || !limiter.allow() {
		t.Fatalf("first two frames should pass")
	}
	if limiter.allow() {
		t.Fatalf("third frame should be limited")
	}

	deadline := time.Now().Add(time.Second)
	for !limiter.allow() {
		if time.Now().After(deadline) {
			t.Fatalf("limiter never reset")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newRateLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		if !limiter.allow() {
			t.Fatalf("disabled limiter rejected frame %d", i)
		}
	}
}
