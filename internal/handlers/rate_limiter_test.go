package handlers

import (
	"testing"
	"time"
)

func TestFixedWindowLimiter(t *testing.T) {
	now := testNow
	limiter := newFixedWindowLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("buyer_1"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	now = now.Add(15 * time.Second)
	ok, wait := limiter.Allow("buyer_1")
	if ok {
		t.Fatalf("third request should be refused")
	}
	if wait != 45*time.Second {
		t.Fatalf("expected 45s wait, got %s", wait)
	}
	if ok, _ := limiter.Allow("buyer_2"); !ok {
		t.Fatalf("other keys have their own window")
	}

	now = now.Add(45 * time.Second)
	if ok, _ := limiter.Allow("buyer_1"); !ok {
		t.Fatalf("window should have reset")
	}
}

func TestFixedWindowLimiter_Disabled(t *testing.T) {
	if limiter := newFixedWindowLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
}

func TestFixedWindowLimiter_BlankKey(t *testing.T) {
	limiter := newFixedWindowLimiter(1, time.Minute, func() time.Time { return testNow })
	if ok, _ := limiter.Allow(" "); !ok {
		t.Fatalf("first anonymous request should pass")
	}
	if ok, _ := limiter.Allow(""); ok {
		t.Fatalf("blank keys share the anonymous bucket")
	}
}
